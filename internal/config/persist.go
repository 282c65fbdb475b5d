package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"gopkg.in/yaml.v3"
)

// Persister rewrites individual keys of a YAML config file, leaving the
// rest of the document as it was.
type Persister struct {
	mutex sync.Mutex
	path  string
}

// NewPersister creates a Persister for path.
func NewPersister(path string) *Persister {
	return &Persister{path: path}
}

// Path returns the file the persister writes.
func (p *Persister) Path() string {
	return p.path
}

// UpdateTokens stores the access and refresh tokens.
func (p *Persister) UpdateTokens(accessToken, refreshToken string) error {
	return p.Update(map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// Update sets top level keys and writes the file, creating it if needed.
func (p *Persister) Update(values map[string]any) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	document := map[string]any{}

	data, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading config file: %w", err)
	default:
		err = yaml.Unmarshal(data, &document)
		if err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}

		if document == nil {
			document = map[string]any{}
		}
	}

	for key, value := range values {
		document[key] = value
	}

	return p.write(document)
}

// WriteSample writes an annotated starting configuration. An existing file
// is only replaced when force is set.
func (p *Persister) WriteSample(sample *Config, force bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !force {
		_, err := os.Stat(p.path)
		if err == nil {
			return fmt.Errorf("%w: %s", constants.ErrConfigAlreadyExists, p.path)
		}
	}

	return p.write(sample)
}

func (p *Persister) write(document any) error {
	err := os.MkdirAll(filepath.Dir(p.path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(document)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	err = os.WriteFile(p.path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Sample returns the configuration written by WriteSample.
func Sample() *Config {
	return &Config{
		BaseURL:         "https://api.example.com/v1",
		Grant:           constants.GrantClientCredentials,
		ClientID:        "my-client",
		ClientSecret:    "my-secret",
		TokenResource:   constants.DefaultTokenResource,
		RefreshResource: constants.DefaultRefreshResource,
		CacheMode:       "all",
		Cache: CacheConfig{
			Type: "memory",
			Memory: MemoryConfig{
				MaxSize:         constants.DefaultCacheSize,
				CleanupInterval: constants.DefaultCleanupInterval,
			},
			Redis:    RedisConfig{Prefix: constants.DefaultRedisPrefix},
			NATS:     NATSConfig{Bucket: constants.DefaultNATSBucket, TTL: constants.DefaultNATSBucketTTL},
			Postgres: PostgresConfig{Table: constants.DefaultPostgresTable},
		},
		HTTP: HTTPConfig{
			Timeout:        constants.DefaultHTTPTimeout,
			RetryWaitMin:   constants.DefaultRetryWaitMin,
			RetryWaitMax:   constants.DefaultRetryWaitMax,
			UserAgent:      constants.DefaultUserAgent,
			MaxConcurrency: constants.DefaultConcurrencyLimit,
		},
		Log:    LogConfig{Format: "console"},
		Output: constants.FormatTable,
	}
}
