// Package config loads the command line configuration from a YAML file,
// APICLIENT_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/fivetwenty-io/apiclient/pkg/restclient"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by every setting.
const envPrefix = "APICLIENT"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the CLI configuration.
type Config struct {
	BaseURL         string            `mapstructure:"base_url"         validate:"required,url"                                        yaml:"base_url"`
	Grant           string            `mapstructure:"grant"            validate:"oneof=client_credentials password"                   yaml:"grant"`
	ClientID        string            `mapstructure:"client_id"        validate:"required"                                            yaml:"client_id"`
	ClientSecret    string            `mapstructure:"client_secret"    validate:"required"                                            yaml:"client_secret"`
	Username        string            `mapstructure:"username"         validate:"required_if=Grant password"                          yaml:"username,omitempty"`
	Password        string            `mapstructure:"password"         validate:"required_if=Grant password"                          yaml:"password,omitempty"`
	TokenResource   string            `mapstructure:"token_resource"   validate:"required"                                            yaml:"token_resource"`
	RefreshResource string            `mapstructure:"refresh_resource" validate:"required"                                            yaml:"refresh_resource"`
	AccessToken     string            `mapstructure:"access_token"                                                                    yaml:"access_token,omitempty"`
	RefreshToken    string            `mapstructure:"refresh_token"                                                                   yaml:"refresh_token,omitempty"`
	CacheMode       string            `mapstructure:"cache_mode"       validate:"omitempty,oneof=none get token all refresh"          yaml:"cache_mode"`
	Cache           CacheConfig       `mapstructure:"cache"                                                                           yaml:"cache"`
	HTTP            HTTPConfig        `mapstructure:"http"                                                                            yaml:"http"`
	DefaultHeaders  map[string]string `mapstructure:"default_headers"                                                                 yaml:"default_headers,omitempty"`
	Log             LogConfig         `mapstructure:"log"                                                                             yaml:"log"`
	Metrics         MetricsConfig     `mapstructure:"metrics"                                                                         yaml:"metrics"`
	Output          string            `mapstructure:"output"           validate:"oneof=table json yaml"                               yaml:"output"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Type     string         `mapstructure:"type"     validate:"oneof=memory redis nats postgres none chain"          yaml:"type"`
	Levels   []string       `mapstructure:"levels"   validate:"omitempty,dive,oneof=memory redis nats postgres none" yaml:"levels,omitempty"`
	Memory   MemoryConfig   `mapstructure:"memory"                                                                   yaml:"memory"`
	Redis    RedisConfig    `mapstructure:"redis"                                                                    yaml:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"                                                                     yaml:"nats"`
	Postgres PostgresConfig `mapstructure:"postgres"                                                                 yaml:"postgres"`
}

// Uses reports whether the cache section selects backend, directly or as a
// chain level.
func (c CacheConfig) Uses(backend restclient.CacheType) bool {
	if c.Type == string(backend) {
		return true
	}

	return c.Type == string(restclient.CacheTypeChain) && slices.Contains(c.Levels, string(backend))
}

// MemoryConfig configures the in-process cache.
type MemoryConfig struct {
	MaxSize         int           `mapstructure:"max_size"         validate:"gte=0" yaml:"max_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gte=0" yaml:"cleanup_interval"`
}

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"                                       yaml:"addr"`
	Password string `mapstructure:"password"                                   yaml:"password,omitempty"`
	DB       int    `mapstructure:"db"       validate:"gte=0"                  yaml:"db"`
	Prefix   string `mapstructure:"prefix"                                     yaml:"prefix"`
}

// NATSConfig configures the NATS KV cache.
type NATSConfig struct {
	URL    string        `mapstructure:"url"    yaml:"url"`
	Bucket string        `mapstructure:"bucket" yaml:"bucket"`
	TTL    time.Duration `mapstructure:"ttl"    yaml:"ttl"`
}

// PostgresConfig configures the PostgreSQL cache.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"   yaml:"dsn,omitempty"`
	Table string `mapstructure:"table" yaml:"table"`
}

// HTTPConfig configures the transport.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"         validate:"gt=0"  yaml:"timeout"`
	RetryMax       int           `mapstructure:"retry_max"       validate:"gte=0" yaml:"retry_max"`
	RetryWaitMin   time.Duration `mapstructure:"retry_wait_min"  validate:"gte=0" yaml:"retry_wait_min"`
	RetryWaitMax   time.Duration `mapstructure:"retry_wait_max"  validate:"gte=0" yaml:"retry_wait_max"`
	UserAgent      string        `mapstructure:"user_agent"                       yaml:"user_agent"`
	MaxConcurrency int           `mapstructure:"max_concurrency" validate:"gt=0"  yaml:"max_concurrency"`
	Debug          bool          `mapstructure:"debug"                            yaml:"debug"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"omitempty,oneof=debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"          yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr"    validate:"required_if=Enabled true" yaml:"addr"`
}

// defaults are registered with viper so every key can be overridden from the
// environment, even when absent from the file.
var defaults = map[string]any{
	"base_url":                      "",
	"grant":                         constants.GrantClientCredentials,
	"client_id":                     "",
	"client_secret":                 "",
	"username":                      "",
	"password":                      "",
	"token_resource":                constants.DefaultTokenResource,
	"refresh_resource":              constants.DefaultRefreshResource,
	"access_token":                  "",
	"refresh_token":                 "",
	"cache_mode":                    "none",
	"cache.type":                    string(restclient.CacheTypeMemory),
	"cache.levels":                  []string{},
	"cache.memory.max_size":         constants.DefaultCacheSize,
	"cache.memory.cleanup_interval": constants.DefaultCleanupInterval,
	"cache.redis.addr":              "",
	"cache.redis.password":          "",
	"cache.redis.db":                0,
	"cache.redis.prefix":            constants.DefaultRedisPrefix,
	"cache.nats.url":                "",
	"cache.nats.bucket":             constants.DefaultNATSBucket,
	"cache.nats.ttl":                constants.DefaultNATSBucketTTL,
	"cache.postgres.dsn":            "",
	"cache.postgres.table":          constants.DefaultPostgresTable,
	"http.timeout":                  constants.DefaultHTTPTimeout,
	"http.retry_max":                0,
	"http.retry_wait_min":           constants.DefaultRetryWaitMin,
	"http.retry_wait_max":           constants.DefaultRetryWaitMax,
	"http.user_agent":               constants.DefaultUserAgent,
	"http.max_concurrency":          constants.DefaultConcurrencyLimit,
	"http.debug":                    false,
	"log.level":                     "",
	"log.format":                    "console",
	"metrics.enabled":               false,
	"metrics.addr":                  ":9090",
	"output":                        constants.FormatTable,
}

// NewViper builds a viper instance with YAML config type, the APICLIENT_ env
// prefix and every default registered. Nested keys such as "cache.type"
// resolve to APICLIENT_CACHE_TYPE.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

// DefaultDir returns $HOME/.apiclient.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}

	return filepath.Join(home, ".apiclient"), nil
}

// ReadFile points v at path, or at config.yml in DefaultDir when path is
// empty, and reads it. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)

		err := v.ReadInConfig()
		if err != nil {
			return fmt.Errorf("reading config file %q: %w", path, err)
		}

		return nil
	}

	dir, err := DefaultDir()
	if err != nil {
		return err
	}

	v.AddConfigPath(dir)
	v.SetConfigName("config")

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		return fmt.Errorf("reading config: %w", err)
	}

	return nil
}

// Load unmarshals and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	err := v.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the struct tags and cross field rules.
func (c *Config) Validate() error {
	err := validate().Struct(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Cache.Type == string(restclient.CacheTypeChain) && len(c.Cache.Levels) == 0 {
		return fmt.Errorf("%w: cache.levels is required for the chain cache", ErrInvalidConfig)
	}

	if c.Cache.Uses(restclient.CacheTypePostgres) && c.Cache.Postgres.DSN == "" {
		return fmt.Errorf("%w: cache.postgres.dsn is required for the postgres cache", ErrInvalidConfig)
	}

	if c.Cache.Uses(restclient.CacheTypeRedis) && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("%w: cache.redis.addr is required for the redis cache", ErrInvalidConfig)
	}

	return nil
}

// ParsedCacheMode returns the configured cache mode.
func (c *Config) ParsedCacheMode() (apiclient.CacheMode, error) {
	return apiclient.ParseCacheMode(c.CacheMode)
}

// ClientConfig converts c into the library configuration.
func (c *Config) ClientConfig() (*restclient.Config, error) {
	mode, err := c.ParsedCacheMode()
	if err != nil {
		return nil, err
	}

	headers := make(http.Header, len(c.DefaultHeaders))
	for name, value := range c.DefaultHeaders {
		headers.Set(name, value)
	}

	return &restclient.Config{
		BaseURL:         c.BaseURL,
		Grant:           c.Grant,
		ClientID:        c.ClientID,
		ClientSecret:    c.ClientSecret,
		Username:        c.Username,
		Password:        c.Password,
		TokenResource:   c.TokenResource,
		RefreshResource: c.RefreshResource,
		AccessToken:     c.AccessToken,
		RefreshToken:    c.RefreshToken,
		CacheMode:       mode,
		Cache:           c.CacheConfig(),
		HTTPTimeout:     c.HTTP.Timeout,
		RetryMax:        c.HTTP.RetryMax,
		RetryWaitMin:    c.HTTP.RetryWaitMin,
		RetryWaitMax:    c.HTTP.RetryWaitMax,
		UserAgent:       c.HTTP.UserAgent,
		MaxConcurrency:  c.HTTP.MaxConcurrency,
		DefaultHeaders:  headers,
		Debug:           c.HTTP.Debug,
		LogLevel:        c.Log.Level,
	}, nil
}

// CacheConfig converts the cache section into the library configuration.
func (c *Config) CacheConfig() *restclient.CacheConfig {
	var levels []restclient.CacheType
	for _, level := range c.Cache.Levels {
		levels = append(levels, restclient.CacheType(level))
	}

	return &restclient.CacheConfig{
		Type:   restclient.CacheType(c.Cache.Type),
		Levels: levels,
		Memory: &restclient.MemoryCacheConfig{
			MaxSize:         c.Cache.Memory.MaxSize,
			CleanupInterval: c.Cache.Memory.CleanupInterval,
		},
		Redis: &restclient.RedisConfig{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
			Prefix:   c.Cache.Redis.Prefix,
		},
		NATS: &restclient.NATSConfig{
			URL:    c.Cache.NATS.URL,
			Bucket: c.Cache.NATS.Bucket,
			TTL:    c.Cache.NATS.TTL,
		},
		Postgres: &restclient.PostgresConfig{
			DSN:          c.Cache.Postgres.DSN,
			Table:        c.Cache.Postgres.Table,
			EnsureSchema: true,
		},
	}
}

// Masked returns a copy of c with secrets replaced for display.
func (c *Config) Masked() *Config {
	masked := *c

	for _, secret := range []*string{
		&masked.ClientSecret, &masked.Password, &masked.AccessToken,
		&masked.RefreshToken, &masked.Cache.Redis.Password, &masked.Cache.Postgres.DSN,
	} {
		if *secret != "" {
			*secret = constants.MaskedSecret
		}
	}

	return &masked
}

var validatorInstance = validator.New(validator.WithRequiredStructEnabled())

func validate() *validator.Validate {
	return validatorInstance
}
