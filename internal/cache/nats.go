package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/nats-io/nats.go"
)

// NATSConfig configures a JetStream key-value bucket.
type NATSConfig struct {
	// URL of the NATS server.
	URL string

	// Bucket is created on first use when missing.
	Bucket string

	// TTL bounds how long the bucket retains any entry. Entries also carry
	// their own expiry.
	TTL time.Duration
}

// NATSCache stores responses in a JetStream key-value bucket. Keys are base64
// URL encoded to fit the bucket key alphabet.
type NATSCache struct {
	kv   nats.KeyValue
	conn *nats.Conn
	now  func() time.Time
}

var _ apiclient.Cache = (*NATSCache)(nil)

// NATSOption configures a NATSCache.
type NATSOption func(*NATSCache)

// WithNATSClock replaces the clock used to detect expired entries.
func WithNATSClock(now func() time.Time) NATSOption {
	return func(c *NATSCache) { c.now = now }
}

// NewNATSCache creates a NATSCache on an existing bucket.
func NewNATSCache(kv nats.KeyValue, opts ...NATSOption) *NATSCache {
	c := &NATSCache{
		kv:  kv,
		now: time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DialNATS connects to cfg.URL and opens, or creates, cfg.Bucket.
func DialNATS(ctx context.Context, cfg NATSConfig, opts ...NATSOption) (*NATSCache, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	if cfg.Bucket == "" {
		cfg.Bucket = constants.DefaultNATSBucket
	}

	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultNATSBucketTTL
	}

	var conn *nats.Conn

	err := WaitReady(ctx, constants.BackendConnectAttempts, constants.BackendConnectDelay, func(context.Context) error {
		var err error

		conn, err = nats.Connect(cfg.URL, nats.Name("apiclient"))

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("opening JetStream: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "apiclient response cache",
			TTL:         cfg.TTL,
		})
	}

	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("opening bucket %q: %w", cfg.Bucket, err)
	}

	c := NewNATSCache(kv, opts...)
	c.conn = conn

	return c, nil
}

// Close closes the connection opened by DialNATS.
func (c *NATSCache) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func natsKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Get implements apiclient.Cache.
func (c *NATSCache) Get(ctx context.Context, key string) (*apiclient.Response, error) {
	resp, _, err := c.Lookup(ctx, key)

	return resp, err
}

// Lookup implements apiclient.ExpiryLookup.
func (c *NATSCache) Lookup(_ context.Context, key string) (*apiclient.Response, time.Time, error) {
	storedKey := natsKey(key)

	kvEntry, err := c.kv.Get(storedKey)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, time.Time{}, apiclient.ErrCacheMiss
	}

	if err != nil {
		return nil, time.Time{}, fmt.Errorf("nats kv get: %w", err)
	}

	resp, expiresAt, err := DecodeEntry(kvEntry.Value())
	if err != nil {
		return nil, time.Time{}, err
	}

	if !expiresAt.IsZero() && !c.now().Before(expiresAt) {
		_ = c.kv.Delete(storedKey)

		return nil, time.Time{}, fmt.Errorf("%w: entry expired", apiclient.ErrCacheMiss)
	}

	return resp, expiresAt, nil
}

// Set implements apiclient.Cache.
func (c *NATSCache) Set(_ context.Context, key string, resp *apiclient.Response, expiresAt time.Time) error {
	expiresAt, ok, err := apiclient.ResolveExpiry(resp, expiresAt)
	if err != nil || !ok {
		return err
	}

	if !expiresAt.After(c.now()) {
		return nil
	}

	data, err := EncodeEntry(resp, expiresAt)
	if err != nil {
		return err
	}

	_, err = c.kv.Put(natsKey(key), data)
	if err != nil {
		return fmt.Errorf("nats kv put: %w", err)
	}

	return nil
}
