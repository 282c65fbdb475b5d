package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores responses as JSON blobs that Redis expires on its own.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

var _ apiclient.Cache = (*RedisCache)(nil)

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithRedisPrefix sets the prefix prepended to every key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithRedisClock replaces the clock used to skip already expired entries.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(c *RedisCache) { c.now = now }
}

// NewRedisCache creates a RedisCache on client.
func NewRedisCache(client redis.Cmdable, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: constants.DefaultRedisPrefix,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *RedisCache) fullKey(key string) string {
	return c.prefix + key
}

// Get implements apiclient.Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*apiclient.Response, error) {
	resp, _, err := c.Lookup(ctx, key)

	return resp, err
}

// Lookup implements apiclient.ExpiryLookup.
func (c *RedisCache) Lookup(ctx context.Context, key string) (*apiclient.Response, time.Time, error) {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, apiclient.ErrCacheMiss
	}

	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis get: %w", err)
	}

	return DecodeEntry(data)
}

// Set implements apiclient.Cache.
func (c *RedisCache) Set(ctx context.Context, key string, resp *apiclient.Response, expiresAt time.Time) error {
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

	err = c.client.SetArgs(ctx, c.fullKey(key), string(data), redis.SetArgs{ExpireAt: expiresAt}).Err()
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	err := c.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}
