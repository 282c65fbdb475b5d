package restclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/cache"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/redis/go-redis/v9"
)

// CacheType represents the type of cache backend.
type CacheType string

const (
	// CacheTypeMemory represents in-memory cache.
	CacheTypeMemory CacheType = "memory"

	// CacheTypeRedis represents a Redis key-value cache.
	CacheTypeRedis CacheType = "redis"

	// CacheTypeNATS represents NATS KV cache.
	CacheTypeNATS CacheType = "nats"

	// CacheTypePostgres represents a PostgreSQL document cache.
	CacheTypePostgres CacheType = "postgres"

	// CacheTypeNone represents no caching.
	CacheTypeNone CacheType = "none"

	// CacheTypeChain layers the backends named in CacheConfig.Levels.
	CacheTypeChain CacheType = "chain"
)

// Static errors for err113 compliance.
var (
	ErrRedisConfigRequired    = errors.New("redis configuration required for redis cache")
	ErrNATSConfigRequired     = errors.New("NATS configuration required for NATS cache")
	ErrPostgresConfigRequired = errors.New("postgres configuration required for postgres cache")
	ErrUnsupportedCacheType   = errors.New("unsupported cache type")
	ErrChainLevelsRequired    = errors.New("cache levels required for chain cache")
)

// CacheConfig configures cache backend.
type CacheConfig struct {
	// Type is the cache backend type
	Type CacheType

	// Memory cache configuration
	Memory *MemoryCacheConfig

	// Redis cache configuration
	Redis *RedisConfig

	// NATS KV cache configuration
	NATS *NATSConfig

	// PostgreSQL cache configuration
	Postgres *PostgresConfig

	// Levels lists the chain backends, fastest first, for CacheTypeChain.
	Levels []CacheType
}

// MemoryCacheConfig configures memory cache.
type MemoryCacheConfig struct {
	// MaxSize is the maximum number of items in the cache
	MaxSize int

	// CleanupInterval is the interval for cleaning up expired entries.
	// Zero disables background cleanup.
	CleanupInterval time.Duration
}

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NATSConfig configures the NATS KV cache.
type NATSConfig struct {
	URL    string
	Bucket string
	TTL    time.Duration
}

// PostgresConfig configures the PostgreSQL cache.
type PostgresConfig struct {
	DSN   string
	Table string

	// EnsureSchema creates the table and index on connect.
	EnsureSchema bool
}

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Type: CacheTypeMemory,
		Memory: &MemoryCacheConfig{
			MaxSize:         constants.DefaultCacheSize,
			CleanupInterval: constants.DefaultCleanupInterval,
		},
	}
}

// closingCache pairs a backend with the release of its connection.
type closingCache struct {
	apiclient.Cache

	close func() error
}

func (c *closingCache) Close() error {
	return c.close()
}

// Lookup forwards to the wrapped backend so chains keep stored expiries.
func (c *closingCache) Lookup(ctx context.Context, key string) (*apiclient.Response, time.Time, error) {
	if expiring, ok := c.Cache.(apiclient.ExpiryLookup); ok {
		return expiring.Lookup(ctx, key)
	}

	resp, err := c.Get(ctx, key)

	return resp, time.Time{}, err
}

var (
	_ io.Closer              = (*closingCache)(nil)
	_ apiclient.ExpiryLookup = (*closingCache)(nil)
)

// NewCacheFromConfig creates a cache backend from configuration. Backends
// holding a connection implement io.Closer. ctx bounds connection setup and,
// for the memory cache, the background cleanup loop.
func NewCacheFromConfig(ctx context.Context, config *CacheConfig) (apiclient.Cache, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	switch config.Type {
	case CacheTypeMemory, "":
		return NewMemoryCacheFromConfig(ctx, config.Memory), nil

	case CacheTypeRedis:
		if config.Redis == nil {
			return nil, ErrRedisConfigRequired
		}

		return newRedisCache(ctx, config.Redis)

	case CacheTypeNATS:
		if config.NATS == nil {
			return nil, ErrNATSConfigRequired
		}

		return newNATSCache(ctx, config.NATS)

	case CacheTypePostgres:
		if config.Postgres == nil || config.Postgres.DSN == "" {
			return nil, ErrPostgresConfigRequired
		}

		return newPostgresCache(ctx, config.Postgres)

	case CacheTypeNone:
		return apiclient.NewNoOpCache(), nil

	case CacheTypeChain:
		return newChainCache(ctx, config)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCacheType, config.Type)
	}
}

// NewMemoryCacheFromConfig creates a memory cache from configuration.
func NewMemoryCacheFromConfig(ctx context.Context, config *MemoryCacheConfig) *apiclient.MemoryCache {
	if config == nil {
		config = DefaultCacheConfig().Memory
	}

	memoryCache := apiclient.NewMemoryCache(config.MaxSize)
	if config.CleanupInterval > 0 {
		memoryCache.StartCleanup(ctx, config.CleanupInterval)
	}

	return memoryCache
}

func newRedisCache(ctx context.Context, config *RedisConfig) (apiclient.Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	var opts []cache.RedisOption
	if config.Prefix != "" {
		opts = append(opts, cache.WithRedisPrefix(config.Prefix))
	}

	redisCache := cache.NewRedisCache(client, opts...)

	err := cache.WaitReady(ctx, constants.BackendConnectAttempts, constants.BackendConnectDelay, redisCache.Ping)
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connecting to redis at %s: %w", config.Addr, err)
	}

	return &closingCache{Cache: redisCache, close: client.Close}, nil
}

func newNATSCache(ctx context.Context, config *NATSConfig) (apiclient.Cache, error) {
	natsCache, err := cache.DialNATS(ctx, cache.NATSConfig{
		URL:    config.URL,
		Bucket: config.Bucket,
		TTL:    config.TTL,
	})
	if err != nil {
		return nil, err
	}

	return &closingCache{Cache: natsCache, close: func() error {
		natsCache.Close()

		return nil
	}}, nil
}

func newPostgresCache(ctx context.Context, config *PostgresConfig) (apiclient.Cache, error) {
	db, err := cache.OpenPostgres(ctx, config.DSN)
	if err != nil {
		return nil, err
	}

	pgCache, err := cache.NewPostgresCache(db, config.Table)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	if config.EnsureSchema {
		err = pgCache.EnsureSchema(ctx)
		if err != nil {
			_ = db.Close()

			return nil, err
		}
	}

	return &closingCache{Cache: pgCache, close: pgCache.Close}, nil
}

// newChainCache builds every level of config.Levels and closes them together.
func newChainCache(ctx context.Context, config *CacheConfig) (apiclient.Cache, error) {
	if len(config.Levels) == 0 {
		return nil, ErrChainLevelsRequired
	}

	var (
		levels  []apiclient.Cache
		closers []io.Closer
	)

	closeAll := func() error {
		var errs []error
		for _, closer := range closers {
			errs = append(errs, closer.Close())
		}

		return errors.Join(errs...)
	}

	for _, levelType := range config.Levels {
		if levelType == CacheTypeChain {
			_ = closeAll()

			return nil, fmt.Errorf("%w: nested chain", ErrUnsupportedCacheType)
		}

		levelConfig := *config
		levelConfig.Type = levelType
		levelConfig.Levels = nil

		level, err := NewCacheFromConfig(ctx, &levelConfig)
		if err != nil {
			_ = closeAll()

			return nil, fmt.Errorf("creating %s cache level: %w", levelType, err)
		}

		if closer, ok := level.(io.Closer); ok {
			closers = append(closers, closer)
		}

		levels = append(levels, level)
	}

	chain := apiclient.NewCacheChain(levels...)
	if len(closers) == 0 {
		return chain, nil
	}

	return &closingCache{Cache: chain, close: closeAll}, nil
}

// CacheBuilder helps build cache configurations.
type CacheBuilder struct {
	config *CacheConfig
}

// NewCacheBuilder creates a new cache builder.
func NewCacheBuilder() *CacheBuilder {
	return &CacheBuilder{
		config: &CacheConfig{
			Type: CacheTypeMemory,
		},
	}
}

// WithType sets the cache type.
func (b *CacheBuilder) WithType(cacheType CacheType) *CacheBuilder {
	b.config.Type = cacheType

	return b
}

// WithMemoryConfig sets memory cache configuration.
func (b *CacheBuilder) WithMemoryConfig(maxSize int, cleanupInterval time.Duration) *CacheBuilder {
	b.config.Memory = &MemoryCacheConfig{
		MaxSize:         maxSize,
		CleanupInterval: cleanupInterval,
	}

	return b
}

// WithRedisConfig sets Redis cache configuration and selects it.
func (b *CacheBuilder) WithRedisConfig(config *RedisConfig) *CacheBuilder {
	b.config.Type = CacheTypeRedis
	b.config.Redis = config

	return b
}

// WithNATSConfig sets NATS cache configuration and selects it.
func (b *CacheBuilder) WithNATSConfig(config *NATSConfig) *CacheBuilder {
	b.config.Type = CacheTypeNATS
	b.config.NATS = config

	return b
}

// WithPostgresConfig sets PostgreSQL cache configuration and selects it.
func (b *CacheBuilder) WithPostgresConfig(config *PostgresConfig) *CacheBuilder {
	b.config.Type = CacheTypePostgres
	b.config.Postgres = config

	return b
}

// WithChain layers the given backends, fastest first, and selects the chain.
// Each level uses the configuration set for its type.
func (b *CacheBuilder) WithChain(levels ...CacheType) *CacheBuilder {
	b.config.Type = CacheTypeChain
	b.config.Levels = levels

	return b
}

// Config returns the configuration built so far.
func (b *CacheBuilder) Config() *CacheConfig {
	return b.config
}

// Build creates the cache from the configuration.
func (b *CacheBuilder) Build(ctx context.Context) (apiclient.Cache, error) {
	return NewCacheFromConfig(ctx, b.config)
}
