package commands

import (
	"context"
	"fmt"

	"github.com/fivetwenty-io/apiclient/internal/cache"
	"github.com/fivetwenty-io/apiclient/internal/config"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/restclient"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache backend",
		Long:  "Prepare and maintain the configured response cache backend",
	}

	cmd.AddCommand(newCacheInitCommand(a))
	cmd.AddCommand(newCachePurgeCommand(a))

	return cmd
}

func newCacheInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Prepare the cache backend",
		Long:  "Create the PostgreSQL table, the NATS bucket or check the Redis connection for the configured cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}

			err = initCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cache backend %q is ready\n", cfg.Cache.Type)

			return nil
		},
	}
}

// initCache prepares the configured backend, or every level of a chain.
func initCache(ctx context.Context, cfg *config.Config) error {
	if cfg.Cache.Type != string(restclient.CacheTypeChain) {
		return initBackend(ctx, cfg, restclient.CacheType(cfg.Cache.Type))
	}

	for _, level := range cfg.Cache.Levels {
		err := initBackend(ctx, cfg, restclient.CacheType(level))
		if err != nil {
			return fmt.Errorf("preparing %s cache level: %w", level, err)
		}
	}

	return nil
}

func initBackend(ctx context.Context, cfg *config.Config, backend restclient.CacheType) error {
	switch backend {
	case restclient.CacheTypePostgres:
		pgCache, err := openPostgresCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer pgCache.Close()

		return pgCache.EnsureSchema(ctx)

	case restclient.CacheTypeNATS:
		natsCache, err := cache.DialNATS(ctx, cache.NATSConfig{
			URL:    cfg.Cache.NATS.URL,
			Bucket: cfg.Cache.NATS.Bucket,
			TTL:    cfg.Cache.NATS.TTL,
		})
		if err != nil {
			return err
		}

		natsCache.Close()

		return nil

	case restclient.CacheTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		defer client.Close()

		return cache.NewRedisCache(client).Ping(ctx)

	default:
		return nil
	}
}

func newCachePurgeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired cache entries",
		Long:  "Delete expired rows from the PostgreSQL cache, alone or as a chain level. Redis and NATS expire entries on their own.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}

			if !cfg.Cache.Uses(restclient.CacheTypePostgres) {
				return fmt.Errorf("%w: %s", constants.ErrCacheNotPurgeable, cfg.Cache.Type)
			}

			pgCache, err := openPostgresCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pgCache.Close()

			removed, err := pgCache.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", removed)

			return nil
		},
	}
}

func openPostgresCache(ctx context.Context, cfg *config.Config) (*cache.PostgresCache, error) {
	db, err := cache.OpenPostgres(ctx, cfg.Cache.Postgres.DSN)
	if err != nil {
		return nil, err
	}

	pgCache, err := cache.NewPostgresCache(db, cfg.Cache.Postgres.Table)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return pgCache, nil
}
