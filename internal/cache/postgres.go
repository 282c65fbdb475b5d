package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	// Register the postgres driver.
	_ "github.com/lib/pq"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidTableName is returned for table names that are not plain
// identifiers.
var ErrInvalidTableName = errors.New("invalid table name")

// PostgresCache stores one document per key in a PostgreSQL table. Rows past
// their expiry are ignored by Get and removed by PurgeExpired.
type PostgresCache struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

var _ apiclient.Cache = (*PostgresCache)(nil)

// PostgresOption configures a PostgresCache.
type PostgresOption func(*PostgresCache)

// WithPostgresClock replaces the clock used for expiry checks.
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(c *PostgresCache) { c.now = now }
}

// NewPostgresCache creates a PostgresCache using table on db.
func NewPostgresCache(db *sql.DB, table string, opts ...PostgresOption) (*PostgresCache, error) {
	if table == "" {
		table = constants.DefaultPostgresTable
	}

	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}

	c := &PostgresCache{
		db:    db,
		table: table,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// OpenPostgres opens dsn with the lib/pq driver and waits for the server.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	err = WaitReady(ctx, constants.BackendConnectAttempts, constants.BackendConnectDelay, db.PingContext)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// EnsureSchema creates the table and its expiry index when missing.
func (c *PostgresCache) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + c.table + ` (
			id TEXT PRIMARY KEY,
			http_code INTEGER NOT NULL,
			headers JSONB NOT NULL,
			body JSONB NOT NULL,
			expires TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + c.table + `_expires_idx ON ` + c.table + ` (expires)`,
	}

	for _, statement := range statements {
		_, err := c.db.ExecContext(ctx, statement)
		if err != nil {
			return fmt.Errorf("ensuring cache schema: %w", err)
		}
	}

	return nil
}

// Get implements apiclient.Cache.
func (c *PostgresCache) Get(ctx context.Context, key string) (*apiclient.Response, error) {
	resp, _, err := c.Lookup(ctx, key)

	return resp, err
}

// Lookup implements apiclient.ExpiryLookup.
func (c *PostgresCache) Lookup(ctx context.Context, key string) (*apiclient.Response, time.Time, error) {
	var (
		httpCode int
		headers  []byte
		body     []byte
		expires  time.Time
	)

	err := c.db.QueryRowContext(ctx,
		`SELECT http_code, headers, body, expires FROM `+c.table+` WHERE id = $1 AND expires > $2`,
		key, c.now().UTC(),
	).Scan(&httpCode, &headers, &body, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, apiclient.ErrCacheMiss
	}

	if err != nil {
		return nil, time.Time{}, fmt.Errorf("postgres cache get: %w", err)
	}

	var decoded http.Header

	err = json.Unmarshal(headers, &decoded)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: headers: %w", apiclient.ErrInvalidCacheEntry, err)
	}

	resp, err := apiclient.NewResponse(httpCode, decoded, body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", apiclient.ErrInvalidCacheEntry, err)
	}

	return resp, expires, nil
}

// Set implements apiclient.Cache.
func (c *PostgresCache) Set(ctx context.Context, key string, resp *apiclient.Response, expiresAt time.Time) error {
	expiresAt, ok, err := apiclient.ResolveExpiry(resp, expiresAt)
	if err != nil || !ok {
		return err
	}

	headers, err := json.Marshal(resp.Headers())
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO `+c.table+` (id, http_code, headers, body, expires) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET http_code = EXCLUDED.http_code, headers = EXCLUDED.headers,
		body = EXCLUDED.body, expires = EXCLUDED.expires`,
		key, resp.HTTPCode(), string(headers), string(resp.Body()), expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres cache set: %w", err)
	}

	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (c *PostgresCache) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE expires <= $1`, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purging expired cache rows: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging expired cache rows: %w", err)
	}

	return removed, nil
}

// Close closes the database.
func (c *PostgresCache) Close() error {
	return c.db.Close()
}
