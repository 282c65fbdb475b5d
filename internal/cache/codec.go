// Package cache provides apiclient.Cache backends on Redis, NATS JetStream
// key-value buckets and PostgreSQL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
)

// requiredFields must be present in every stored entry.
var requiredFields = []string{"httpCode", "headers", "body"}

type entry struct {
	HTTPCode int             `json:"httpCode"`
	Headers  http.Header     `json:"headers"`
	Body     json.RawMessage `json:"body"`
	Expires  *time.Time      `json:"expires,omitempty"`
}

// EncodeEntry serialises resp. A non-zero expiresAt is stored with it.
func EncodeEntry(resp *apiclient.Response, expiresAt time.Time) ([]byte, error) {
	stored := entry{
		HTTPCode: resp.HTTPCode(),
		Headers:  resp.Headers(),
		Body:     resp.Body(),
	}

	if !expiresAt.IsZero() {
		utc := expiresAt.UTC()
		stored.Expires = &utc
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encoding cache entry: %w", err)
	}

	return data, nil
}

// DecodeEntry rebuilds a response from data produced by EncodeEntry. The
// returned time is zero when no expiry was stored.
func DecodeEntry(data []byte) (*apiclient.Response, time.Time, error) {
	var fields map[string]json.RawMessage

	err := json.Unmarshal(data, &fields)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: data is not an object: %w", apiclient.ErrInvalidCacheEntry, err)
	}

	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return nil, time.Time{}, fmt.Errorf("%w: data is missing %q value", apiclient.ErrInvalidCacheEntry, name)
		}
	}

	var stored entry

	err = json.Unmarshal(data, &stored)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", apiclient.ErrInvalidCacheEntry, err)
	}

	resp, err := apiclient.NewResponse(stored.HTTPCode, stored.Headers, stored.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", apiclient.ErrInvalidCacheEntry, err)
	}

	var expiresAt time.Time
	if stored.Expires != nil {
		expiresAt = *stored.Expires
	}

	return resp, expiresAt, nil
}

// WaitReady calls ping until it succeeds, giving up after attempts tries.
func WaitReady(ctx context.Context, attempts uint, delay time.Duration, ping func(ctx context.Context) error) error {
	err := retry.Do(func() error {
		return ping(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("cache backend not ready: %w", err)
	}

	return nil
}
