package apiclient

import (
	"context"
	"time"
)

// Transport executes HTTP requests asynchronously. Start registers a request
// and returns an opaque handle; End blocks until the handle's response is
// available. Implementations must be safe for concurrent use.
type Transport interface {
	Start(ctx context.Context, req *Request) (string, error)
	End(ctx context.Context, handle string) (*Response, error)
}

// Cache stores responses keyed by CacheKey.
//
// Get returns ErrCacheMiss when no usable entry exists. Set with a zero
// expiresAt derives the expiry from the response Expires header and skips
// caching when there is none (see ResolveExpiry).
type Cache interface {
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, resp *Response, expiresAt time.Time) error
}

// ExpiryLookup is implemented by caches that can report when an entry
// expires. CacheChain uses it to back-fill earlier levels with the same expiry.
type ExpiryLookup interface {
	Lookup(ctx context.Context, key string) (*Response, time.Time, error)
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Metrics receives client level events.
type Metrics interface {
	// ObserveResponse records a response returned to the caller. source is
	// "transport", "retry" or "cache".
	ObserveResponse(method, source string, httpCode int)
	// IncTokenRequest records a token acquisition round trip.
	IncTokenRequest(grant string)
	// IncExpiredTokenRetry records a retry caused by an expired token.
	IncExpiredTokenRetry()
	// IncCacheLookup records a cache read. scope is "get" or "token".
	IncCacheLookup(scope string, hit bool)
}

// Response sources reported to Metrics.
const (
	SourceTransport = "transport"
	SourceRetry     = "retry"
	SourceCache     = "cache"
)

// Cache lookup scopes reported to Metrics.
const (
	ScopeGet   = "get"
	ScopeToken = "token"
)

type noopLogger struct{}

func (noopLogger) Debug(string, map[string]interface{}) {}
func (noopLogger) Info(string, map[string]interface{})  {}
func (noopLogger) Warn(string, map[string]interface{})  {}
func (noopLogger) Error(string, map[string]interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}

type noopMetrics struct{}

func (noopMetrics) ObserveResponse(string, string, int) {}
func (noopMetrics) IncTokenRequest(string)              {}
func (noopMetrics) IncExpiredTokenRetry()               {}
func (noopMetrics) IncCacheLookup(string, bool)         {}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}
