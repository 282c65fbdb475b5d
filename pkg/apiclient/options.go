package apiclient

import "net/http"

// Option configures a Client.
type Option func(*Client)

// WithCacheMode sets the caching strategy. The default is CacheModeNone.
func WithCacheMode(mode CacheMode) Option {
	return func(c *Client) {
		c.cacheMode = mode
	}
}

// WithCache sets the response cache. A cache is required whenever the cache
// mode is not CacheModeNone.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithTokens seeds the client with previously obtained tokens.
func WithTokens(accessToken, refreshToken string) Option {
	return func(c *Client) {
		c.accessToken = accessToken
		c.refreshToken = refreshToken
	}
}

// WithDefaultHeaders sets headers sent on every request unless overridden.
func WithDefaultHeaders(headers http.Header) Option {
	return func(c *Client) {
		c.defaultHeaders = cloneHeader(headers)
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. The default records nothing.
func WithMetrics(metrics Metrics) Option {
	return func(c *Client) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}
