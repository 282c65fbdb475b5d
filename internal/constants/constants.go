package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations such as backend probes.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry and concurrency limits.
const (
	// DefaultRetryMax is the default maximum number of transport retries when
	// retries are enabled.
	DefaultRetryMax = 5

	// DefaultRetryWaitMin is the minimum wait time between transport retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between transport retries.
	DefaultRetryWaitMax = 10 * time.Second

	// ExtendedRetryWaitMax is used for operations that need longer waits.
	ExtendedRetryWaitMax = 30 * time.Second

	// DefaultConcurrencyLimit limits in-flight transport requests.
	DefaultConcurrencyLimit = 10

	// BackendConnectAttempts is how often a cache backend is probed before
	// giving up.
	BackendConnectAttempts = 3

	// BackendConnectDelay is the base delay between backend probes.
	BackendConnectDelay = 200 * time.Millisecond
)

// Cache defaults.
const (
	// DefaultCacheSize is the default number of entries kept by the memory cache.
	DefaultCacheSize = 1000

	// DefaultCleanupInterval is how often the memory cache drops expired entries.
	DefaultCleanupInterval = 1 * time.Minute

	// DefaultNATSBucket is the JetStream KV bucket used by the NATS cache.
	DefaultNATSBucket = "apiclient_cache"

	// DefaultNATSBucketTTL bounds how long any entry may live in the NATS bucket.
	DefaultNATSBucketTTL = 24 * time.Hour

	// DefaultRedisPrefix is prepended to every Redis cache key.
	DefaultRedisPrefix = "apiclient:"

	// DefaultPostgresTable is the table used by the PostgreSQL cache.
	DefaultPostgresTable = "api_response_cache"
)

// OAuth2 resources and grants.
const (
	// DefaultTokenResource is the resource used to obtain a new token.
	DefaultTokenResource = "token"

	// DefaultRefreshResource is the resource used to refresh a token.
	DefaultRefreshResource = "token"

	// GrantClientCredentials is the OAuth2 client credentials grant.
	GrantClientCredentials = "client_credentials"

	// GrantPassword is the OAuth2 resource owner password grant.
	GrantPassword = "password"

	// GrantRefreshToken is the OAuth2 refresh token grant.
	GrantRefreshToken = "refresh_token"
)

// HTTP header names and values.
const (
	HeaderAuthorization  = "Authorization"
	HeaderAcceptEncoding = "Accept-Encoding"
	HeaderContentType    = "Content-Type"
	HeaderExpires        = "Expires"
	HeaderUserAgent      = "User-Agent"

	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	EncodingGzip    = "gzip"
)

// HTTP status codes commonly used.
const (
	// HTTPStatusOK represents a successful HTTP response.
	HTTPStatusOK = 200

	// HTTPStatusUnauthorized is the status carried by expired-token responses.
	HTTPStatusUnauthorized = 401

	// MinHTTPStatus is the lowest status code a response may carry.
	MinHTTPStatus = 100

	// MaxHTTPStatus is the highest status code a response may carry.
	MaxHTTPStatus = 600
)

// Default user agent.
const (
	DefaultUserAgent = "apiclient-go"
)

// Format constants.
const (
	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"

	// FormatTable for table output format.
	FormatTable = "table"
)

// UI constants.
const (
	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "***"

	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"
)
