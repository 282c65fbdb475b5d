package restclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	internalhttp "github.com/fivetwenty-io/apiclient/internal/http"
	"github.com/fivetwenty-io/apiclient/internal/logging"
	"github.com/fivetwenty-io/apiclient/internal/metrics"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/prometheus/client_golang/prometheus"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired       = errors.New("config is required")
	ErrBaseURLRequired      = errors.New("base URL is required")
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
)

// Config holds everything needed to build a Client.
type Config struct {
	// BaseURL of the API. Resources are appended as path segments.
	BaseURL string

	// Grant is client_credentials (the default) or password.
	Grant        string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	// TokenResource and RefreshResource default to "token".
	TokenResource   string
	RefreshResource string

	// AccessToken and RefreshToken seed the client with known tokens.
	AccessToken  string
	RefreshToken string

	CacheMode apiclient.CacheMode

	// Cache selects the backend. A nil Cache with a CacheMode other than
	// CacheModeNone uses the memory cache.
	Cache *CacheConfig

	// HTTP settings.
	HTTPTimeout    time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	UserAgent      string
	MaxConcurrency int
	HTTPClient     *http.Client

	DefaultHeaders http.Header

	// Logger receives client and transport logs. When nil a zap logger is
	// built from LogLevel, or nothing is logged if LogLevel is empty.
	Logger   apiclient.Logger
	LogLevel string
	Debug    bool

	// Registerer, when set, receives the client's Prometheus collectors.
	Registerer prometheus.Registerer
}

// Client is an apiclient.Client bound to the resources New created for it.
type Client struct {
	*apiclient.Client

	cache  apiclient.Cache
	cancel context.CancelFunc
}

// New creates a Client from config. The context bounds cache backend setup
// only; use Close to release the backend.
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}

	baseURL, err := normalizeBaseURL(config.BaseURL)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(config)
	if err != nil {
		return nil, err
	}

	auth, err := newAuthenticator(config)
	if err != nil {
		return nil, err
	}

	opts := []apiclient.Option{
		apiclient.WithLogger(logger),
		apiclient.WithCacheMode(config.CacheMode),
		apiclient.WithTokens(config.AccessToken, config.RefreshToken),
		apiclient.WithDefaultHeaders(config.DefaultHeaders),
	}

	if config.Registerer != nil {
		promMetrics, err := metrics.NewPrometheus(config.Registerer)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}

		opts = append(opts, apiclient.WithMetrics(promMetrics))
	}

	// Cancelling ctx aborts cache setup. Afterwards the memory cache cleanup
	// loop lives until Close.
	cacheCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client := &Client{cancel: cancel}

	if config.CacheMode != apiclient.CacheModeNone {
		stopSetup := context.AfterFunc(ctx, cancel)
		client.cache, err = NewCacheFromConfig(cacheCtx, config.Cache)
		stopSetup()

		if err != nil {
			cancel()

			return nil, fmt.Errorf("creating cache: %w", err)
		}

		opts = append(opts, apiclient.WithCache(client.cache))
	}

	client.Client, err = apiclient.New(newTransport(config, logger), auth, baseURL, opts...)
	if err != nil {
		_ = client.Close()

		return nil, err
	}

	logger.Debug("client created", map[string]interface{}{
		"base_url":   baseURL,
		"grant":      auth.GrantType(),
		"cache_mode": config.CacheMode.String(),
	})

	return client, nil
}

// Collection walks an index resource page by page.
func (c *Client) Collection(resource string, filters url.Values) (*apiclient.Collection, error) {
	return apiclient.NewCollection(c.Client, resource, filters)
}

// Close stops background cache maintenance and closes the cache backend.
func (c *Client) Close() error {
	c.cancel()

	if closer, ok := c.cache.(io.Closer); ok {
		err := closer.Close()
		if err != nil {
			return fmt.Errorf("closing cache: %w", err)
		}
	}

	return nil
}

func normalizeBaseURL(baseURL string) (string, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return "", ErrBaseURLRequired
	}

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	return baseURL, nil
}

func newLogger(config *Config) (apiclient.Logger, error) {
	if config.Logger != nil {
		return config.Logger, nil
	}

	if config.LogLevel == "" && !config.Debug {
		return apiclient.NopLogger(), nil
	}

	level := config.LogLevel
	if config.Debug {
		level = "debug"
	}

	logger, err := logging.New(logging.Config{Level: level})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return logger, nil
}

func newAuthenticator(config *Config) (*apiclient.Authenticator, error) {
	var authOpts []apiclient.AuthOption
	if config.TokenResource != "" {
		authOpts = append(authOpts, apiclient.WithTokenResource(config.TokenResource))
	}

	if config.RefreshResource != "" {
		authOpts = append(authOpts, apiclient.WithRefreshResource(config.RefreshResource))
	}

	switch config.Grant {
	case constants.GrantClientCredentials, "":
		return apiclient.NewClientCredentials(config.ClientID, config.ClientSecret, authOpts...)
	case constants.GrantPassword:
		return apiclient.NewOwnerCredentials(config.ClientID, config.ClientSecret, config.Username, config.Password, authOpts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrantType, config.Grant)
	}
}

func newTransport(config *Config, logger apiclient.Logger) *internalhttp.Transport {
	opts := []internalhttp.Option{
		internalhttp.WithLogger(logger),
		internalhttp.WithDebug(config.Debug),
	}

	if config.HTTPClient != nil {
		opts = append(opts, internalhttp.WithHTTPClient(config.HTTPClient))
	}

	if config.HTTPTimeout > 0 {
		opts = append(opts, internalhttp.WithTimeout(config.HTTPTimeout))
	}

	if config.RetryMax > 0 {
		waitMin, waitMax := config.RetryWaitMin, config.RetryWaitMax
		if waitMin <= 0 {
			waitMin = constants.DefaultRetryWaitMin
		}

		if waitMax <= 0 {
			waitMax = constants.DefaultRetryWaitMax
		}

		opts = append(opts, internalhttp.WithRetryConfig(config.RetryMax, waitMin, waitMax))
	}

	if config.UserAgent != "" {
		opts = append(opts, internalhttp.WithUserAgent(config.UserAgent))
	}

	if config.MaxConcurrency > 0 {
		opts = append(opts, internalhttp.WithMaxConcurrency(config.MaxConcurrency))
	}

	return internalhttp.NewTransport(opts...)
}
