package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/google/uuid"
)

// Client issues verb level calls against a REST API protected by OAuth2. It
// obtains and refreshes tokens transparently, retries once when a response
// reports an expired token and reads and writes the response cache according
// to its CacheMode.
//
// Every Start method returns a handle that must be redeemed exactly once with
// End. Many calls may be started before any is ended; the Transport decides
// how they are executed.
type Client struct {
	transport Transport
	auth      *Authenticator
	baseURL   string
	cacheMode CacheMode
	cache     Cache
	logger    Logger
	metrics   Metrics

	// tokenMu serialises token acquisition so a refresh never races another.
	tokenMu sync.Mutex

	mu             sync.Mutex
	accessToken    string
	refreshToken   string
	defaultHeaders http.Header
	handles        map[string]*pendingCall
}

// pendingCall is an entry in the handle table. Exactly one of cached and
// transportHandle is set.
type pendingCall struct {
	cached          *Response
	transportHandle string
	request         *Request
}

// New creates a Client.
func New(transport Transport, auth *Authenticator, baseURL string, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, invalidArgument("transport", "is required")
	}

	if auth == nil {
		return nil, invalidArgument("authenticator", "is required")
	}

	if isBlank(baseURL) {
		return nil, invalidArgument("baseURL", "must be a non-blank string")
	}

	client := &Client{
		transport:      transport,
		auth:           auth,
		baseURL:        baseURL,
		cacheMode:      CacheModeNone,
		logger:         NopLogger(),
		metrics:        NopMetrics(),
		defaultHeaders: make(http.Header),
		handles:        make(map[string]*pendingCall),
	}

	for _, opt := range opts {
		opt(client)
	}

	if !client.cacheMode.Valid() {
		return nil, invalidArgument("cacheMode", fmt.Sprintf("must be a valid cache mode constant, got %d", int(client.cacheMode)))
	}

	if client.cacheMode != CacheModeNone && client.cache == nil {
		return nil, invalidArgument("cache", "must not be nil if cacheMode is not CacheModeNone")
	}

	return client, nil
}

// Tokens returns the current access and refresh tokens. Empty strings mean
// no token is held.
func (c *Client) Tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.accessToken, c.refreshToken
}

// Authenticate obtains an access token unless one is already held. Verb
// calls do this on demand; Authenticate lets callers fail early.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.ensureAccessToken(ctx)

	return err
}

// SetDefaultHeaders replaces the headers merged into every subsequent request.
// Headers passed by a call win over defaults; Authorization and
// Accept-Encoding are always set by the client.
func (c *Client) SetDefaultHeaders(headers http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defaultHeaders = cloneHeader(headers)
}

// StartIndex starts a search of resource using filters.
func (c *Client) StartIndex(ctx context.Context, resource string, filters url.Values) (string, error) {
	err := requireNonBlank("resource", resource)
	if err != nil {
		return "", err
	}

	target := c.resourceURL(resource) + "?" + filters.Encode()

	return c.start(ctx, target, http.MethodGet, "", nil)
}

// Index searches resource using filters.
func (c *Client) Index(ctx context.Context, resource string, filters url.Values) (*Response, error) {
	return c.startAndEnd(ctx, func() (string, error) {
		return c.StartIndex(ctx, resource, filters)
	})
}

// StartGet starts fetching the resource identified by id. params, when not
// empty, are appended as a query string.
func (c *Client) StartGet(ctx context.Context, resource, id string, params url.Values) (string, error) {
	err := requireNonBlank("resource", resource, "id", id)
	if err != nil {
		return "", err
	}

	target := c.resourceURL(resource, id)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	return c.start(ctx, target, http.MethodGet, "", nil)
}

// Get fetches the resource identified by id.
func (c *Client) Get(ctx context.Context, resource, id string, params url.Values) (*Response, error) {
	return c.startAndEnd(ctx, func() (string, error) {
		return c.StartGet(ctx, resource, id, params)
	})
}

// StartPost starts creating a new instance of resource from data.
func (c *Client) StartPost(ctx context.Context, resource string, data any) (string, error) {
	err := requireNonBlank("resource", resource)
	if err != nil {
		return "", err
	}

	body, err := encodeData(data)
	if err != nil {
		return "", err
	}

	return c.start(ctx, c.resourceURL(resource), http.MethodPost, body, jsonHeaders())
}

// Post creates a new instance of resource from data.
func (c *Client) Post(ctx context.Context, resource string, data any) (*Response, error) {
	return c.startAndEnd(ctx, func() (string, error) {
		return c.StartPost(ctx, resource, data)
	})
}

// StartPut starts updating the instance of resource identified by id.
func (c *Client) StartPut(ctx context.Context, resource, id string, data any) (string, error) {
	err := requireNonBlank("resource", resource, "id", id)
	if err != nil {
		return "", err
	}

	body, err := encodeData(data)
	if err != nil {
		return "", err
	}

	return c.start(ctx, c.resourceURL(resource, id), http.MethodPut, body, jsonHeaders())
}

// Put updates the instance of resource identified by id.
func (c *Client) Put(ctx context.Context, resource, id string, data any) (*Response, error) {
	return c.startAndEnd(ctx, func() (string, error) {
		return c.StartPut(ctx, resource, id, data)
	})
}

// StartDelete starts deleting resource. An empty id deletes the collection
// URL itself; a nil data sends no body.
func (c *Client) StartDelete(ctx context.Context, resource, id string, data any) (string, error) {
	err := requireNonBlank("resource", resource)
	if err != nil {
		return "", err
	}

	target := c.resourceURL(resource)

	if id != "" {
		err = requireNonBlank("id", id)
		if err != nil {
			return "", err
		}

		target = c.resourceURL(resource, id)
	}

	body := ""

	if data != nil {
		body, err = encodeData(data)
		if err != nil {
			return "", err
		}
	}

	return c.start(ctx, target, http.MethodDelete, body, jsonHeaders())
}

// Delete deletes resource, or the instance identified by id.
func (c *Client) Delete(ctx context.Context, resource, id string, data any) (*Response, error) {
	return c.startAndEnd(ctx, func() (string, error) {
		return c.StartDelete(ctx, resource, id, data)
	})
}

// End resolves a handle returned by a Start method. Responses with any status
// code are returned as they are, except that an expired token response causes
// one token refresh and one retry. If ctx ends before the response arrives the
// handle can be passed to End again.
func (c *Client) End(ctx context.Context, handle string) (*Response, error) {
	c.mu.Lock()
	call, ok := c.handles[handle]
	delete(c.handles, handle)
	c.mu.Unlock()

	if !ok {
		return nil, NewHandleNotFoundError(handle)
	}

	if call.cached != nil {
		c.metrics.ObserveResponse(call.request.Method(), SourceCache, call.cached.HTTPCode())

		return call.cached, nil
	}

	resp, err := c.transport.End(ctx, call.transportHandle)
	if err != nil {
		// The transport keeps the request when ctx ends first, so the handle
		// stays redeemable.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			c.mu.Lock()
			c.handles[handle] = call
			c.mu.Unlock()
		}

		return nil, err
	}

	source := SourceTransport
	req := call.request

	if shape, expired := expiredTokenShape(resp); expired {
		c.logger.Info("access token expired, refreshing", map[string]interface{}{
			"method": req.Method(),
			"url":    req.URL(),
			"shape":  shape,
		})

		req, resp, err = c.retryWithFreshToken(ctx, req)
		if err != nil {
			return nil, err
		}

		source = SourceRetry
	}

	if req.Method() == http.MethodGet && (c.cacheMode == CacheModeRefresh || c.cacheMode.Has(CacheModeGet)) {
		err = c.cache.Set(ctx, CacheKey(req), resp, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("caching response: %w", err)
		}
	}

	c.metrics.ObserveResponse(req.Method(), source, resp.HTTPCode())

	return resp, nil
}

// retryWithFreshToken refreshes the token and replays req once, synchronously.
func (c *Client) retryWithFreshToken(ctx context.Context, req *Request) (*Request, *Response, error) {
	c.tokenMu.Lock()
	err := c.fetchToken(ctx)
	c.tokenMu.Unlock()

	if err != nil {
		return nil, nil, err
	}

	accessToken, _ := c.Tokens()
	retry := req.WithHeader(constants.HeaderAuthorization, bearer(accessToken))

	resp, err := c.roundTrip(ctx, retry)
	if err != nil {
		return nil, nil, err
	}

	c.metrics.IncExpiredTokenRetry()

	return retry, resp, nil
}

// start builds the request, ensures a token is held and either serves the
// request from the cache or hands it to the transport.
func (c *Client) start(ctx context.Context, target, method, body string, headers http.Header) (string, error) {
	c.mu.Lock()
	merged := cloneHeader(c.defaultHeaders)
	c.mu.Unlock()

	for key, values := range headers {
		merged[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}

	merged.Set(constants.HeaderAcceptEncoding, constants.EncodingGzip)

	accessToken, err := c.ensureAccessToken(ctx)
	if err != nil {
		return "", err
	}

	merged.Set(constants.HeaderAuthorization, bearer(accessToken))

	req, err := NewRequest(target, method, body, merged)
	if err != nil {
		return "", err
	}

	if method == http.MethodGet && c.cacheMode.Has(CacheModeGet) {
		cached, err := c.cacheLookup(ctx, ScopeGet, CacheKey(req))
		if err != nil {
			return "", err
		}

		if cached != nil {
			c.logger.Debug("serving response from cache", map[string]interface{}{"url": req.URL()})

			return c.register(&pendingCall{cached: cached, request: req}), nil
		}
	}

	transportHandle, err := c.transport.Start(ctx, req)
	if err != nil {
		return "", err
	}

	return c.register(&pendingCall{transportHandle: transportHandle, request: req}), nil
}

func (c *Client) register(call *pendingCall) string {
	handle := uuid.NewString()

	c.mu.Lock()
	c.handles[handle] = call
	c.mu.Unlock()

	return handle
}

// ensureAccessToken returns the held access token, loading it from the cache
// or fetching a new one when none is held.
func (c *Client) ensureAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if accessToken, _ := c.Tokens(); accessToken != "" {
		return accessToken, nil
	}

	if c.cacheMode.Has(CacheModeToken) {
		err := c.tokenFromCache(ctx)
		if err != nil {
			return "", err
		}
	}

	if accessToken, _ := c.Tokens(); accessToken != "" {
		return accessToken, nil
	}

	err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	accessToken, _ := c.Tokens()

	return accessToken, nil
}

// tokenFromCache loads tokens from a cached token response, if any.
func (c *Client) tokenFromCache(ctx context.Context) error {
	_, refreshToken := c.Tokens()

	req, err := c.auth.TokenRequest(c.baseURL, refreshToken)
	if err != nil {
		return err
	}

	cached, err := c.cacheLookup(ctx, ScopeToken, CacheKey(req))
	if err != nil || cached == nil {
		return err
	}

	token, err := c.auth.ParseTokenResponse(cached)
	if err != nil {
		return err
	}

	c.setTokens(token.AccessToken, token.RefreshToken)
	c.logger.Debug("loaded access token from cache", nil)

	return nil
}

// fetchToken performs a token round trip, using the refresh token when one
// is held. Callers must hold tokenMu.
func (c *Client) fetchToken(ctx context.Context) error {
	_, refreshToken := c.Tokens()

	req, err := c.auth.TokenRequest(c.baseURL, refreshToken)
	if err != nil {
		return err
	}

	grant := c.auth.GrantType()
	if refreshToken != "" {
		grant = constants.GrantRefreshToken
	}

	c.metrics.IncTokenRequest(grant)

	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}

	token, err := c.auth.ParseTokenResponse(resp)
	if err != nil {
		return err
	}

	c.setTokens(token.AccessToken, token.RefreshToken)
	c.logger.Debug("obtained access token", map[string]interface{}{
		"grant":      grant,
		"expires_at": token.Expiry,
	})

	if c.cacheMode.Has(CacheModeToken) {
		err = c.cache.Set(ctx, CacheKey(req), resp, token.Expiry)
		if err != nil {
			return fmt.Errorf("caching token response: %w", err)
		}
	}

	return nil
}

func (c *Client) cacheLookup(ctx context.Context, scope, key string) (*Response, error) {
	cached, err := c.cache.Get(ctx, key)
	if err != nil {
		if IsCacheMiss(err) {
			c.metrics.IncCacheLookup(scope, false)

			return nil, nil
		}

		return nil, fmt.Errorf("reading cache: %w", err)
	}

	c.metrics.IncCacheLookup(scope, cached != nil)

	return cached, nil
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	handle, err := c.transport.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	return c.transport.End(ctx, handle)
}

func (c *Client) setTokens(accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessToken = accessToken
	c.refreshToken = refreshToken
}

func (c *Client) startAndEnd(ctx context.Context, start func() (string, error)) (*Response, error) {
	handle, err := start()
	if err != nil {
		return nil, err
	}

	return c.End(ctx, handle)
}

func (c *Client) resourceURL(resource string, id ...string) string {
	target := c.baseURL + "/" + url.QueryEscape(resource)
	for _, segment := range id {
		target += "/" + url.QueryEscape(segment)
	}

	return target
}

func bearer(accessToken string) string {
	return "Bearer " + accessToken
}

func jsonHeaders() http.Header {
	headers := http.Header{}
	headers.Set(constants.HeaderContentType, constants.ContentTypeJSON)

	return headers
}

// requireNonBlank takes name, value pairs.
func requireNonBlank(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if isBlank(pairs[i+1]) {
			return invalidArgument(pairs[i], "must be a non-blank string")
		}
	}

	return nil
}

func encodeData(data any) (string, error) {
	value := reflect.ValueOf(data)
	if value.Kind() == reflect.Map && value.Type().Key().Kind() == reflect.String {
		for _, key := range value.MapKeys() {
			if isBlank(key.String()) {
				return "", invalidArgument("data key", "must be a non-blank string")
			}
		}
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: data cannot be encoded as JSON: %w", ErrInvalidArgument, err)
	}

	return string(encoded), nil
}
