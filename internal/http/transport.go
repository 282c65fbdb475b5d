// Package http implements apiclient.Transport on top of go-retryablehttp.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/internal/logging"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
)

// Transport executes requests on background goroutines. Start returns as soon
// as the request is queued; End waits for it. At most maxConcurrency requests
// are on the wire at once.
type Transport struct {
	httpClient     *retryablehttp.Client
	logger         apiclient.Logger
	userAgent      string
	debug          bool
	maxConcurrency int
	sem            chan struct{}

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	done chan struct{}
	resp *apiclient.Response
	err  error
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for debug and retry output.
func WithLogger(logger apiclient.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithDebug enables request and response logging.
func WithDebug(debug bool) Option {
	return func(t *Transport) {
		t.debug = debug
	}
}

// WithUserAgent sets the User-Agent header sent when a request carries none.
func WithUserAgent(userAgent string) Option {
	return func(t *Transport) {
		t.userAgent = userAgent
	}
}

// WithRetryConfig configures retries of transient failures. A retryMax of
// zero disables retries.
func WithRetryConfig(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(t *Transport) {
		t.httpClient.RetryMax = retryMax
		t.httpClient.RetryWaitMin = waitMin
		t.httpClient.RetryWaitMax = waitMax
	}
}

// WithTimeout sets the per attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.httpClient.HTTPClient.Timeout = timeout
	}
}

// WithMaxConcurrency bounds the number of requests on the wire.
func WithMaxConcurrency(limit int) Option {
	return func(t *Transport) {
		if limit > 0 {
			t.maxConcurrency = limit
		}
	}
}

// WithHTTPClient uses a copy of client for requests. Redirects are still
// disabled; client itself is never modified.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			clone := *client
			t.httpClient.HTTPClient = &clone
		}
	}
}

// NewTransport creates a Transport. By default transient failures are not
// retried.
func NewTransport(opts ...Option) *Transport {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.HTTPClient = &http.Client{Timeout: constants.DefaultHTTPTimeout}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	transport := &Transport{
		httpClient:     retryClient,
		logger:         apiclient.NopLogger(),
		userAgent:      constants.DefaultUserAgent,
		maxConcurrency: constants.DefaultConcurrencyLimit,
		calls:          make(map[string]*call),
	}

	for _, opt := range opts {
		opt(transport)
	}

	transport.httpClient.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	transport.httpClient.Logger = logging.NewLeveled(transport.logger)
	transport.sem = make(chan struct{}, transport.maxConcurrency)

	return transport
}

// Start queues req and returns a handle for End. The request runs under ctx.
func (t *Transport) Start(ctx context.Context, req *apiclient.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%w: request is required", apiclient.ErrInvalidArgument)
	}

	handle := uuid.NewString()
	pending := &call{done: make(chan struct{})}

	t.mu.Lock()
	t.calls[handle] = pending
	t.mu.Unlock()

	go func() {
		defer close(pending.done)

		select {
		case t.sem <- struct{}{}:
		case <-ctx.Done():
			pending.err = &apiclient.TransportError{Method: req.Method(), URL: req.URL(), Err: ctx.Err()}

			return
		}

		defer func() { <-t.sem }()

		pending.resp, pending.err = t.do(ctx, req)
	}()

	return handle, nil
}

// End waits for the request behind handle. A handle can be redeemed once; if
// ctx ends first the handle stays valid.
func (t *Transport) End(ctx context.Context, handle string) (*apiclient.Response, error) {
	t.mu.Lock()
	pending, ok := t.calls[handle]
	t.mu.Unlock()

	if !ok {
		return nil, apiclient.NewHandleNotFoundError(handle)
	}

	select {
	case <-pending.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for response: %w", ctx.Err())
	}

	t.mu.Lock()
	_, stillPending := t.calls[handle]
	delete(t.calls, handle)
	t.mu.Unlock()

	if !stillPending {
		return nil, apiclient.NewHandleNotFoundError(handle)
	}

	return pending.resp, pending.err
}

func (t *Transport) do(ctx context.Context, req *apiclient.Request) (*apiclient.Response, error) {
	var body interface{}
	if req.Body() != "" {
		body = []byte(req.Body())
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method(), req.URL(), body)
	if err != nil {
		return nil, t.transportError(req, err)
	}

	httpReq.Header = req.Headers()
	if httpReq.Header.Get(constants.HeaderUserAgent) == "" && t.userAgent != "" {
		httpReq.Header.Set(constants.HeaderUserAgent, t.userAgent)
	}

	if t.debug {
		t.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method(),
			"url":    req.URL(),
		})
	}

	start := time.Now()

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, t.transportError(req, err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	raw, err := readBody(httpResp)
	if err != nil {
		return nil, t.transportError(req, err)
	}

	if t.debug {
		t.logger.Debug("HTTP Response", map[string]interface{}{
			"status":   httpResp.StatusCode,
			"duration": time.Since(start),
			"url":      req.URL(),
		})
	}

	resp, err := apiclient.NewResponse(httpResp.StatusCode, httpResp.Header, raw)
	if err != nil {
		return nil, t.transportError(req, err)
	}

	return resp, nil
}

func (t *Transport) transportError(req *apiclient.Request, err error) error {
	t.logger.Warn("HTTP request failed", map[string]interface{}{
		"method": req.Method(),
		"url":    req.URL(),
		"error":  err,
	})

	return &apiclient.TransportError{Method: req.Method(), URL: req.URL(), Err: err}
}

// readBody returns the decoded body. Content-Encoding and Content-Length are
// dropped from the headers once a gzip body has been inflated.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), constants.EncodingGzip) || len(raw) == 0 {
		return raw, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding gzip body: %w", err)
	}

	defer func() { _ = reader.Close() }()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decoding gzip body: %w", err)
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")

	return decoded, nil
}
