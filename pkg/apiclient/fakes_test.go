package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/stretchr/testify/require"
)

var errCacheUnavailable = errors.New("cache unavailable")

// fakeTransport answers requests synchronously through a responder and
// records every request it receives.
type fakeTransport struct {
	mu       sync.Mutex
	respond  func(req *apiclient.Request) (*apiclient.Response, error)
	requests []*apiclient.Request
	pending  map[string]*apiclient.Request
	nextID   int
	startErr error
}

func newFakeTransport(respond func(req *apiclient.Request) (*apiclient.Response, error)) *fakeTransport {
	return &fakeTransport{
		respond: respond,
		pending: make(map[string]*apiclient.Request),
	}
}

func (f *fakeTransport) Start(_ context.Context, req *apiclient.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return "", f.startErr
	}

	f.nextID++
	handle := "h" + strconv.Itoa(f.nextID)
	f.pending[handle] = req
	f.requests = append(f.requests, req)

	return handle, nil
}

func (f *fakeTransport) End(_ context.Context, handle string) (*apiclient.Response, error) {
	f.mu.Lock()
	req, ok := f.pending[handle]
	delete(f.pending, handle)
	f.mu.Unlock()

	if !ok {
		return nil, apiclient.NewHandleNotFoundError(handle)
	}

	return f.respond(req)
}

func (f *fakeTransport) Requests() []*apiclient.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*apiclient.Request(nil), f.requests...)
}

// failingCache reads like an empty cache and fails every write.
type failingCache struct{}

func (failingCache) Get(context.Context, string) (*apiclient.Response, error) {
	return nil, apiclient.ErrCacheMiss
}

func (failingCache) Set(context.Context, string, *apiclient.Response, time.Time) error {
	return errCacheUnavailable
}

// recordingMetrics counts events.
type recordingMetrics struct {
	mu        sync.Mutex
	responses []string
	tokens    []string
	retries   int
	lookups   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{lookups: make(map[string]int)}
}

func (m *recordingMetrics) ObserveResponse(method, source string, httpCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = append(m.responses, method+" "+source+" "+strconv.Itoa(httpCode))
}

func (m *recordingMetrics) IncTokenRequest(grant string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens = append(m.tokens, grant)
}

func (m *recordingMetrics) IncExpiredTokenRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries++
}

func (m *recordingMetrics) IncCacheLookup(scope string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups[scope+":"+strconv.FormatBool(hit)]++
}

func mustResponse(t *testing.T, code int, headers http.Header, body string) *apiclient.Response {
	t.Helper()

	resp, err := apiclient.NewResponse(code, headers, []byte(body))
	require.NoError(t, err)

	return resp
}

func mustClientCredentials(t *testing.T) *apiclient.Authenticator {
	t.Helper()

	auth, err := apiclient.NewClientCredentials("id", "secret")
	require.NoError(t, err)

	return auth
}

func expiresIn(d time.Duration) http.Header {
	headers := http.Header{}
	headers.Set("Expires", time.Now().Add(d).UTC().Format(http.TimeFormat))

	return headers
}

// tokenServer issues access token "a" for the initial grant and "b" for a
// refresh, then delegates everything else to api.
func tokenServer(t *testing.T, api func(req *apiclient.Request) *apiclient.Response) func(req *apiclient.Request) (*apiclient.Response, error) {
	t.Helper()

	return func(req *apiclient.Request) (*apiclient.Response, error) {
		if strings.HasSuffix(req.URL(), "/token") {
			if strings.Contains(req.Body(), "grant_type=refresh_token") {
				return mustResponse(t, http.StatusOK, nil, `{"access_token":"b","refresh_token":"r2","expires_in":3600}`), nil
			}

			return mustResponse(t, http.StatusOK, nil, `{"access_token":"a","refresh_token":"r","expires_in":3600}`), nil
		}

		return api(req), nil
	}
}
