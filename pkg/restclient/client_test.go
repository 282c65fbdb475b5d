package restclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/fivetwenty-io/apiclient/pkg/restclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiServer is a small OAuth2 protected API. Tokens issued before expire()
// is called are answered with an expired-token fault.
type apiServer struct {
	*httptest.Server

	mu          sync.Mutex
	issued      int
	validToken  string
	tokenCalls  atomic.Int32
	widgetCalls atomic.Int32
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()

	s := &apiServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)

		if r.FormValue("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))

			return
		}

		s.mu.Lock()
		s.issued++
		s.validToken = "token-" + strconv.Itoa(s.issued)
		token := s.validToken
		s.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  token,
			"refresh_token": "refresh-" + token,
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})

	mux.HandleFunc("GET /v1/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}

		s.widgetCalls.Add(1)
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "name": "widget " + r.PathValue("id")})
	})

	mux.HandleFunc("GET /v1/widgets", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		total := 5
		limit := 2

		var result []map[string]any
		for i := offset; i < total && i < offset+limit; i++ {
			result = append(result, map[string]any{"id": strconv.Itoa(i)})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"pagination": map[string]any{"limit": limit, "total": total, "offset": offset},
			"result":     result,
		})
	})

	mux.HandleFunc("POST /v1/widgets", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}

		var body map[string]any

		err := json.NewDecoder(r.Body).Decode(&body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})

			return
		}

		body["id"] = "new"
		writeJSON(w, http.StatusCreated, body)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

func (s *apiServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	valid := "Bearer " + s.validToken
	s.mu.Unlock()

	if r.Header.Get("Authorization") != valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_token"})

		return false
	}

	return true
}

// expire invalidates every token issued so far.
func (s *apiServer) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.validToken = "expired"
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func newClient(t *testing.T, server *apiServer, mutate func(*restclient.Config)) *restclient.Client {
	t.Helper()

	config := &restclient.Config{
		BaseURL:      server.URL + "/v1/",
		ClientID:     "id",
		ClientSecret: "secret",
	}
	if mutate != nil {
		mutate(config)
	}

	client, err := restclient.New(context.Background(), config)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := restclient.New(ctx, nil)
	require.ErrorIs(t, err, restclient.ErrConfigRequired)

	_, err = restclient.New(ctx, &restclient.Config{ClientID: "id", ClientSecret: "secret"})
	require.ErrorIs(t, err, restclient.ErrBaseURLRequired)

	_, err = restclient.New(ctx, &restclient.Config{BaseURL: "api.example.com", ClientID: "id"})
	require.True(t, apiclient.IsValidationError(err))

	_, err = restclient.New(ctx, &restclient.Config{
		BaseURL: "api.example.com", ClientID: "id", ClientSecret: "secret", Grant: "implicit",
	})
	require.ErrorIs(t, err, restclient.ErrUnsupportedGrantType)

	_, err = restclient.New(ctx, &restclient.Config{
		BaseURL: "api.example.com", ClientID: "id", ClientSecret: "secret", Grant: "password",
	})
	require.True(t, apiclient.IsValidationError(err))

	_, err = restclient.New(ctx, &restclient.Config{
		BaseURL:      "api.example.com",
		ClientID:     "id",
		ClientSecret: "secret",
		CacheMode:    apiclient.CacheModeGet,
		Cache:        &restclient.CacheConfig{Type: "memcached"},
	})
	require.ErrorIs(t, err, restclient.ErrUnsupportedCacheType)
}

func TestClient_EndToEnd(t *testing.T) {
	t.Parallel()

	server := newAPIServer(t)
	client := newClient(t, server, nil)
	ctx := context.Background()

	resp, err := client.Get(ctx, "widgets", "7", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPCode())
	assert.Equal(t, "widget 7", resp.Get("name").String())

	accessToken, refreshToken := client.Tokens()
	assert.Equal(t, "token-1", accessToken)
	assert.Equal(t, "refresh-token-1", refreshToken)

	created, err := client.Post(ctx, "widgets", map[string]any{"name": "gear"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, created.HTTPCode())
	assert.Equal(t, "gear", created.Get("name").String())
	assert.Equal(t, "new", created.Get("id").String())

	assert.Equal(t, int32(1), server.tokenCalls.Load())
}

func TestClient_AsyncFanOut(t *testing.T) {
	t.Parallel()

	server := newAPIServer(t)
	client := newClient(t, server, func(c *restclient.Config) { c.MaxConcurrency = 2 })
	ctx := context.Background()

	handles := make([]string, 0, 6)

	for i := range 6 {
		handle, err := client.StartGet(ctx, "widgets", strconv.Itoa(i), nil)
		require.NoError(t, err)

		handles = append(handles, handle)
	}

	for i, handle := range handles {
		resp, err := client.End(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(i), resp.Get("id").String())
	}

	assert.Equal(t, int32(1), server.tokenCalls.Load())
}

func TestClient_ExpiredTokenRetry(t *testing.T) {
	t.Parallel()

	server := newAPIServer(t)
	registry := prometheus.NewRegistry()
	client := newClient(t, server, func(c *restclient.Config) { c.Registerer = registry })
	ctx := context.Background()

	_, err := client.Get(ctx, "widgets", "1", nil)
	require.NoError(t, err)

	server.expire()

	resp, err := client.Get(ctx, "widgets", "2", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPCode())

	accessToken, _ := client.Tokens()
	assert.Equal(t, "token-2", accessToken)

	expected := `
# HELP apiclient_expired_token_retries_total Requests replayed after an expired token response.
# TYPE apiclient_expired_token_retries_total counter
apiclient_expired_token_retries_total 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "apiclient_expired_token_retries_total"))
}

func TestClient_CachesGetResponses(t *testing.T) {
	t.Parallel()

	server := newAPIServer(t)
	client := newClient(t, server, func(c *restclient.Config) {
		c.CacheMode = apiclient.CacheModeGet
		c.Cache = restclient.NewCacheBuilder().WithMemoryConfig(10, time.Minute).Config()
	})
	ctx := context.Background()

	first, err := client.Get(ctx, "widgets", "3", nil)
	require.NoError(t, err)

	second, err := client.Get(ctx, "widgets", "3", nil)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, int32(1), server.widgetCalls.Load())
}

func TestClient_Collection(t *testing.T) {
	t.Parallel()

	server := newAPIServer(t)
	client := newClient(t, server, nil)
	ctx := context.Background()

	coll, err := client.Collection("widgets", url.Values{"sort": {"id"}})
	require.NoError(t, err)

	var ids []string
	for coll.Next(ctx) {
		ids = append(ids, coll.Item().Get("id").String())
	}

	require.NoError(t, coll.Err())
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, ids)

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestClient_InvalidCredentials(t *testing.T) {
	t.Parallel()

	server := newAPIServer(t)
	client := newClient(t, server, func(c *restclient.Config) { c.ClientSecret = "wrong" })

	_, err := client.Get(context.Background(), "widgets", "1", nil)
	require.Error(t, err)
	assert.True(t, apiclient.IsAuthenticationError(err))
	assert.Contains(t, err.Error(), apiclient.InvalidCredentialsMessage)
}
