package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fivetwenty-io/apiclient/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	m, err := metrics.NewPrometheus(reg)
	require.NoError(t, err)

	m.ObserveResponse("GET", "transport", 200)
	m.ObserveResponse("GET", "transport", 200)
	m.ObserveResponse("GET", "cache", 200)
	m.IncTokenRequest("client_credentials")
	m.IncExpiredTokenRetry()
	m.IncCacheLookup("get", true)
	m.IncCacheLookup("get", false)
	m.IncCacheLookup("token", false)

	expected := `
# HELP apiclient_expired_token_retries_total Requests replayed after an expired token response.
# TYPE apiclient_expired_token_retries_total counter
apiclient_expired_token_retries_total 1
# HELP apiclient_responses_total Responses returned to callers by method, source and status code.
# TYPE apiclient_responses_total counter
apiclient_responses_total{code="200",method="GET",source="cache"} 1
apiclient_responses_total{code="200",method="GET",source="transport"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"apiclient_expired_token_retries_total", "apiclient_responses_total"))

	lookups, err := testutil.GatherAndCount(reg, "apiclient_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 3, lookups)

	tokens, err := testutil.GatherAndCount(reg, "apiclient_token_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, tokens)
}

func TestNewPrometheus_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	_, err := metrics.NewPrometheus(reg)
	require.NoError(t, err)

	_, err = metrics.NewPrometheus(reg)
	require.Error(t, err)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	m, err := metrics.NewPrometheus(reg)
	require.NoError(t, err)

	m.IncTokenRequest("password")

	recorder := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `apiclient_token_requests_total{grant="password"} 1`)
}
