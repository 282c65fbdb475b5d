// Package metrics records client events as Prometheus counters.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apiclient"

// Prometheus implements apiclient.Metrics.
type Prometheus struct {
	responses     *prometheus.CounterVec
	tokenRequests *prometheus.CounterVec
	retries       prometheus.Counter
	cacheLookups  *prometheus.CounterVec
}

var _ apiclient.Metrics = (*Prometheus)(nil)

// NewPrometheus creates the counters and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses returned to callers by method, source and status code.",
		}, []string{"method", "source", "code"}),
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint round trips by grant type.",
		}, []string{"grant"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_token_retries_total",
			Help:      "Requests replayed after an expired token response.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache reads by scope and result.",
		}, []string{"scope", "result"}),
	}

	for _, collector := range []prometheus.Collector{m.responses, m.tokenRequests, m.retries, m.cacheLookups} {
		err := reg.Register(collector)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	return m, nil
}

// ObserveResponse implements apiclient.Metrics.
func (m *Prometheus) ObserveResponse(method, source string, httpCode int) {
	m.responses.WithLabelValues(method, source, strconv.Itoa(httpCode)).Inc()
}

// IncTokenRequest implements apiclient.Metrics.
func (m *Prometheus) IncTokenRequest(grant string) {
	m.tokenRequests.WithLabelValues(grant).Inc()
}

// IncExpiredTokenRetry implements apiclient.Metrics.
func (m *Prometheus) IncExpiredTokenRetry() {
	m.retries.Inc()
}

// IncCacheLookup implements apiclient.Metrics.
func (m *Prometheus) IncCacheLookup(scope string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	m.cacheLookups.WithLabelValues(scope, result).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
