// Package metrics exposes the Prometheus metrics of the gatedfetch packages.
// Metrics are defined in their respective packages (ratelimit, client, uri,
// pagination) and registered via promauto on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all gatedfetch metrics use.
var Registry = prometheus.DefaultRegisterer

// Handler serves the metrics in Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Limiter Metrics (pkg/ratelimit):
//   - gatedfetch_limiter_available_tokens (Gauge): Token balance, negative while in debt
//   - gatedfetch_limiter_grants_total (Counter): Tokens granted by token bucket limiters
//   - gatedfetch_limiter_wait_seconds (Histogram): Waits handed out to callers
//
// Request Metrics (pkg/client):
//   - gatedfetch_requests_total{method, status} (Counter): Outbound requests by method and status
//   - gatedfetch_request_duration_seconds{method} (Histogram): Request duration, gate wait excluded
//   - gatedfetch_gate_wait_seconds{strategy} (Histogram): Time blocked in the gate
//
// Fetch Metrics (pkg/uri):
//   - gatedfetch_fetch_errors_total{class} (Counter): Link fetch failures by class (decode, api, transport)
//
// Pagination Metrics (pkg/pagination):
//   - gatedfetch_pages_fetched_total{mode} (Counter): Pages fetched by mode (lazy, eager)
//   - gatedfetch_stream_truncations_total (Counter): Lazy streams ended early
//
// Example Prometheus Queries:
//
//   # Gate pressure (P95 wait)
//   histogram_quantile(0.95, rate(gatedfetch_gate_wait_seconds_bucket[5m]))
//
//   # Limiter in debt
//   gatedfetch_limiter_available_tokens < 0
//
//   # API error rate
//   rate(gatedfetch_fetch_errors_total{class="api"}[5m])
//
//   # Truncated streams
//   increase(gatedfetch_stream_truncations_total[1h]) > 0
