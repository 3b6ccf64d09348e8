package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	restFetches         *prometheus.CounterVec
	popupRenders        *prometheus.CounterVec
	itemLookups         *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP, REST and popup metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by gallery-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gallery",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by gallery-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	restFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "rest_fetches_total",
		Help:      "Outbound ArcGIS REST requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	popupRenders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "popup_renders_total",
		Help:      "Popup contents rendered, by content mode",
	}, []string{"mode"})

	itemLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "item_lookups_total",
		Help:      "Portal item popup lookups, by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		restFetches,
		popupRenders,
		itemLookups,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		restFetches:         restFetches,
		popupRenders:        popupRenders,
		itemLookups:         itemLookups,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncRESTFetch counts one outbound REST request.
func (m *Metrics) IncRESTFetch(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.restFetches.WithLabelValues(endpoint, outcome).Inc()
}

// IncPopupRender counts one rendered popup in the given content mode.
func (m *Metrics) IncPopupRender(mode string) {
	if m == nil {
		return
	}
	m.popupRenders.WithLabelValues(mode).Inc()
}

// IncItemLookup counts one finished item lookup.
func (m *Metrics) IncItemLookup(outcome string) {
	if m == nil {
		return
	}
	m.itemLookups.WithLabelValues(outcome).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
