package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. Each instance owns its registry so
// several servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	fitsTotal     *prometheus.CounterVec
	fitDuration   *prometheus.HistogramVec
	fitTrials     prometheus.Histogram
	fitRMSE       prometheus.Histogram
	kkTotal       *prometheus.CounterVec
	kkOrder       prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	webhooksTotal *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		fitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goimpfit_fits_total",
			Help: "Total circuit fits by method and result",
		}, []string{"method", "result"}),
		fitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goimpfit_fit_duration_seconds",
			Help:    "Circuit fit duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		}, []string{"method", "global"}),
		fitTrials: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "goimpfit_fit_trials",
			Help:    "Basin-hopping trials per global fit",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		fitRMSE: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "goimpfit_fit_rmse_ohms",
			Help:    "RMSE of fitted spectra",
			Buckets: prometheus.ExponentialBuckets(1e-6, 10, 12),
		}),
		kkTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goimpfit_kk_validations_total",
			Help: "Total Lin-KK validations by outcome",
		}, []string{"validated"}),
		kkOrder: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "goimpfit_kk_order",
			Help:    "Selected Lin-KK order M",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goimpfit_circuit_cache_lookups_total",
			Help: "Parsed-circuit cache lookups by result",
		}, []string{"result"}),
		webhooksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goimpfit_webhooks_total",
			Help: "Webhook deliveries by result",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goimpfit_http_requests_total",
			Help: "HTTP requests by handler and status code",
		}, []string{"handler", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goimpfit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"handler"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFit records one finished fit. A nil receiver is a no-op.
func (m *Metrics) ObserveFit(method string, global bool, d time.Duration, trials int, rmse float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fitsTotal.WithLabelValues(method, result).Inc()
	m.fitDuration.WithLabelValues(method, strconv.FormatBool(global)).Observe(d.Seconds())
	if err != nil {
		return
	}
	if global {
		m.fitTrials.Observe(float64(trials))
	}
	m.fitRMSE.Observe(rmse)
}

// ObserveKK records one Lin-KK validation.
func (m *Metrics) ObserveKK(order int, validated bool) {
	if m == nil {
		return
	}
	m.kkTotal.WithLabelValues(strconv.FormatBool(validated)).Inc()
	m.kkOrder.Observe(float64(order))
}

// CacheLookup records a circuit cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// WebhookSent records one webhook delivery attempt.
func (m *Metrics) WebhookSent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.webhooksTotal.WithLabelValues("error").Inc()
		return
	}
	m.webhooksTotal.WithLabelValues("ok").Inc()
}

// Middleware wraps an HTTP handler with request counting and timing.
func (m *Metrics) Middleware(name string, handler http.Handler) http.Handler {
	if m == nil {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler.ServeHTTP(wrapped, r)

		m.httpDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(name, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
