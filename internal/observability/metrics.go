package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	importsTotal    *prometheus.CounterVec
	filesTotal      *prometheus.CounterVec
	rowsTotal       *prometheus.CounterVec
	fieldsNotFound  *prometheus.CounterVec
	activityFailed  prometheus.Counter
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contadesk_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contadesk_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	imports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contadesk_declaration_imports_total",
		Help: "Declaration imports by outcome.",
	}, []string{"outcome"})
	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contadesk_declaration_files_total",
		Help: "Parsed declaration workbooks by category.",
	}, []string{"category"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contadesk_declaration_rows_total",
		Help: "Data rows read from declaration workbooks by category.",
	}, []string{"category"})
	missing := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contadesk_declaration_fields_not_found_total",
		Help: "Rows where no candidate column yielded a value, by category and field.",
	}, []string{"category", "field"})
	activity := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contadesk_activity_record_failures_total",
		Help: "Activity events that could be neither stored nor queued.",
	})
	registry.MustRegister(requests, duration, imports, files, rows, missing, activity)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		importsTotal:    imports,
		filesTotal:      files,
		rowsTotal:       rows,
		fieldsNotFound:  missing,
		activityFailed:  activity,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ImportFinished counts a finished import by outcome.
func (m *Metrics) ImportFinished(outcome string) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(outcome).Inc()
}

// FileParsed counts a parsed workbook, its rows and the fields not found.
func (m *Metrics) FileParsed(category string, rows int, missingTotal, missingSubtotal, missingIVA int) {
	if m == nil {
		return
	}
	m.filesTotal.WithLabelValues(category).Inc()
	m.rowsTotal.WithLabelValues(category).Add(float64(rows))
	m.fieldsNotFound.WithLabelValues(category, "total").Add(float64(missingTotal))
	m.fieldsNotFound.WithLabelValues(category, "subtotal").Add(float64(missingSubtotal))
	m.fieldsNotFound.WithLabelValues(category, "iva").Add(float64(missingIVA))
}

// ActivityFailed counts an activity event that was lost.
func (m *Metrics) ActivityFailed() {
	if m == nil {
		return
	}
	m.activityFailed.Inc()
}

// Registerer exposes the registry for custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
