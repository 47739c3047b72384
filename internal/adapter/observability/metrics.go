package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypanda_queries_total",
			Help: "Total number of SQL statements executed by outcome",
		},
		[]string{"outcome"},
	)
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypanda_query_duration_seconds",
			Help:    "SQL statement duration in seconds, including row materialization",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)
	RowsFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypanda_rows_fetched_total",
			Help: "Total number of rows materialized from query results",
		},
	)
	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypanda_exports_total",
			Help: "Total number of files written by format and outcome",
		},
		[]string{"format", "outcome"},
	)
	RetrievalWindowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypanda_retrieval_windows_total",
			Help: "Total number of retrieval windows fetched by outcome",
		},
		[]string{"outcome"},
	)
)

var initOnce sync.Once

// InitMetrics registers the collectors with the default registry. Repeated
// calls are no-ops.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(QueriesTotal)
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(RowsFetched)
		prometheus.MustRegister(ExportsTotal)
		prometheus.MustRegister(RetrievalWindowsTotal)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveQuery records one executed statement.
func ObserveQuery(start time.Time, rows int, err error) {
	QueriesTotal.WithLabelValues(outcome(err)).Inc()
	QueryDuration.Observe(time.Since(start).Seconds())
	if err == nil && rows > 0 {
		RowsFetched.Add(float64(rows))
	}
}

// ObserveExport records one written file.
func ObserveExport(format string, err error) {
	ExportsTotal.WithLabelValues(format, outcome(err)).Inc()
}

// ObserveWindow records one fetched retrieval window.
func ObserveWindow(err error) {
	RetrievalWindowsTotal.WithLabelValues(outcome(err)).Inc()
}
