/*
metrics.go - Prometheus metrics for the billing API

PURPOSE:
  Counters and histograms exported on /metrics. Business-level metrics
  (invoices generated, batch run outcomes) live here next to the HTTP
  duration histogram, so one scrape covers both.
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InvoicesGenerated counts generated invoices by kind (invoice/credit).
var InvoicesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "invoices",
	Name:      "generated_total",
	Help:      "Total invoices generated, by kind.",
}, []string{"kind"})

// BatchRuns counts batch runs by outcome status.
var BatchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "runs",
	Name:      "completed_total",
	Help:      "Total batch runs, by outcome status.",
}, []string{"status"})

// LedgerEntriesCreated counts ledger entries by source type.
var LedgerEntriesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Total ledger entries created, by source type.",
}, []string{"source"})

// RequestDuration observes HTTP handler latency by route pattern and status.
var RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "billing",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route and status code.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "status"})

// statusRecorder captures the response status for the duration histogram.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument wraps a handler with the request duration histogram.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		RequestDuration.WithLabelValues(
			r.Method+" "+routePattern(r),
			strconv.Itoa(rec.status),
		).Observe(time.Since(start).Seconds())
	})
}

// routePattern returns the chi route pattern ("/api/invoices/{id}") rather
// than the raw path, keeping the metric's cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
