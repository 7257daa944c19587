package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Number of active HTTP connections",
		},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Page fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Duration of single page fetch attempts in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_listings_total",
			Help: "Listings handled by result",
		},
		[]string{"result"},
	)

	phonesFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_phones_found_total",
			Help: "Phone numbers extracted from listings",
		},
	)

	customersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_customers_created_total",
			Help: "Customers stored for the first time",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Scraping runs by final status",
		},
		[]string{"status"},
	)

	liveProxies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxies_alive",
			Help: "Proxies that passed their last probe",
		},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_messages_total",
			Help: "WhatsApp messages by status",
		},
		[]string{"status"},
	)

	outboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox events handled by the relay",
		},
		[]string{"result"},
	)

	outboxBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Outbox events waiting for the relay or given up on",
		},
		[]string{"state"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		activeConnections.Inc()
		defer activeConnections.Dec()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern keeps label cardinality bounded by using the matched chi
// pattern instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordFetch(outcome string, d time.Duration) {
	fetchesTotal.WithLabelValues(outcome).Inc()
	fetchDuration.Observe(d.Seconds())
}

func RecordListing(result string) {
	listingsTotal.WithLabelValues(result).Inc()
}

func AddPhonesFound(n int) {
	phonesFound.Add(float64(n))
}

func RecordCustomerCreated() {
	customersCreated.Inc()
}

func RecordRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

func SetLiveProxies(n int) {
	liveProxies.Set(float64(n))
}

func RecordMessage(status string) {
	messagesTotal.WithLabelValues(status).Inc()
}

func RecordOutbox(result string) {
	outboxPublished.WithLabelValues(result).Inc()
}

func SetOutboxBacklog(pending, deadLetter int64) {
	outboxBacklog.WithLabelValues("pending").Set(float64(pending))
	outboxBacklog.WithLabelValues("dead_letter").Set(float64(deadLetter))
}
