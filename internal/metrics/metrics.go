// Package metrics exposes Prometheus collectors for the gradewatch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                  *prometheus.CounterVec
	instanceRunsTotal            *prometheus.CounterVec
	instanceState                *prometheus.GaugeVec
	notificationsTotal           *prometheus.CounterVec
	portalRequestDurationSeconds *prometheus.HistogramVec
	dispatchInFlight             prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	portalRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gradewatch_cycles_total",
				Help: "Total number of scheduled cycles started, labeled by cycle.",
			},
			[]string{"cycle"},
		)

		instanceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gradewatch_instance_runs_total",
				Help: "Per-instance units of work, labeled by instance and outcome.",
			},
			[]string{"instance", "outcome"},
		)

		instanceState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gradewatch_instance_state",
				Help: "1 for the current health state of each instance, 0 otherwise.",
			},
			[]string{"instance", "state"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gradewatch_notifications_total",
				Help: "Notifications emitted, labeled by delivery status.",
			},
			[]string{"status"},
		)

		portalRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gradewatch_portal_request_duration_seconds",
				Help:    "Latency of requests against the SSO and data endpoints.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		dispatchInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gradewatch_dispatch_in_flight",
				Help: "Units of work currently holding a dispatch slot.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		portalRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gradewatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle counts one trigger of the named cycle.
func ObserveCycle(cycle string) {
	Init()
	cyclesTotal.WithLabelValues(cycle).Inc()
}

// ObserveInstanceRun records the outcome of one unit of work.
func ObserveInstanceRun(instance, outcome string) {
	Init()
	instanceRunsTotal.WithLabelValues(instance, outcome).Inc()
}

// SetInstanceState marks state as current for instance and clears the others.
func SetInstanceState(instance, state string, all []string) {
	Init()
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		instanceState.WithLabelValues(instance, s).Set(v)
	}
}

// ObserveNotification counts a delivery attempt.
func ObserveNotification(status string) {
	Init()
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObservePortalRequest records the latency of an upstream call.
func ObservePortalRequest(endpoint string, duration time.Duration) {
	Init()
	portalRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// IncInFlight increments the dispatch gauge.
func IncInFlight() {
	Init()
	dispatchInFlight.Inc()
}

// DecInFlight decrements the dispatch gauge.
func DecInFlight() {
	Init()
	dispatchInFlight.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	portalRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
