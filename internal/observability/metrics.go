package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "godotlink",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Editor session lifecycle transitions.",
		},
		[]string{"state"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "godotlink",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Editor connection attempts by result.",
		},
		[]string{"result"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "godotlink",
			Subsystem: "messaging",
			Name:      "requests_total",
			Help:      "Requests sent to the editor by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "godotlink",
			Subsystem: "messaging",
			Name:      "request_duration_seconds",
			Help:      "Editor request round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionTransitions, connectAttempts, requests, requestDuration)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordSessionTransition(state string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(state).Inc()
}

func RecordConnectAttempt(result string) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(result).Inc()
}

func RecordRequest(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(kind, outcome).Inc()
	requestDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}
