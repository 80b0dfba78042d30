package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	// Registry holds greeter metrics only, so textfile exports stay small.
	Registry = prometheus.NewRegistry()

	advances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greeter",
			Subsystem: "session",
			Name:      "advances_total",
			Help:      "Session advance calls by resulting action or error class.",
		},
		[]string{"result"},
	)
	advanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "greeter",
			Subsystem: "session",
			Name:      "advance_duration_seconds",
			Help:      "Session advance duration in seconds, including broker round trip.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greeter",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Authentication attempts rejected by the broker.",
		},
		[]string{"user", "error_type"},
	)
	lockouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greeter",
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Login runs that stopped after reaching the attempt limit.",
		},
		[]string{"user"},
	)
	brokerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greeter",
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Requests handled by the stub broker by type and reply.",
		},
		[]string{"type", "reply"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		Registry.MustRegister(advances, advanceDuration, authFailures, lockouts, brokerRequests)
	})
}

func RecordAdvance(result string, duration time.Duration) {
	RegisterMetrics()
	advances.WithLabelValues(result).Inc()
	advanceDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func RecordAuthFailure(user, errorType string) {
	RegisterMetrics()
	authFailures.WithLabelValues(user, errorType).Inc()
}

func RecordLockout(user string) {
	RegisterMetrics()
	lockouts.WithLabelValues(user).Inc()
}

func RecordBrokerRequest(requestType, reply string) {
	RegisterMetrics()
	brokerRequests.WithLabelValues(requestType, reply).Inc()
}

// WriteTextfile exports the registry for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, Registry)
}
