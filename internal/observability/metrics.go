package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "tunnel",
			Name:      "frames_relayed_total",
			Help:      "CAN frames relayed through the tunnel, by direction.",
		},
		[]string{"direction"},
	)
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "tunnel",
			Name:      "decode_errors_total",
			Help:      "Malformed wire frames discarded by the decoder.",
		},
	)
	busErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "bus",
			Name:      "errors_total",
			Help:      "Local CAN interface errors, by operation and severity.",
		},
		[]string{"op", "fatal"},
	)
	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "tunnel",
			Name:      "sessions_started_total",
			Help:      "Tunnel sessions established, by role.",
		},
		[]string{"role"},
	)
	dialRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "tunnel",
			Name:      "dial_retries_total",
			Help:      "Forward-role dial attempts that failed and were retried.",
		},
	)
	peersRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "tunnel",
			Name:      "peers_rejected_total",
			Help:      "Listen-role connections rejected while a session was active.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status endpoint requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "canlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status endpoint request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesRelayed,
			decodeErrors,
			busErrors,
			sessionsStarted,
			dialRetries,
			peersRejected,
			httpRequests,
			httpDuration,
		)
	})
}

// Directions for RecordFrameRelayed.
const (
	DirectionBusToWire = "bus_to_wire"
	DirectionWireToBus = "wire_to_bus"
)

func RecordFrameRelayed(direction string) {
	RegisterMetrics()
	framesRelayed.WithLabelValues(direction).Inc()
}

func RecordDecodeError() {
	RegisterMetrics()
	decodeErrors.Inc()
}

func RecordBusError(op string, fatal bool) {
	RegisterMetrics()
	busErrors.WithLabelValues(op, strconv.FormatBool(fatal)).Inc()
}

func RecordSessionStart(role string) {
	RegisterMetrics()
	sessionsStarted.WithLabelValues(role).Inc()
}

func RecordDialRetry() {
	RegisterMetrics()
	dialRetries.Inc()
}

func RecordPeerRejected() {
	RegisterMetrics()
	peersRejected.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
