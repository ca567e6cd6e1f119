package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sensord",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensord",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensord",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	refreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensord",
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Total number of refresh cycles by outcome.",
		},
		[]string{"device_id", "outcome"},
	)

	refreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensord",
			Subsystem: "refresh",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of refresh cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"device_id"},
	)

	droppedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensord",
			Subsystem: "refresh",
			Name:      "dropped_ticks_total",
			Help:      "Scheduler ticks dropped because a cycle was still in progress.",
		},
		[]string{"device_id"},
	)

	scanSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensord",
			Subsystem: "scan",
			Name:      "sessions_total",
			Help:      "Total number of broadcast scan sessions by result.",
		},
		[]string{"result"},
	)

	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensord",
			Subsystem: "scan",
			Name:      "session_duration_seconds",
			Help:      "Duration of broadcast scan sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"result"},
	)

	cloudFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensord",
			Subsystem: "cloud",
			Name:      "fetches_total",
			Help:      "Total number of cloud status fetches by result.",
		},
		[]string{"result"},
	)

	cloudDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sensord",
			Subsystem: "cloud",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of cloud status fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"result"},
	)

	historySamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sensord",
			Subsystem: "history",
			Name:      "samples_recorded_total",
			Help:      "Total number of samples forwarded to history sinks.",
		},
		[]string{"device_id"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sensord",
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Currently connected websocket stream clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		refreshCycles,
		refreshDuration,
		droppedTicks,
		scanSessions,
		scanDuration,
		cloudFetches,
		cloudDuration,
		historySamples,
		streamClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCycle records one completed refresh cycle.
func RecordCycle(deviceID, outcome string, duration time.Duration) {
	if deviceID == "" {
		deviceID = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	refreshCycles.WithLabelValues(deviceID, outcome).Inc()
	refreshDuration.WithLabelValues(deviceID).Observe(duration.Seconds())
}

// RecordDroppedTick counts a scheduler tick dropped while a cycle was busy.
func RecordDroppedTick(deviceID string) {
	if deviceID == "" {
		deviceID = "unknown"
	}
	droppedTicks.WithLabelValues(deviceID).Inc()
}

// RecordScanSession records one broadcast scan session.
func RecordScanSession(result string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	scanSessions.WithLabelValues(result).Inc()
	scanDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCloudFetch records one cloud status fetch.
func RecordCloudFetch(result string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	cloudFetches.WithLabelValues(result).Inc()
	cloudDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordHistorySample counts a sample forwarded to history sinks.
func RecordHistorySample(deviceID string) {
	if deviceID == "" {
		deviceID = "unknown"
	}
	historySamples.WithLabelValues(deviceID).Inc()
}

// StreamClientConnected tracks a websocket subscriber joining.
func StreamClientConnected() { streamClients.Inc() }

// StreamClientDisconnected tracks a websocket subscriber leaving.
func StreamClientDisconnected() { streamClients.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack forwards to the underlying writer so websocket upgrades still work
// behind the instrumented handler.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// canonicalPath collapses device identifiers so the path label stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "devices" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/devices"
	}
	if len(parts) == 2 {
		return "/devices/:device"
	}
	return "/devices/:device/" + parts[2]
}
