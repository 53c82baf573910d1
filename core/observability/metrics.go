// Package observability exports server metrics to Prometheus.
//
// Metrics is optional: code receiving a nil Metrics should use Noop(), so
// a disabled metrics endpoint costs nothing on the hot path.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics receives server events
type Metrics interface {
	// ConnectionOpened records an accepted connection
	ConnectionOpened()

	// ConnectionClosed records a torn down connection
	ConnectionClosed()

	// ConnectionRejected records a connection closed right after accept.
	// reason is a short label such as "slots_full", "rate_limited" or "register".
	ConnectionRejected(reason string)

	// TaskRejected records a connection dropped because the queue was full
	TaskRejected()

	// RecordResponse records a built response with its status code, the
	// number of bytes queued and the time since the request was enqueued
	RecordResponse(status int, bytes int, duration time.Duration)

	// SetQueueDepth reports the current task queue length
	SetQueueDepth(depth int)
}

type promMetrics struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	tasksRejected       prometheus.Counter
	responses           *prometheus.CounterVec
	responseBytes       prometheus.Counter
	processDuration     prometheus.Histogram
	queueDepth          prometheus.Gauge
}

// New creates Prometheus-backed Metrics registered on reg
func New(reg prometheus.Registerer) Metrics {
	f := promauto.With(reg)

	return &promMetrics{
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "fasthttpd_connections_active",
			Help: "Number of open client connections",
		}),
		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "fasthttpd_connections_total",
			Help: "Total number of accepted client connections",
		}),
		connectionsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fasthttpd_connections_rejected_total",
				Help: "Connections closed immediately after accept",
			},
			[]string{"reason"},
		),
		tasksRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "fasthttpd_tasks_rejected_total",
			Help: "Connections dropped because the task queue was full",
		}),
		responses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fasthttpd_responses_total",
				Help: "Responses built, by status code",
			},
			[]string{"status"},
		),
		responseBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "fasthttpd_response_bytes_total",
			Help: "Bytes queued for sending, headers and bodies",
		}),
		processDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "fasthttpd_process_duration_seconds",
			Help: "Time from enqueue to response built",
			Buckets: []float64{
				0.00001, // 10µs
				0.00005, // 50µs
				0.0001,  // 100µs
				0.0005,  // 500µs
				0.001,   // 1ms
				0.005,   // 5ms
				0.01,    // 10ms
				0.05,    // 50ms
				0.1,     // 100ms
			},
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "fasthttpd_task_queue_depth",
			Help: "Tasks waiting for a worker",
		}),
	}
}

func (m *promMetrics) ConnectionOpened() {
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *promMetrics) ConnectionClosed() {
	m.connectionsActive.Dec()
}

func (m *promMetrics) ConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *promMetrics) TaskRejected() {
	m.tasksRejected.Inc()
}

func (m *promMetrics) RecordResponse(status int, bytes int, duration time.Duration) {
	m.responses.WithLabelValues(strconv.Itoa(status)).Inc()
	m.responseBytes.Add(float64(bytes))
	m.processDuration.Observe(duration.Seconds())
}

func (m *promMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type noopMetrics struct{}

// Noop returns Metrics that discard everything
func Noop() Metrics {
	return noopMetrics{}
}

func (noopMetrics) ConnectionOpened() {}
func (noopMetrics) ConnectionClosed() {}
func (noopMetrics) ConnectionRejected(string) {}
func (noopMetrics) TaskRejected() {}
func (noopMetrics) RecordResponse(int, int, time.Duration) {}
func (noopMetrics) SetQueueDepth(int) {}
