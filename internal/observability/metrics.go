package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Pool metrics
	BuffersCommitted prometheus.Gauge
	PoolBytesUsed    prometheus.Gauge
	CommittedTarget  prometheus.Gauge
	BufferLeases     prometheus.Counter
	CommitFailures   prometheus.Counter

	// Delivery metrics
	EventsDropped    prometheus.Counter
	MessagesFlushed  *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
	FlushDuration    prometheus.Histogram
	QueueDepth       prometheus.Gauge

	// Control metrics
	ControlCommands *prometheus.CounterVec

	// Export metrics
	ExportEvents *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Pool metrics
		BuffersCommitted: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pool_buffers_committed",
				Help: "Number of buffers currently backed by committed memory",
			},
		),
		PoolBytesUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pool_bytes_used",
				Help: "Bytes of buffer space currently leased to producers",
			},
		),
		CommittedTarget: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pool_committed_target_bytes",
				Help: "Elastic committed-memory target computed by the last flush",
			},
		),
		BufferLeases: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pool_buffer_leases_total",
				Help: "Total number of buffer leases handed to producers",
			},
		),
		CommitFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pool_commit_failures_total",
				Help: "Total number of failed buffer memory commits",
			},
		),

		// Delivery metrics
		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "events_dropped_total",
				Help: "Total number of telemetry events dropped for lack of buffer space",
			},
		),
		MessagesFlushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_flushed_total",
				Help: "Total number of buffered messages delivered by flushes",
			},
			[]string{"type"},
		),
		CallbackFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callback_failures_total",
				Help: "Total number of delivery callback failures",
			},
			[]string{"kind"},
		),
		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flush_duration_seconds",
				Help:    "Duration of buffer pool flush cycles",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "event_queue_depth",
				Help: "Number of deferred events waiting in the queue",
			},
		),

		// Control metrics
		ControlCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "control_commands_total",
				Help: "Total number of control channel commands processed",
			},
			[]string{"command"},
		),

		// Export metrics
		ExportEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_events_total",
				Help: "Total number of events handed to the export sink",
			},
			[]string{"status"},
		),
	}
}

// SetBuffersCommitted sets the committed buffer gauge.
func (m *Metrics) SetBuffersCommitted(count float64) {
	m.BuffersCommitted.Set(count)
}

// SetPoolBytesUsed sets the leased bytes gauge.
func (m *Metrics) SetPoolBytesUsed(bytes float64) {
	m.PoolBytesUsed.Set(bytes)
}

// SetCommittedTarget sets the elastic target gauge.
func (m *Metrics) SetCommittedTarget(bytes float64) {
	m.CommittedTarget.Set(bytes)
}

// IncBufferLeases increments the lease counter.
func (m *Metrics) IncBufferLeases() {
	m.BufferLeases.Inc()
}

// IncCommitFailures increments the commit failure counter.
func (m *Metrics) IncCommitFailures() {
	m.CommitFailures.Inc()
}

// IncEventsDropped increments the dropped event counter.
func (m *Metrics) IncEventsDropped() {
	m.EventsDropped.Inc()
}

// IncMessagesFlushed increments the flushed message counter for a type.
func (m *Metrics) IncMessagesFlushed(messageType string) {
	m.MessagesFlushed.WithLabelValues(messageType).Inc()
}

// IncCallbackFailures increments the callback failure counter for a kind.
func (m *Metrics) IncCallbackFailures(kind string) {
	m.CallbackFailures.WithLabelValues(kind).Inc()
}

// ObserveFlushDuration observes a flush cycle duration.
func (m *Metrics) ObserveFlushDuration(seconds float64) {
	m.FlushDuration.Observe(seconds)
}

// SetQueueDepth sets the deferred queue depth gauge.
func (m *Metrics) SetQueueDepth(depth float64) {
	m.QueueDepth.Set(depth)
}

// IncControlCommands increments the control command counter.
func (m *Metrics) IncControlCommands(command string) {
	m.ControlCommands.WithLabelValues(command).Inc()
}

// IncExportEvents increments the export counter for a delivery status.
func (m *Metrics) IncExportEvents(status string) {
	m.ExportEvents.WithLabelValues(status).Inc()
}
