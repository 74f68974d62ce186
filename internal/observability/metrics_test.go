package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}

	// Counters with labels only materialize once touched.
	m.IncBufferLeases()
	m.IncCommitFailures()
	m.IncEventsDropped()
	m.IncMessagesFlushed("class_load")
	m.IncCallbackFailures("first_call")
	m.IncControlCommands("drainQueues")
	m.IncExportEvents("success")
	m.ObserveFlushDuration(0.01)
	m.SetBuffersCommitted(3)
	m.SetPoolBytesUsed(24576)
	m.SetCommittedTarget(16384)
	m.SetQueueDepth(2)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families registered")
	}

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"pool_buffers_committed",
		"pool_bytes_used",
		"pool_committed_target_bytes",
		"pool_buffer_leases_total",
		"pool_commit_failures_total",
		"events_dropped_total",
		"messages_flushed_total",
		"callback_failures_total",
		"flush_duration_seconds",
		"event_queue_depth",
		"control_commands_total",
		"export_events_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestMetricValues(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetBuffersCommitted(5)
	if got := testutil.ToFloat64(m.BuffersCommitted); got != 5 {
		t.Errorf("pool_buffers_committed = %v, want 5", got)
	}

	m.IncEventsDropped()
	m.IncEventsDropped()
	if got := testutil.ToFloat64(m.EventsDropped); got != 2 {
		t.Errorf("events_dropped_total = %v, want 2", got)
	}

	m.IncMessagesFlushed("class_load")
	m.IncMessagesFlushed("class_load")
	m.IncMessagesFlushed("first_call")
	if got := testutil.ToFloat64(m.MessagesFlushed.WithLabelValues("class_load")); got != 2 {
		t.Errorf("messages_flushed_total{class_load} = %v, want 2", got)
	}
}
