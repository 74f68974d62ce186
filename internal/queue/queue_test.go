package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmtel/vmeventbuf/internal/observability"
)

type testEvent struct {
	Link
	id  int
	err error
	ran func(id int)
}

func (e *testEvent) Process(ctx context.Context) error {
	if e.ran != nil {
		e.ran(e.id)
	}
	return e.err
}

func newTestQueue() *Queue {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)),
		observability.NewMetrics(prometheus.NewRegistry()))
}

func TestDrainPreservesOrder(t *testing.T) {
	q := newTestQueue()
	var order []int
	record := func(id int) { order = append(order, id) }

	for i := 0; i < 5; i++ {
		q.Schedule(&testEvent{id: i, ran: record}, false)
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}

	n := q.Drain(context.Background(), true)
	if n != 5 {
		t.Fatalf("Drain() = %d, want 5", n)
	}
	for i, id := range order {
		if id != i {
			t.Errorf("order[%d] = %d, want %d", i, id, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", q.Len())
	}
}

func TestDrainDiscardsWithoutProcessing(t *testing.T) {
	q := newTestQueue()
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		q.Schedule(&testEvent{id: i, ran: func(int) { ran.Add(1) }}, false)
	}

	n := q.Drain(context.Background(), false)
	if n != 3 {
		t.Fatalf("Drain() = %d, want 3", n)
	}
	if ran.Load() != 0 {
		t.Errorf("%d events ran during a discarding drain", ran.Load())
	}
}

func TestDrainContinuesPastFailures(t *testing.T) {
	q := newTestQueue()
	var order []int
	record := func(id int) { order = append(order, id) }

	q.Schedule(&testEvent{id: 0, ran: record}, false)
	q.Schedule(&testEvent{id: 1, ran: record, err: errors.New("handler failed")}, false)
	q.Schedule(&testEvent{id: 2, ran: record}, false)

	q.Drain(context.Background(), true)
	if len(order) != 3 {
		t.Fatalf("processed %d events, want all 3 despite the failure", len(order))
	}
}

func TestServeWaitsForReady(t *testing.T) {
	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ready atomic.Bool
	processed := make(chan int, 4)

	go q.Serve(ctx, ready.Load)

	// Scheduled with wake while not ready: must stay queued.
	q.Schedule(&testEvent{id: 1, ran: func(id int) { processed <- id }}, true)
	select {
	case id := <-processed:
		t.Fatalf("event %d processed before ready", id)
	case <-time.After(50 * time.Millisecond):
	}

	ready.Store(true)
	q.Wake()
	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("event not processed after ready")
	}

	// Once ready, a woken schedule drains promptly.
	q.Schedule(&testEvent{id: 2, ran: func(id int) { processed <- id }}, true)
	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("event not processed after wake")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Serve(ctx, func() bool { return true })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return on context cancellation")
	}
}

func TestCloseDropsPending(t *testing.T) {
	q := newTestQueue()
	q.Schedule(&testEvent{id: 1}, false)
	q.Close()

	if q.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", q.Len())
	}
	q.Schedule(&testEvent{id: 2}, false)
	if q.Len() != 0 {
		t.Error("Schedule after Close should drop the event")
	}
}
