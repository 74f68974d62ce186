// Package queue implements the deferred event queue: a mutex-guarded FIFO
// of events that cannot be delivered from the goroutine that produced them.
// A dedicated drain goroutine hands them to their Process method once the
// pipeline is ready for delivery.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vmtel/vmeventbuf/internal/observability"
)

// Event is a deferred unit of work. Implementations embed Link to provide
// the intrusive list pointer.
type Event interface {
	Process(ctx context.Context) error
	link() *Link
}

// Link is embedded by queue events to form the intrusive FIFO chain.
type Link struct {
	next Event
}

func (l *Link) link() *Link { return l }

// Queue is a FIFO of deferred events. Schedule may be called from any
// goroutine; Drain detaches the whole chain under the lock and processes
// it outside, so a slow handler never blocks producers.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	head   Event
	tail   *Link
	length int
	closed bool

	log     *slog.Logger
	metrics *observability.Metrics
}

// New creates an empty queue.
func New(log *slog.Logger, metrics *observability.Metrics) *Queue {
	q := &Queue{log: log, metrics: metrics}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Schedule appends ev. With wake set the drain goroutine is signalled;
// without it the event waits for the next wakeup, which is how events are
// parked until a callback for their kind exists.
func (q *Queue) Schedule(ev Event, wake bool) {
	l := ev.link()
	l.next = nil

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if q.tail == nil {
		q.head = ev
	} else {
		q.tail.next = ev
	}
	q.tail = l
	q.length++
	q.metrics.SetQueueDepth(float64(q.length))
	if wake {
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Wake signals the drain goroutine to re-evaluate its condition.
func (q *Queue) Wake() {
	q.cond.Broadcast()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Drain detaches every queued event and handles them in order. With
// process false the chain is discarded without running, which is the
// teardown path. Each event fails independently; a Process error is logged
// and the drain continues. Returns the number of detached events.
func (q *Queue) Drain(ctx context.Context, process bool) int {
	q.mu.Lock()
	head := q.head
	q.head = nil
	q.tail = nil
	q.length = 0
	q.metrics.SetQueueDepth(0)
	q.mu.Unlock()

	n := 0
	for ev := head; ev != nil; {
		next := ev.link().next
		ev.link().next = nil
		if process {
			if err := ev.Process(ctx); err != nil {
				q.log.Warn("deferred event failed", "error", err)
			}
		}
		n++
		ev = next
	}
	return n
}

// Serve drains the queue whenever it is woken and ready reports true,
// until ctx is cancelled or the queue is closed. Intended to run on its
// own goroutine.
func (q *Queue) Serve(ctx context.Context, ready func() bool) {
	stop := context.AfterFunc(ctx, q.cond.Broadcast)
	defer stop()

	for {
		q.mu.Lock()
		for (q.head == nil || !ready()) && !q.closed && ctx.Err() == nil {
			q.cond.Wait()
		}
		if q.closed || ctx.Err() != nil {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		q.Drain(ctx, true)
	}
}

// Close marks the queue closed and releases the drain goroutine. Pending
// events are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.head = nil
	q.tail = nil
	q.length = 0
	q.metrics.SetQueueDepth(0)
	q.mu.Unlock()
	q.cond.Broadcast()
}
