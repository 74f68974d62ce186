package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	apperrors "github.com/vmtel/vmeventbuf/internal/errors"
	"github.com/vmtel/vmeventbuf/internal/observability"
	"github.com/vmtel/vmeventbuf/internal/pause"
	"github.com/vmtel/vmeventbuf/internal/queue"
	"github.com/vmtel/vmeventbuf/pkg/event"
)

// Config carries the initial notification flags.
type Config struct {
	ClassLoad  bool
	FirstCall  bool
	ToJavaCall bool
}

// Pipeline is the delivery front door: it gates posting on the per-kind
// notification flags, routes cross-call events through the deferred queue
// and implements the agent control commands.
type Pipeline struct {
	mem     *Memory
	queue   *queue.Queue
	disp    *Dispatcher
	pause   *pause.Controller
	handler event.Handler
	log     *slog.Logger
	metrics *observability.Metrics

	ready    atomic.Bool
	disabled atomic.Bool

	mu          sync.Mutex
	agent       string
	stopControl func()
}

// NewPipeline wires the delivery pipeline. The handler receives every
// delivered event; cfg seeds the notification flags.
func NewPipeline(mem *Memory, q *queue.Queue, pc *pause.Controller, handler event.Handler,
	cfg Config, log *slog.Logger, metrics *observability.Metrics) *Pipeline {

	disp := &Dispatcher{}
	disp.SetEnabled(event.KindClassLoad, cfg.ClassLoad)
	disp.SetEnabled(event.KindFirstCall, cfg.FirstCall)
	disp.SetEnabled(event.KindToJavaCall, cfg.ToJavaCall)

	return &Pipeline{
		mem:     mem,
		queue:   q,
		disp:    disp,
		pause:   pc,
		handler: handler,
		log:     log,
		metrics: metrics,
	}
}

// Active reports whether events of a kind are currently accepted.
func (p *Pipeline) Active(k event.Kind) bool {
	return !p.disabled.Load() && p.disp.Enabled(k)
}

// Ready reports whether the deferred-start delay has elapsed.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// Disabled reports whether the pipeline was shut off.
func (p *Pipeline) Disabled() bool { return p.disabled.Load() }

// SetReady marks the deferred-start point passed and lets the queue drain
// begin delivering.
func (p *Pipeline) SetReady() {
	p.ready.Store(true)
	p.queue.Wake()
}

// SetStopControl registers the function that stops the control channel;
// drainQueues with the stop flag invokes it.
func (p *Pipeline) SetStopControl(stop func()) {
	p.mu.Lock()
	p.stopControl = stop
	p.mu.Unlock()
}

// Memory returns the posting layer.
func (p *Pipeline) Memory() *Memory { return p.mem }

// PostClassLoad buffers a class-load event if its kind is active.
func (p *Pipeline) PostClassLoad(prod *Producer, ev event.ClassLoadEvent) bool {
	if !p.Active(event.KindClassLoad) {
		return false
	}
	return p.mem.PostClassLoad(prod, ev)
}

// PostFirstCall buffers a first-call event if its kind is active.
func (p *Pipeline) PostFirstCall(prod *Producer, ev event.FirstCallEvent) bool {
	if !p.Active(event.KindFirstCall) {
		return false
	}
	return p.mem.PostFirstCall(prod, ev)
}

// PostToJavaCall schedules a cross-call event on the deferred queue. The
// drain goroutine is only woken when the pipeline is ready and the agent
// registered a callback for the kind; otherwise the event waits.
func (p *Pipeline) PostToJavaCall(name string) bool {
	if !p.Active(event.KindToJavaCall) {
		return false
	}
	wake := p.ready.Load() && p.disp.HasCallback(event.KindToJavaCall)
	p.queue.Schedule(&crossCallEvent{name: name, p: p}, wake)
	return true
}

// Flush runs one delivery cycle. Called by the periodic flusher.
func (p *Pipeline) Flush() {
	p.mem.Flush(p.handler)
}

// ServeQueue runs the deferred queue drain loop until ctx is cancelled.
func (p *Pipeline) ServeQueue(ctx context.Context) {
	p.queue.Serve(ctx, func() bool {
		return p.ready.Load() && p.disp.HasCallback(event.KindToJavaCall)
	})
}

// Disable shuts the pipeline off: notifications stop, live buffers are
// released under pause and pending deferred events are discarded. It is
// idempotent.
func (p *Pipeline) Disable() error {
	if p.disabled.Swap(true) {
		return nil
	}
	p.pause.RunWhilePaused(nil, func() {
		p.disp.DisableAll()
		p.mem.ReleaseAll()
	})
	p.queue.Drain(context.Background(), false)
	p.log.Info("telemetry pipeline disabled")
	return nil
}

// SetNotificationEnabled flips the posting flag for a wire kind id.
func (p *Pipeline) SetNotificationEnabled(kind int, enabled bool) error {
	k := event.Kind(kind)
	if !p.disp.SetEnabled(k, enabled) {
		return &apperrors.CommandError{
			Command: "enableEventNotifications",
			Err:     &unknownKindError{kind: kind},
		}
	}
	if k == event.KindToJavaCall {
		if enabled {
			p.queue.Wake()
		} else {
			// Turning cross-call delivery off also discards whatever is
			// parked on the deferred queue.
			p.queue.Drain(context.Background(), false)
		}
	}
	p.log.Info("notification flag changed", "kind", k.String(), "enabled", enabled)
	return nil
}

// DrainQueues forces a delivery cycle. With force set, live producer
// buffers holding data are released under pause first so the flush can
// collect them; then the deferred queue is drained. With stopAfter the
// control channel stops before the final cycle and the pipeline shuts
// down afterwards.
func (p *Pipeline) DrainQueues(force, stopAfter bool) error {
	if stopAfter {
		p.mu.Lock()
		stop := p.stopControl
		p.mu.Unlock()
		if stop != nil {
			stop()
		}
	}

	if force || stopAfter {
		p.pause.RunWhilePaused(
			func() bool { return p.mem.Used() > 0 },
			p.mem.ReleaseAll,
		)
	}
	p.mem.Flush(p.handler)
	p.queue.Drain(context.Background(), true)

	if stopAfter {
		p.disabled.Store(true)
		p.disp.DisableAll()
		p.log.Info("telemetry pipeline stopped after drain")
	}
	return nil
}

// RegisterAgent records the connected agent's name.
func (p *Pipeline) RegisterAgent(name string) error {
	p.mu.Lock()
	p.agent = name
	p.mu.Unlock()
	p.log.Info("agent registered", "agent", name)
	return nil
}

// Agent returns the registered agent name.
func (p *Pipeline) Agent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agent
}

// RegisterCallback records the managed callback for a wire kind id. A
// cross-call callback wakes the queue drain: launcher events may already
// be parked waiting for it.
func (p *Pipeline) RegisterCallback(kind int, method string) error {
	k := event.Kind(kind)
	if !p.disp.RegisterCallback(k, method) {
		return &apperrors.CommandError{
			Command: "registerCallback",
			Err:     &unknownKindError{kind: kind},
		}
	}
	if k == event.KindToJavaCall {
		p.queue.Wake()
	}
	p.log.Info("callback registered", "kind", k.String(), "method", method)
	return nil
}

type unknownKindError struct {
	kind int
}

func (e *unknownKindError) Error() string {
	return "unknown notification kind " + event.Kind(e.kind).String()
}

type crossCallEvent struct {
	queue.Link
	name string
	p    *Pipeline
}

func (e *crossCallEvent) Process(ctx context.Context) error {
	return e.p.handler.OnToJavaCall(event.ToJavaCallEvent{Name: e.name})
}
