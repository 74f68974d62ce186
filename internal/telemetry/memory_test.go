package telemetry

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmtel/vmeventbuf/internal/codec"
	"github.com/vmtel/vmeventbuf/internal/observability"
	"github.com/vmtel/vmeventbuf/internal/pause"
	"github.com/vmtel/vmeventbuf/internal/pool"
	"github.com/vmtel/vmeventbuf/pkg/event"
)

var errFailingHandler = errors.New("handler rejected the event")

type recordingHandler struct {
	mu         sync.Mutex
	classLoads []event.ClassLoadEvent
	firstCalls []event.FirstCallEvent
	crossCalls []event.ToJavaCallEvent
	classErr   error
}

func (h *recordingHandler) OnClassLoad(ev event.ClassLoadEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.classLoads = append(h.classLoads, ev)
	return h.classErr
}

func (h *recordingHandler) OnFirstCall(ev event.FirstCallEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.firstCalls = append(h.firstCalls, ev)
	return nil
}

func (h *recordingHandler) OnToJavaCall(ev event.ToJavaCallEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.crossCalls = append(h.crossCalls, ev)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMemory(t *testing.T, budget int) (*Memory, *pause.Controller) {
	t.Helper()
	g := pool.GeometryFor(budget, 4096)
	region := pool.NewHeapRegion(g.RegionSize())
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	pl, err := pool.New(region, g, testLogger(), metrics)
	if err != nil {
		t.Fatalf("pool.New() failed: %v", err)
	}
	pc := &pause.Controller{}
	return NewMemory(pl, pc, testLogger(), metrics), pc
}

func TestPostAndFlushRoundTrip(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	load := event.ClassLoadEvent{
		LoaderID: 1, ClassID: 2,
		Name:   "com/example/App",
		Source: "file:/opt/app.jar",
	}
	call := event.FirstCallEvent{HolderID: 2, Method: "main([Ljava/lang/String;)V"}

	if !m.PostClassLoad(p, load) {
		t.Fatal("PostClassLoad failed with free buffers")
	}
	if !m.PostFirstCall(p, call) {
		t.Fatal("PostFirstCall failed with free buffers")
	}

	var h recordingHandler
	// The buffer is still owned, so nothing is delivered yet.
	m.Flush(&h)
	if len(h.classLoads)+len(h.firstCalls) != 0 {
		t.Fatal("flush delivered records from an owned buffer")
	}

	p.Close()
	m.Flush(&h)
	if len(h.classLoads) != 1 || len(h.firstCalls) != 1 {
		t.Fatalf("delivered %d class loads and %d first calls, want 1 and 1",
			len(h.classLoads), len(h.firstCalls))
	}
	if !reflect.DeepEqual(h.classLoads[0], load) {
		t.Errorf("class load = %+v, want %+v", h.classLoads[0], load)
	}
	if h.firstCalls[0] != call {
		t.Errorf("first call = %+v, want %+v", h.firstCalls[0], call)
	}
}

func TestRepeatedSourceDeduplicates(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	a := event.ClassLoadEvent{ClassID: 1, Name: "a/A", Source: "common.jar"}
	b := event.ClassLoadEvent{ClassID: 2, Name: "a/B", Source: "common.jar"}

	m.PostClassLoad(p, a)
	posAfterFirst := p.buf.Pos()
	m.PostClassLoad(p, b)

	full := codec.ClassLoadSize(b, true)
	ref := codec.ClassLoadSize(b, false)
	grew := p.buf.Pos() - posAfterFirst
	if grew >= full {
		t.Errorf("second record consumed %d bytes, want less than the inline size %d", grew, full)
	}
	if grew > (ref+7)&^7 {
		t.Errorf("second record consumed %d bytes, want at most aligned %d", grew, ref)
	}

	// Both records must still decode with the shared source.
	p.Close()
	var h recordingHandler
	m.Flush(&h)
	if len(h.classLoads) != 2 {
		t.Fatalf("delivered %d class loads, want 2", len(h.classLoads))
	}
	for i, ev := range h.classLoads {
		if ev.Source != "common.jar" {
			t.Errorf("classLoads[%d].Source = %q, want common.jar", i, ev.Source)
		}
	}
}

func TestDifferentSourceWritesInline(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	m.PostClassLoad(p, event.ClassLoadEvent{ClassID: 1, Name: "a/A", Source: "one.jar"})
	pos := p.buf.Pos()
	ev := event.ClassLoadEvent{ClassID: 2, Name: "a/B", Source: "two.jar"}
	m.PostClassLoad(p, ev)

	want := (codec.ClassLoadSize(ev, true) + 7) &^ 7
	if got := p.buf.Pos() - pos; got != want {
		t.Errorf("record with a new source consumed %d bytes, want %d", got, want)
	}
}

func TestEmptySourceNeverDeduplicates(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	m.PostClassLoad(p, event.ClassLoadEvent{ClassID: 1, Name: "a/A", Source: "one.jar"})
	m.PostClassLoad(p, event.ClassLoadEvent{ClassID: 2, Name: "a/B"})

	p.Close()
	var h recordingHandler
	m.Flush(&h)
	if len(h.classLoads) != 2 {
		t.Fatalf("delivered %d class loads, want 2", len(h.classLoads))
	}
	if h.classLoads[1].Source != "" {
		t.Errorf("sourceless record decoded with source %q", h.classLoads[1].Source)
	}
}

func TestRotationForcesInlineSource(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	ev := event.ClassLoadEvent{ClassID: 1, Name: "a/A", Source: "common.jar"}
	m.PostClassLoad(p, ev)
	first := p.buf

	// Fill the remainder so the next record rotates to a fresh buffer.
	filler := event.FirstCallEvent{HolderID: 1,
		Method: strings.Repeat("m", int(codec.FirstCallSize(event.FirstCallEvent{}))+512)}
	for p.buf == first {
		if !m.PostFirstCall(p, filler) {
			t.Fatal("filler post failed before rotation")
		}
	}

	// The back-reference died with the old buffer: same source, full size.
	pos := p.buf.Pos()
	next := event.ClassLoadEvent{ClassID: 2, Name: "a/B", Source: "common.jar"}
	m.PostClassLoad(p, next)
	want := (codec.ClassLoadSize(next, true) + 7) &^ 7
	if got := p.buf.Pos() - pos; got != want {
		t.Errorf("post-rotation record consumed %d bytes, want inline size %d", got, want)
	}

	p.Close()
	var h recordingHandler
	m.Flush(&h)
	for i, got := range h.classLoads {
		if got.Source != "common.jar" {
			t.Errorf("classLoads[%d].Source = %q, want common.jar", i, got.Source)
		}
	}
}

func TestOverflowDropsAndReports(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	filler := event.FirstCallEvent{HolderID: 9, Method: strings.Repeat("x", 1000)}
	posted := 0
	for i := 0; i < 1000; i++ {
		if !m.PostFirstCall(p, filler) {
			break
		}
		posted++
	}
	if posted == 0 || posted == 1000 {
		t.Fatalf("posted %d records, expected the pool to fill", posted)
	}
	if !m.Overflowed() {
		t.Fatal("Overflowed() = false after a dropped record")
	}

	p.Close()
	var h recordingHandler
	m.Flush(&h)
	if m.Overflowed() {
		t.Error("flush must clear the overflow flag")
	}
	if len(h.firstCalls) != posted {
		t.Errorf("delivered %d records, want the %d that were buffered", len(h.firstCalls), posted)
	}
}

func TestOversizedRecordDropped(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	huge := event.FirstCallEvent{HolderID: 1, Method: strings.Repeat("x", 9000)}
	if m.PostFirstCall(p, huge) {
		t.Fatal("a record larger than a buffer must be dropped")
	}
	if m.Overflowed() {
		t.Error("an oversized record is not pool exhaustion")
	}
}

func TestRecordSizeCappedWithLargeBuffers(t *testing.T) {
	// With 64KiB pages the buffers grow to the same size as the range of
	// the record header's size field; a record filling the whole buffer
	// would encode a size of zero.
	g := pool.GeometryFor(256<<10, 64<<10)
	region := pool.NewHeapRegion(g.RegionSize())
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	pl, err := pool.New(region, g, testLogger(), metrics)
	if err != nil {
		t.Fatalf("pool.New() failed: %v", err)
	}
	if pl.BufferSize() != 64<<10 {
		t.Fatalf("BufferSize() = %d, want %d", pl.BufferSize(), 64<<10)
	}
	m := NewMemory(pl, &pause.Controller{}, testLogger(), metrics)
	p := m.NewProducer()

	base := int(codec.FirstCallSize(event.FirstCallEvent{}))
	tooBig := event.FirstCallEvent{HolderID: 1, Method: strings.Repeat("m", 64<<10-base)}
	if m.PostFirstCall(p, tooBig) {
		t.Fatal("a record too large for the header size field must be dropped")
	}
	if m.Overflowed() {
		t.Error("an oversized record is not pool exhaustion")
	}

	fits := event.FirstCallEvent{HolderID: 1, Method: strings.Repeat("m", 64<<10-base-1)}
	if !m.PostFirstCall(p, fits) {
		t.Fatal("the largest encodable record was rejected")
	}

	p.Close()
	var h recordingHandler
	m.Flush(&h)
	if len(h.firstCalls) != 1 {
		t.Fatalf("delivered %d first calls, want 1", len(h.firstCalls))
	}
	if got := len(h.firstCalls[0].Method); got != 64<<10-base-1 {
		t.Errorf("decoded method of %d bytes, want %d", got, 64<<10-base-1)
	}
}

func TestHandlerFailureDoesNotStopFlush(t *testing.T) {
	m, _ := newTestMemory(t, 16<<10)
	p := m.NewProducer()

	m.PostClassLoad(p, event.ClassLoadEvent{ClassID: 1, Name: "a/A"})
	m.PostClassLoad(p, event.ClassLoadEvent{ClassID: 2, Name: "a/B"})
	m.PostFirstCall(p, event.FirstCallEvent{HolderID: 1, Method: "run()V"})
	p.Close()

	h := recordingHandler{classErr: errFailingHandler}
	m.Flush(&h)
	if len(h.classLoads) != 2 || len(h.firstCalls) != 1 {
		t.Errorf("delivered %d class loads and %d first calls despite handler errors, want 2 and 1",
			len(h.classLoads), len(h.firstCalls))
	}
}

func TestReleaseAllCollectsLiveBuffers(t *testing.T) {
	m, pc := newTestMemory(t, 16<<10)
	p := m.NewProducer()
	m.PostClassLoad(p, event.ClassLoadEvent{ClassID: 1, Name: "a/A"})

	pc.RunWhilePaused(nil, m.ReleaseAll)

	var h recordingHandler
	m.Flush(&h)
	if len(h.classLoads) != 1 {
		t.Errorf("delivered %d class loads after ReleaseAll, want 1", len(h.classLoads))
	}
	if p.buf != nil {
		t.Error("producer should have lost its buffer")
	}
}
