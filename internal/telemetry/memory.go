// Package telemetry ties the buffer pool, codec and delivery machinery
// together: producers post events into leased buffers, the flusher decodes
// finished buffers and hands each record to the registered handler, and
// the pipeline exposes the control surface the agent drives.
package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmtel/vmeventbuf/internal/codec"
	apperrors "github.com/vmtel/vmeventbuf/internal/errors"
	"github.com/vmtel/vmeventbuf/internal/observability"
	"github.com/vmtel/vmeventbuf/internal/pause"
	"github.com/vmtel/vmeventbuf/internal/pool"
	"github.com/vmtel/vmeventbuf/pkg/event"
)

// Memory owns the buffer pool and the posting and flushing protocol over
// it. Posting never blocks: when no buffer can be produced the event is
// dropped, a sticky overflow flag is raised and the next flush reports the
// loss.
type Memory struct {
	pool    *pool.Pool
	pause   *pause.Controller
	log     *slog.Logger
	metrics *observability.Metrics

	// flushMu serializes flush cycles: the periodic flusher and agent
	// initiated drains both end up here. previousUsage feeds the elastic
	// target and is only touched under flushMu.
	flushMu       sync.Mutex
	previousUsage int64
	overflow      atomic.Bool

	mu        sync.Mutex
	producers map[*Producer]struct{}
}

// NewMemory wraps a pool. The pause controller must be the one producers
// and maintenance operations share.
func NewMemory(p *pool.Pool, pc *pause.Controller, log *slog.Logger, metrics *observability.Metrics) *Memory {
	return &Memory{
		pool:      p,
		pause:     pc,
		log:       log,
		metrics:   metrics,
		producers: make(map[*Producer]struct{}),
	}
}

// Used returns the bytes currently leased to producers.
func (m *Memory) Used() int64 { return m.pool.BytesUsed() }

// Overflowed reports whether events were dropped since the last flush.
func (m *Memory) Overflowed() bool { return m.overflow.Load() }

// Pool exposes the underlying pool for stats reporting.
func (m *Memory) Pool() *pool.Pool { return m.pool }

// PostClassLoad encodes a class-load record into the producer's buffer.
// Consecutive records sharing a source are deduplicated through the
// buffer's back-reference; a buffer rotation invalidates the reference and
// forces the source to be written again. Reports whether the record was
// buffered.
func (m *Memory) PostClassLoad(p *Producer, ev event.ClassLoadEvent) bool {
	m.pause.Enter()
	defer m.pause.Exit()

	// An empty source behaves exactly like an absent one.
	hasSource := ev.Source != ""
	wantRef := false
	if hasSource && p.buf != nil {
		if off, ok := p.buf.Reference(codec.SlotClassLoad); ok {
			if prev, ok := codec.SourceAt(p.buf.Written(), off); ok && prev == ev.Source {
				wantRef = true
			}
		}
	}

	sizeFull := codec.ClassLoadSize(ev, hasSource)
	sizeRef := codec.ClassLoadSize(ev, false)

	data, off, usedRef := m.alloc(p, sizeFull, sizeRef, wantRef)
	if data == nil {
		return false
	}

	withSource := hasSource && !usedRef
	codec.EncodeClassLoad(data, ev, withSource, usedRef)
	if withSource {
		p.buf.SetReference(codec.SlotClassLoad, off)
	}
	return true
}

// PostFirstCall encodes a first-call record into the producer's buffer.
// Reports whether the record was buffered.
func (m *Memory) PostFirstCall(p *Producer, ev event.FirstCallEvent) bool {
	m.pause.Enter()
	defer m.pause.Exit()

	size := codec.FirstCallSize(ev)
	data, _, _ := m.alloc(p, size, size, false)
	if data == nil {
		return false
	}
	codec.EncodeFirstCall(data, ev)
	return true
}

// alloc places a record of size bytes (refSize when useRef holds) in the
// producer's buffer, rotating to a fresh lease when it does not fit. A
// rotation clears useRef: the referenced record is gone with the old
// buffer.
func (m *Memory) alloc(p *Producer, size, refSize uint32, useRef bool) ([]byte, uint32, bool) {
	if int(size) > m.pool.BufferSize() || size > codec.MaxRecordSize {
		// A record never spans two buffers, and the header size field is
		// sixteen bits.
		m.metrics.IncEventsDropped()
		return nil, 0, false
	}

	want := size
	if useRef {
		want = refSize
	}

	b := p.buf
	if b == nil || !b.Fits(want) {
		useRef = false
		want = size
		b = m.pool.Ensure(b, want, &p.owner)
		p.buf = b
		if b == nil {
			m.overflow.Store(true)
			m.metrics.IncEventsDropped()
			return nil, 0, false
		}
	}

	data, off := b.Alloc(want)
	return data, off, useRef
}

// Flush delivers every finished buffer to the handler and retunes the
// committed-memory target to the midpoint of the previous and current
// usage. Handler errors are logged per record and never stop the flush.
// Concurrent calls are serialized.
func (m *Memory) Flush(h event.Handler) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	usage := m.pool.BytesUsed()
	target := (m.previousUsage + usage) / 2
	m.previousUsage = usage

	start := time.Now()
	m.pool.Flush(func(data []byte) { m.deliver(data, h) }, target)
	m.metrics.ObserveFlushDuration(time.Since(start).Seconds())

	if m.overflow.Swap(false) {
		m.log.Warn("telemetry data lost",
			"usage_before", usage,
			"usage_after", m.pool.BytesUsed())
	}
}

func (m *Memory) deliver(data []byte, h event.Handler) {
	it := codec.NewIterator(data)
	for it.Next() {
		kind := it.Kind()
		var err error
		switch kind {
		case event.KindClassLoad:
			err = h.OnClassLoad(it.ClassLoad())
		case event.KindFirstCall:
			err = h.OnFirstCall(it.FirstCall())
		}
		m.metrics.IncMessagesFlushed(kind.String())
		if err != nil {
			m.log.Warn("delivery callback failed",
				"error", &apperrors.CallbackError{Kind: kind, Err: err})
			m.metrics.IncCallbackFailures(kind.String())
		}
	}
	if err := it.Err(); err != nil {
		m.log.Error("buffer decode failed", "error", err)
	}
}

// ReleaseAll clears every registered producer's buffer so the next flush
// can collect them. Only valid while producers are stopped; DrainQueues
// and Disable call it from inside RunWhilePaused.
func (m *Memory) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.producers {
		if p.buf != nil {
			p.buf.Release()
			p.buf = nil
		}
	}
}
