package pool

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	apperrors "github.com/vmtel/vmeventbuf/internal/errors"
	"github.com/vmtel/vmeventbuf/internal/lfstack"
	"github.com/vmtel/vmeventbuf/internal/observability"
)

const (
	desiredBufferSize = 8 << 10

	// MaxBufferSize bounds a single buffer and therefore a single record.
	MaxBufferSize = 64 << 10

	minBufferCount        = 2
	initialCommitEstimate = 640 << 10
)

// Geometry describes the buffer layout of a pool.
type Geometry struct {
	BufferSize    int
	Count         int
	InitialCommit int
}

// RegionSize returns the reservation needed for this layout.
func (g Geometry) RegionSize() int { return g.BufferSize * g.Count }

// GeometryFor derives a layout from a byte budget: buffers of about 8KiB
// rounded up to the page size and capped at 64KiB, at least two buffers,
// and an initial committed set of about 640KiB.
func GeometryFor(budget, pageSize int) Geometry {
	size := desiredBufferSize
	if pageSize > 0 && size%pageSize != 0 {
		size = (size/pageSize + 1) * pageSize
	}
	if size > MaxBufferSize {
		size = MaxBufferSize
	}

	count := budget / size
	if count < minBufferCount {
		count = minBufferCount
	}

	initial := initialCommitEstimate / size
	if initial < 1 {
		initial = 1
	}
	if initial > count {
		initial = count
	}

	return Geometry{BufferSize: size, Count: count, InitialCommit: initial}
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	BufferSize int
	Count      int
	Committed  int
	BytesUsed  int64
}

// Sink consumes the written bytes of one flushed buffer.
type Sink func(data []byte)

// Pool manages the buffer sets. Every buffer is always in exactly one of
// three sets: free (committed, idle), leased (handed to a producer or
// awaiting flush) or uncommitted. The committed count equals free plus
// leased at every quiescent point; a count outside [0, Count] indicates
// corrupted accounting and panics.
type Pool struct {
	region  Region
	buffers []Buffer
	bufSize int

	free        lfstack.Stack[Buffer, *Buffer]
	leased      lfstack.Stack[Buffer, *Buffer]
	uncommitted lfstack.Stack[Buffer, *Buffer]

	committed atomic.Int32
	bytesUsed atomic.Int64
	closed    atomic.Bool

	log     *slog.Logger
	metrics *observability.Metrics
}

// New lays out the region per g and commits the initial buffer set. The
// pool takes ownership of the region.
func New(region Region, g Geometry, log *slog.Logger, metrics *observability.Metrics) (*Pool, error) {
	if g.BufferSize <= 0 || g.Count < minBufferCount {
		return nil, fmt.Errorf("invalid pool geometry: size=%d count=%d", g.BufferSize, g.Count)
	}
	if len(region.Bytes()) < g.RegionSize() {
		return nil, fmt.Errorf("region holds %d bytes, layout needs %d",
			len(region.Bytes()), g.RegionSize())
	}

	p := &Pool{
		region:  region,
		buffers: make([]Buffer, g.Count),
		bufSize: g.BufferSize,
		log:     log,
		metrics: metrics,
	}

	data := region.Bytes()
	for i := range p.buffers {
		off := i * g.BufferSize
		p.buffers[i].data = data[off : off+g.BufferSize]
		p.buffers[i].off = off
	}

	// Commit the initial set; the rest stays reserved only.
	for i := g.Count - 1; i >= g.InitialCommit; i-- {
		p.uncommitted.Push(&p.buffers[i])
	}
	for i := g.InitialCommit - 1; i >= 0; i-- {
		b := &p.buffers[i]
		if err := region.Commit(b.off, len(b.data)); err != nil {
			return nil, fmt.Errorf("failed to commit initial buffer %d: %w", i, err)
		}
		p.addCommitted(1)
		p.free.Push(b)
	}

	log.Info("buffer pool initialized",
		"buffer_size", g.BufferSize,
		"buffer_count", g.Count,
		"initial_committed", g.InitialCommit)
	return p, nil
}

// BufferSize returns the size of every buffer in bytes.
func (p *Pool) BufferSize() int { return p.bufSize }

// Count returns the total number of buffers.
func (p *Pool) Count() int { return len(p.buffers) }

// Committed returns the number of memory-backed buffers.
func (p *Pool) Committed() int { return int(p.committed.Load()) }

// BytesUsed returns the bytes currently leased to producers.
func (p *Pool) BytesUsed() int64 { return p.bytesUsed.Load() }

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	return Stats{
		BufferSize: p.bufSize,
		Count:      len(p.buffers),
		Committed:  p.Committed(),
		BytesUsed:  p.BytesUsed(),
	}
}

// Lease hands a fresh buffer to the owner, committing an uncommitted one
// when the free set is empty. Returns nil when the pool is exhausted or a
// commit fails; the caller drops the record rather than blocking.
func (p *Pool) Lease(o *Owner) *Buffer {
	if p.closed.Load() {
		return nil
	}

	b := p.free.Pop()
	if b == nil {
		b = p.uncommitted.Pop()
		if b == nil {
			return nil
		}
		if err := p.region.Commit(b.off, len(b.data)); err != nil {
			p.uncommitted.Push(b)
			p.log.Warn("buffer commit failed", "offset", b.off, "error", err)
			p.metrics.IncCommitFailures()
			return nil
		}
		p.addCommitted(1)
	}

	b.reset(o)
	p.leased.Push(b)
	used := p.bytesUsed.Add(int64(len(b.data)))
	p.metrics.IncBufferLeases()
	p.metrics.SetPoolBytesUsed(float64(used))
	return b
}

// Ensure returns a buffer with room for size bytes: the current one when
// the record fits, otherwise a fresh lease. A replaced buffer is released
// in place and collected by the next flush.
func (p *Pool) Ensure(b *Buffer, size uint32, o *Owner) *Buffer {
	if b != nil {
		if b.Fits(size) {
			return b
		}
		b.Release()
	}
	return p.Lease(o)
}

// Flush detaches the leased set and hands every finished buffer to the
// sink. Buffers still owned by a producer are set aside untouched and
// returned to the leased set afterwards. Finished buffers go back to free,
// or have their memory returned while the committed count exceeds
// targetBytes. Uncommit is best effort: on failure the buffer stays free.
//
// Calls to Flush must not overlap; the telemetry layer serializes them.
func (p *Pool) Flush(sink Sink, targetBytes int64) {
	targetBuffers := int((targetBytes + int64(p.bufSize) - 1) / int64(p.bufSize))
	toUncommit := p.Committed() - targetBuffers

	var notFinished *Buffer
	for b := p.leased.PopAll(); b != nil; {
		next := b.next
		b.next = nil

		if b.Owner() != nil {
			// Still being written; never decoded, goes back verbatim.
			b.next = notFinished
			notFinished = b
			b = next
			continue
		}

		if b.pos > 0 {
			sink(b.Written())
		}
		p.bytesUsed.Add(-int64(len(b.data)))

		if toUncommit > 0 && p.uncommit(b) {
			toUncommit--
		} else {
			p.free.Push(b)
		}
		b = next
	}
	if notFinished != nil {
		p.leased.PushChain(notFinished)
	}

	// Shrink further from idle free buffers until the target is met.
	for toUncommit > 0 {
		b := p.free.Pop()
		if b == nil {
			break
		}
		if !p.uncommit(b) {
			p.free.Push(b)
			break
		}
		toUncommit--
	}

	p.metrics.SetPoolBytesUsed(float64(p.bytesUsed.Load()))
	p.metrics.SetCommittedTarget(float64(targetBytes))
}

// LeasedBuffersDo calls f for every buffer in the leased set. Only valid
// while all producers and the flusher are stopped.
func (p *Pool) LeasedBuffersDo(f func(*Buffer)) {
	p.leased.Walk(func(b *Buffer) bool {
		f(b)
		return true
	})
}

// Close marks the pool closed and releases the region. Leases after Close
// return nil.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return apperrors.ErrPoolClosed
	}
	return p.region.Close()
}

func (p *Pool) uncommit(b *Buffer) bool {
	if err := p.region.Uncommit(b.off, len(b.data)); err != nil {
		p.log.Warn("buffer uncommit failed", "offset", b.off, "error", err)
		return false
	}
	p.addCommitted(-1)
	p.uncommitted.Push(b)
	return true
}

func (p *Pool) addCommitted(delta int32) {
	n := p.committed.Add(delta)
	if n < 0 || int(n) > len(p.buffers) {
		panic(fmt.Sprintf("pool: committed count %d outside [0, %d]", n, len(p.buffers)))
	}
	p.metrics.SetBuffersCommitted(float64(n))
}
