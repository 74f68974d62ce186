package pool

import "sync/atomic"

// RefSlots is the number of back-reference slots per buffer, one per
// buffered message type that supports payload deduplication.
const RefSlots = 2

// Owner is an identity token for the goroutine currently leasing a buffer.
// Each producing goroutine holds exactly one Owner for its lifetime; the
// pool compares token addresses, never contents.
type Owner struct {
	_ int8
}

// reference remembers where a deduplicatable payload was last written. The
// generation ties it to one lease: after the buffer is recycled a stale
// offset can never resolve.
type reference struct {
	off uint32
	gen uint32
	set bool
}

// Buffer is a fixed slice of the pool region with a bump cursor. While
// owned, only the owning goroutine touches the cursor; the flusher reads it
// only after observing the owner cleared.
type Buffer struct {
	next  *Buffer
	data  []byte
	off   int
	pos   uint32
	gen   uint32
	owner atomic.Pointer[Owner]
	refs  [RefSlots]reference
}

// Next and SetNext expose the intrusive link for the pool sets.
func (b *Buffer) Next() *Buffer     { return b.next }
func (b *Buffer) SetNext(n *Buffer) { b.next = n }

// Size returns the buffer capacity in bytes.
func (b *Buffer) Size() int { return len(b.data) }

// Pos returns the current bump cursor.
func (b *Buffer) Pos() uint32 { return b.pos }

// Generation returns the lease generation, incremented each time the
// buffer is handed to a new owner.
func (b *Buffer) Generation() uint32 { return b.gen }

// Owner returns the owning token, or nil when the buffer is not being
// written.
func (b *Buffer) Owner() *Owner { return b.owner.Load() }

// Release clears the owner. The buffer stays leased until the next flush
// collects it; a released buffer must not be written again.
func (b *Buffer) Release() { b.owner.Store(nil) }

// Fits reports whether a record of size bytes can be placed at the cursor.
func (b *Buffer) Fits(size uint32) bool {
	return int(b.pos)+int(size) <= len(b.data)
}

// Alloc carves size bytes at the cursor and returns the slice together
// with its offset inside the buffer. The cursor advances to the next
// 8-byte boundary. Returns nil when the record does not fit. Only the
// owner may call Alloc.
func (b *Buffer) Alloc(size uint32) ([]byte, uint32) {
	if !b.Fits(size) {
		return nil, 0
	}
	off := b.pos
	data := b.data[off : off+size]
	next := align8(off + size)
	if int(next) > len(b.data) {
		next = uint32(len(b.data))
	}
	b.pos = next
	return data, off
}

// Written returns the filled prefix of the buffer.
func (b *Buffer) Written() []byte { return b.data[:b.pos] }

// Reference returns the recorded offset for slot if it belongs to the
// current lease.
func (b *Buffer) Reference(slot int) (uint32, bool) {
	r := b.refs[slot]
	if !r.set || r.gen != b.gen {
		return 0, false
	}
	return r.off, true
}

// SetReference records off as slot's back-reference for the current lease.
func (b *Buffer) SetReference(slot int, off uint32) {
	b.refs[slot] = reference{off: off, gen: b.gen, set: true}
}

// reset prepares the buffer for a new lease.
func (b *Buffer) reset(o *Owner) {
	b.pos = 0
	b.gen++
	for i := range b.refs {
		b.refs[i] = reference{}
	}
	b.owner.Store(o)
}

func align8(n uint32) uint32 { return (n + 7) &^ 7 }
