package pool

import "fmt"

// Region is a reserved range of address space carved into buffers. Memory
// inside a region starts uncommitted; the pool commits buffer-sized chunks
// on demand and returns them when the elastic target shrinks.
type Region interface {
	// Bytes returns the full reserved range. Accessing uncommitted pages
	// is undefined on mapped regions.
	Bytes() []byte

	// Commit makes [off, off+length) readable and writable.
	Commit(off, length int) error

	// Uncommit releases the physical pages behind [off, off+length).
	Uncommit(off, length int) error

	// Close releases the reservation.
	Close() error
}

// HeapRegion backs a Region with an ordinary heap allocation. Commit and
// uncommit are bookkeeping no-ops, which makes it the portable fallback and
// the default region for tests. The fault hooks let tests inject commit or
// uncommit failures.
type HeapRegion struct {
	data []byte

	// CommitFault, when set, is consulted before a commit succeeds.
	CommitFault func(off, length int) error

	// UncommitFault, when set, is consulted before an uncommit succeeds.
	UncommitFault func(off, length int) error
}

// NewHeapRegion allocates a heap-backed region of size bytes.
func NewHeapRegion(size int) *HeapRegion {
	return &HeapRegion{data: make([]byte, size)}
}

func (r *HeapRegion) Bytes() []byte { return r.data }

func (r *HeapRegion) Commit(off, length int) error {
	if err := r.checkRange(off, length); err != nil {
		return err
	}
	if r.CommitFault != nil {
		return r.CommitFault(off, length)
	}
	return nil
}

func (r *HeapRegion) Uncommit(off, length int) error {
	if err := r.checkRange(off, length); err != nil {
		return err
	}
	if r.UncommitFault != nil {
		return r.UncommitFault(off, length)
	}
	return nil
}

func (r *HeapRegion) Close() error {
	r.data = nil
	return nil
}

func (r *HeapRegion) checkRange(off, length int) error {
	if off < 0 || length < 0 || off+length > len(r.data) {
		return fmt.Errorf("region range [%d, %d) outside reservation of %d bytes",
			off, off+length, len(r.data))
	}
	return nil
}
