//go:build linux

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapRegion reserves address space with an anonymous PROT_NONE mapping.
// Commit flips a chunk to read-write; uncommit drops its pages with
// MADV_DONTNEED and protects them again, so the memory cost of the pool
// tracks the committed set rather than the reservation.
type mmapRegion struct {
	data []byte
}

// NewRegion reserves size bytes of address space. size must be a multiple
// of the page size.
func NewRegion(size int) (Region, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %d bytes: %w", size, err)
	}
	return &mmapRegion{data: data}, nil
}

func (r *mmapRegion) Bytes() []byte { return r.data }

func (r *mmapRegion) Commit(off, length int) error {
	if err := unix.Mprotect(r.data[off:off+length], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("failed to commit region [%d, %d): %w", off, off+length, err)
	}
	return nil
}

func (r *mmapRegion) Uncommit(off, length int) error {
	chunk := r.data[off : off+length]
	if err := unix.Madvise(chunk, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("failed to release region [%d, %d): %w", off, off+length, err)
	}
	if err := unix.Mprotect(chunk, unix.PROT_NONE); err != nil {
		return fmt.Errorf("failed to protect region [%d, %d): %w", off, off+length, err)
	}
	return nil
}

func (r *mmapRegion) Close() error {
	data := r.data
	r.data = nil
	return unix.Munmap(data)
}
