//go:build !linux

package pool

// NewRegion falls back to a heap-backed region on platforms without the
// mmap implementation. Commit and uncommit become no-ops, so the pool holds
// its full reservation in memory.
func NewRegion(size int) (Region, error) {
	return NewHeapRegion(size), nil
}
