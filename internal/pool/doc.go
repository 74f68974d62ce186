// Package pool implements the telemetry buffer pool: a reserved region of
// address space carved into fixed-size buffers that producers lease, fill
// and hand back through periodic flushes.
//
// # Region
//
// A Region is the backing memory, reserved up front and committed lazily:
//
//	g := pool.GeometryFor(budgetBytes, os.Getpagesize())
//	region, err := pool.NewRegion(g.RegionSize())
//
// On linux the region is anonymous PROT_NONE mmap; Commit maps pages in
// with mprotect and Uncommit returns them with madvise. Everywhere else
// (and in tests) NewHeapRegion backs the same interface with an ordinary
// allocation whose commit and uncommit always succeed.
//
// # Buffers and leases
//
// Every buffer is always in exactly one of three sets: free (committed,
// idle), leased (handed to a producer or awaiting flush) or uncommitted.
// Producers lease a buffer, bump-allocate records into it and release it:
//
//	buf := p.Lease(owner)
//	data, off := buf.Alloc(size)
//	// encode the record into data
//	buf.Release()
//
// Lease never blocks: when the free set is empty an uncommitted buffer is
// committed on the spot, and when that fails (or nothing is left) Lease
// returns nil and the caller drops the record.
//
// # Flushing
//
// The single flusher goroutine periodically collects the leased set:
//
//	p.Flush(func(data []byte) { deliver(data) }, targetBytes)
//
// Buffers still owned by a producer are set aside untouched; finished ones
// are handed to the sink and then either returned to free or, while the
// committed total exceeds targetBytes, have their memory returned to the
// region. The target follows usage, so the footprint grows and shrinks
// with demand.
//
// # Accounting invariant
//
// The committed count always equals free plus leased at quiescent points
// and never leaves [0, Count]; a violation indicates corrupted set
// bookkeeping and panics immediately rather than limping on.
package pool
