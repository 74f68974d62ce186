package pool

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmtel/vmeventbuf/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func newTestPool(t *testing.T, budget int) (*Pool, *HeapRegion) {
	t.Helper()
	g := GeometryFor(budget, 4096)
	region := NewHeapRegion(g.RegionSize())
	p, err := New(region, g, testLogger(), testMetrics())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return p, region
}

func TestGeometryFor(t *testing.T) {
	tests := []struct {
		name     string
		budget   int
		pageSize int
		want     Geometry
	}{
		{
			name:     "small budget keeps minimum count",
			budget:   4 << 10,
			pageSize: 4096,
			want:     Geometry{BufferSize: 8192, Count: 2, InitialCommit: 2},
		},
		{
			name:     "large budget caps initial commit",
			budget:   1 << 20,
			pageSize: 4096,
			want:     Geometry{BufferSize: 8192, Count: 128, InitialCommit: 80},
		},
		{
			name:     "big pages grow the buffer",
			budget:   1 << 20,
			pageSize: 64 << 10,
			want:     Geometry{BufferSize: 64 << 10, Count: 16, InitialCommit: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GeometryFor(tt.budget, tt.pageSize)
			if got != tt.want {
				t.Errorf("GeometryFor(%d, %d) = %+v, want %+v",
					tt.budget, tt.pageSize, got, tt.want)
			}
		})
	}
}

func TestLeaseAndFlush(t *testing.T) {
	p, _ := newTestPool(t, 16<<10)
	o := &Owner{}

	b := p.Lease(o)
	if b == nil {
		t.Fatal("Lease() returned nil with free buffers available")
	}
	if p.BytesUsed() != int64(p.BufferSize()) {
		t.Errorf("BytesUsed() = %d, want %d", p.BytesUsed(), p.BufferSize())
	}

	data, _ := b.Alloc(16)
	copy(data, "telemetry record")
	b.Release()

	var flushed [][]byte
	p.Flush(func(data []byte) {
		flushed = append(flushed, append([]byte(nil), data...))
	}, int64(p.Committed()*p.BufferSize()))

	if len(flushed) != 1 {
		t.Fatalf("flush delivered %d buffers, want 1", len(flushed))
	}
	if string(flushed[0][:16]) != "telemetry record" {
		t.Errorf("flushed data = %q", flushed[0][:16])
	}
	if p.BytesUsed() != 0 {
		t.Errorf("BytesUsed() = %d after flush, want 0", p.BytesUsed())
	}
}

func TestLeaseExhaustion(t *testing.T) {
	p, _ := newTestPool(t, 16<<10)

	for i := 0; i < p.Count(); i++ {
		if p.Lease(&Owner{}) == nil {
			t.Fatalf("Lease() %d returned nil, want a buffer", i)
		}
	}
	if p.Lease(&Owner{}) != nil {
		t.Error("Lease() beyond capacity should return nil")
	}
}

func TestLeaseCommitFailure(t *testing.T) {
	g := GeometryFor(1<<20, 4096)
	region := NewHeapRegion(g.RegionSize())
	p, err := New(region, g, testLogger(), testMetrics())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// Drain the initially committed set, then fail further commits.
	for i := 0; i < g.InitialCommit; i++ {
		if p.Lease(&Owner{}) == nil {
			t.Fatalf("Lease() %d returned nil", i)
		}
	}
	region.CommitFault = func(off, length int) error {
		return errors.New("out of memory")
	}

	if p.Lease(&Owner{}) != nil {
		t.Error("Lease() should return nil when commit fails")
	}
	if p.Committed() != g.InitialCommit {
		t.Errorf("Committed() = %d, want %d", p.Committed(), g.InitialCommit)
	}
}

func TestFlushSkipsOwnedBuffers(t *testing.T) {
	p, _ := newTestPool(t, 16<<10)

	finished := p.Lease(&Owner{})
	data, _ := finished.Alloc(8)
	copy(data, "done....")
	finished.Release()

	live := p.Lease(&Owner{})
	liveData, _ := live.Alloc(8)
	copy(liveData, "writing.")

	var flushed int
	p.Flush(func([]byte) { flushed++ }, int64(p.Count()*p.BufferSize()))
	if flushed != 1 {
		t.Fatalf("flush delivered %d buffers, want only the finished one", flushed)
	}

	// The owned buffer must still be leased, contents intact.
	var stillLeased bool
	p.LeasedBuffersDo(func(b *Buffer) {
		if b == live {
			stillLeased = true
		}
	})
	if !stillLeased {
		t.Fatal("owned buffer left the leased set during flush")
	}
	if string(live.Written()[:8]) != "writing." {
		t.Errorf("owned buffer contents changed: %q", live.Written()[:8])
	}

	// Once released, the next flush delivers it.
	live.Release()
	flushed = 0
	p.Flush(func([]byte) { flushed++ }, int64(p.Count()*p.BufferSize()))
	if flushed != 1 {
		t.Errorf("second flush delivered %d buffers, want 1", flushed)
	}
}

func TestFlushShrinksToTarget(t *testing.T) {
	g := GeometryFor(1<<20, 4096)
	region := NewHeapRegion(g.RegionSize())
	p, err := New(region, g, testLogger(), testMetrics())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if p.Committed() != g.InitialCommit {
		t.Fatalf("Committed() = %d, want %d", p.Committed(), g.InitialCommit)
	}

	// Nothing leased, target zero: the flush should hand memory back.
	p.Flush(func([]byte) {}, 0)
	if p.Committed() != 0 {
		t.Errorf("Committed() = %d after shrink to zero target, want 0", p.Committed())
	}

	// The pool must still serve leases by recommitting.
	if p.Lease(&Owner{}) == nil {
		t.Error("Lease() after full shrink should recommit a buffer")
	}
	if p.Committed() != 1 {
		t.Errorf("Committed() = %d, want 1", p.Committed())
	}
}

func TestFlushUncommitFailureLeavesBufferFree(t *testing.T) {
	g := GeometryFor(1<<20, 4096)
	region := NewHeapRegion(g.RegionSize())
	p, err := New(region, g, testLogger(), testMetrics())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	region.UncommitFault = func(off, length int) error {
		return errors.New("madvise failed")
	}

	p.Flush(func([]byte) {}, 0)
	if p.Committed() != g.InitialCommit {
		t.Errorf("Committed() = %d, want unchanged %d", p.Committed(), g.InitialCommit)
	}
	if p.Lease(&Owner{}) == nil {
		t.Error("buffers must stay usable after a failed uncommit")
	}
}

func TestEnsureRotates(t *testing.T) {
	p, _ := newTestPool(t, 16<<10)
	o := &Owner{}

	b := p.Lease(o)
	b.Alloc(uint32(p.BufferSize() - 8))

	same := p.Ensure(b, 8, o)
	if same != b {
		t.Fatal("Ensure() should keep the buffer when the record fits")
	}

	rotated := p.Ensure(b, 16, o)
	if rotated == b || rotated == nil {
		t.Fatalf("Ensure() = %v, want a fresh buffer", rotated)
	}
	if b.Owner() != nil {
		t.Error("replaced buffer should be released")
	}
	if rotated.Owner() != o {
		t.Error("fresh buffer should carry the owner token")
	}
}

func TestCloseStopsLeasing(t *testing.T) {
	p, _ := newTestPool(t, 16<<10)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if p.Lease(&Owner{}) != nil {
		t.Error("Lease() after Close should return nil")
	}
	if err := p.Close(); err == nil {
		t.Error("second Close should report the pool closed")
	}
}
