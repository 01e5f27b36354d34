package tlsf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/faultinj"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/palloc"
)

func testLog() klog.Logger { return klog.New("tlsf-test", nil) }

func newTestHeap(t *testing.T, poolBytes uint64) *Allocator {
	t.Helper()
	backing := palloc.New(0, poolBytes*2, testLog(), nil, nil)
	a, err := New(backing, poolBytes, testLog(), nil, nil)
	require.NoError(t, err)
	return a
}

func TestMallocFreeRoundTrip(t *testing.T) {
	a := newTestHeap(t, 1<<20)
	before := a.Stats()

	pa, ok := a.Malloc(100)
	require.True(t, ok)
	a.Free(pa)

	after := a.Stats()
	require.Equal(t, before, after)
}

func TestSplitAndCoalesceAllowsBigAllocAfterFragmentation(t *testing.T) {
	a := newTestHeap(t, 1<<20)

	x, ok := a.Malloc(100)
	require.True(t, ok)
	y, ok := a.Malloc(100)
	require.True(t, ok)
	z, ok := a.Malloc(100)
	require.True(t, ok)

	a.Free(y)
	a.Free(x)
	a.Free(z)

	_, ok = a.Malloc(900 << 10) // 900 KiB, only satisfiable if the pool re-coalesced fully
	require.True(t, ok)
}

func TestDoubleFreeAborts(t *testing.T) {
	a := newTestHeap(t, 1<<20)
	pa, ok := a.Malloc(64)
	require.True(t, ok)
	a.Free(pa)
	require.Panics(t, func() { a.Free(pa) })
}

func TestExhaustionReportsFailureNotPanic(t *testing.T) {
	a := newTestHeap(t, 4096)
	_, ok1 := a.Malloc(4000)
	require.True(t, ok1)
	_, ok2 := a.Malloc(4000)
	require.False(t, ok2)
}

func TestReallocGrowInPlaceWhenNextIsFree(t *testing.T) {
	a := newTestHeap(t, 1<<20)
	ar := arena.New(4 << 20)

	pa, ok := a.Malloc(100)
	require.True(t, ok)
	spacer, ok := a.Malloc(100)
	require.True(t, ok)
	a.Free(spacer)

	grown, ok := a.Realloc(ar, pa, 150)
	require.True(t, ok)
	require.Equal(t, pa, grown, "should grow in place into the freed neighbor")
}

func TestReallocShrinkInPlace(t *testing.T) {
	a := newTestHeap(t, 1<<20)
	pa, ok := a.Malloc(500)
	require.True(t, ok)

	shrunk, ok := a.Realloc(nil, pa, 50)
	require.True(t, ok)
	require.Equal(t, pa, shrunk)
}

func TestFaultInjectionForcesFailure(t *testing.T) {
	inj := faultinj.NewEveryN(2)
	backing := palloc.New(0, 1<<20, testLog(), nil, nil)
	a, err := New(backing, 1<<19, testLog(), inj, nil)
	require.NoError(t, err)

	_, ok1 := a.Malloc(64)
	require.True(t, ok1)
	_, ok2 := a.Malloc(64)
	require.False(t, ok2)
}

func TestMemalignReturnsAlignedAddress(t *testing.T) {
	a := newTestHeap(t, 1<<20)

	pa, ok := a.Memalign(4096, 100)
	require.True(t, ok)
	require.Zero(t, uint64(pa)%4096, "address must be a multiple of the requested alignment")
}

// TestMemalignLeadingGapIsReusable checks the spec's "split the leading gap
// back onto a free list if the gap is large enough to stand alone" clause
// directly: force a leading gap by first allocating a small block so the
// next free block starts unaligned, then confirm a later small Malloc can
// still be served from the pool (i.e. the gap block wasn't silently dropped).
func TestMemalignLeadingGapIsReusable(t *testing.T) {
	a := newTestHeap(t, 1<<20)

	spacer, ok := a.Malloc(64)
	require.True(t, ok)

	aligned, ok := a.Memalign(4096, 100)
	require.True(t, ok)
	require.Zero(t, uint64(aligned)%4096)

	before := a.Stats()
	small, ok := a.Malloc(32)
	require.True(t, ok, "the gap split off behind spacer must still be usable")
	a.Free(small)
	a.Free(spacer)
	a.Free(aligned)
	after := a.Stats()
	require.Equal(t, before.PoolBytes, after.PoolBytes)
}

func TestMemalignFaultInjectionForcesFailure(t *testing.T) {
	inj := faultinj.NewEveryN(1)
	backing := palloc.New(0, 1<<20, testLog(), nil, nil)
	a, err := New(backing, 1<<19, testLog(), inj, nil)
	require.NoError(t, err)

	_, ok := a.Memalign(4096, 64)
	require.False(t, ok)
}

func TestMetricsCountAllocsAndFrees(t *testing.T) {
	sink := metrics.NewCountingSink()
	backing := palloc.New(0, 1<<20, testLog(), nil, nil)
	a, err := New(backing, 1<<19, testLog(), nil, sink)
	require.NoError(t, err)

	pa, ok := a.Malloc(64)
	require.True(t, ok)
	a.Free(pa)

	snap := sink.Snapshot()
	require.EqualValues(t, 1, snap.Allocs["tlsf"])
	require.EqualValues(t, 1, snap.Frees["tlsf"])
}
