// Package palloc is the L1 physical page allocator: a power-of-two buddy
// allocator over a contiguous byte range of the arena, grounded on the
// descend-and-split / coalesce-on-free algorithm in
// original_source/kernel/mem/phys.c. That source packs each tree node's
// unary free-count into a shared bitset for memory compactness in C; this
// port keeps the externally observable contract (best-fit descent, upward
// propagation on alloc/free, virtual-slot masking of a non-power-of-two
// tail, double-free detection) but represents it with one free list per
// order, the ordinary idiomatic-Go shape for this structure (see DESIGN.md
// for the full rationale).
package palloc

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/faultinj"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
)

// Unit is the smallest region the tree tracks, order 0.
const Unit = 64

// Allocator is the buddy page allocator over one contiguous arena range.
// The zero value is not usable; use New.
type Allocator struct {
	mu sync.Mutex

	base     arena.PhysAddr
	covered  uint64 // base..base+covered is the power-of-two-sized tree
	maxOrder uint8

	free  [][]uint64       // free[order] holds block offsets (relative to base) of that order
	owned map[uint64]uint8 // relative offset -> order, for every live allocation

	log     klog.Logger
	fault   *faultinj.Injector
	metrics metrics.Sink
}

// New builds an Allocator managing [base, base+length) of the arena. length
// need not be a power of two: the unreachable tail beyond the largest
// power-of-two prefix is masked out exactly like buddy_toggle_virtual_slots,
// by pre-splitting and never returning those blocks to a free list.
func New(base arena.PhysAddr, length uint64, log klog.Logger, fault *faultinj.Injector, sink metrics.Sink) *Allocator {
	if length < Unit {
		log.Panic("palloc: region smaller than one unit", map[string]any{"length": length})
	}
	if sink == nil {
		sink = metrics.NopSink
	}
	leaves := length / Unit
	maxOrder := uint8(bits.Len64(leaves - 1))
	covered := Unit << maxOrder

	a := &Allocator{
		base:     base,
		covered:  uint64(covered),
		maxOrder: maxOrder,
		free:     make([][]uint64, maxOrder+1),
		owned:    make(map[uint64]uint8),
		log:      log,
		fault:    fault,
		metrics:  sink,
	}
	a.seedRange(0, maxOrder, 0, length)
	return a
}

// Region is one disjoint sub-range, relative to base, that should start out
// free. It is how NewFromRegions and Reclaim both describe "this byte range
// is usable now" to seedRange.
type Region struct {
	Offset uint64
	Length uint64
}

// NewFromRegions builds an Allocator covering [base, base+top) where top is
// the highest region end, the same top_address scan
// original_source/kernel/mem/phys.c's init_palloc runs over the firmware
// memory map before sizing the buddy tree. Every byte not named by a region
// - the gaps between disjoint usable ranges, reserved/ACPI/bad entries, and
// any bootloader-reclaimable range deliberately left out of the list - is
// permanently unavailable, exactly like New's non-power-of-two tail, until
// a later Reclaim names it.
func NewFromRegions(base arena.PhysAddr, regions []Region, log klog.Logger, fault *faultinj.Injector, sink metrics.Sink) *Allocator {
	if len(regions) == 0 {
		log.Panic("palloc: no usable regions", nil)
	}
	if sink == nil {
		sink = metrics.NopSink
	}
	var top uint64
	for _, r := range regions {
		if end := r.Offset + r.Length; end > top {
			top = end
		}
	}
	if top < Unit {
		log.Panic("palloc: covered span smaller than one unit", map[string]any{"top": top})
	}
	leaves := top / Unit
	maxOrder := uint8(bits.Len64(leaves - 1))
	covered := uint64(Unit) << maxOrder

	a := &Allocator{
		base:     base,
		covered:  covered,
		maxOrder: maxOrder,
		free:     make([][]uint64, maxOrder+1),
		owned:    make(map[uint64]uint8),
		log:      log,
		fault:    fault,
		metrics:  sink,
	}
	for _, r := range regions {
		a.seedRange(0, maxOrder, r.Offset, r.Offset+r.Length)
	}
	return a
}

// seedRange marks every block-aligned sub-range of [off, off+size) that
// lies within [from, to) as free, splitting at order boundaries exactly as
// the non-power-of-two tail masking always did, generalized to an
// arbitrary window so disjoint usable ranges at init and a later-reclaimed
// range share the one code path. Each maximal fully-covered block is
// released through release, so a range adjacent to already-free memory
// (the common Reclaim case) coalesces immediately instead of sitting next
// to its neighbor as two separate blocks.
func (a *Allocator) seedRange(off uint64, order uint8, from, to uint64) {
	size := uint64(Unit) << order
	end := off + size
	if end <= from || off >= to {
		return // no overlap with the window
	}
	if from <= off && end <= to {
		a.release(off, order)
		return
	}
	if order == 0 {
		return // partial overlap smaller than one unit; leave it unfree
	}
	half := size / 2
	a.seedRange(off, order-1, from, to)
	a.seedRange(off+half, order-1, from, to)
}

// Reclaim releases a bootloader-reclaimable range withheld at init back to
// the buddy tree, original_source/kernel/mem/phys.c's palloc_reclaim: the
// range was deliberately left out of every region NewFromRegions seeded, so
// it has sat neither free nor owned since boot. Seeding it in now and
// coalescing it with whatever free memory already borders it is exactly
// what release does for a single freed block, just run over a whole range.
// A range ending past the tree's current span first grows the tree by
// doubling until it covers the range; the added space outside the range
// stays unavailable.
func (a *Allocator) Reclaim(base arena.PhysAddr, length uint64) {
	if uint64(base) < uint64(a.base) {
		a.log.Panic("palloc: reclaim of out-of-range region", map[string]any{"base": uint64(base), "length": length})
	}
	off := uint64(base) - uint64(a.base)

	a.mu.Lock()
	defer a.mu.Unlock()
	for a.covered < off+length {
		a.maxOrder++
		a.covered <<= 1
		a.free = append(a.free, nil)
	}
	a.seedRange(0, a.maxOrder, off, off+length)
}

// sizeOrder computes ceil(log2(ceil(size/Unit))), the order whose block size
// is the smallest power-of-two multiple of Unit that is >= size.
func sizeOrder(size uint64) uint8 {
	units := (size + Unit - 1) / Unit
	if units <= 1 {
		return 0
	}
	return uint8(bits.Len64(units - 1))
}

// Alloc returns a block of at least size bytes, or ok=false on exhaustion or
// injected failure. The returned address is aligned to the block's own
// order, i.e. to its size rounded up to a power-of-two multiple of Unit.
func (a *Allocator) Alloc(size uint64) (arena.PhysAddr, bool) {
	if a.fault.ShouldFail() {
		a.metrics.IncFailures("palloc")
		return 0, false
	}
	order := sizeOrder(size)
	if order > a.maxOrder {
		a.metrics.IncFailures("palloc")
		return 0, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	found := order
	for found <= a.maxOrder && len(a.free[found]) == 0 {
		found++
	}
	if found > a.maxOrder {
		a.metrics.IncFailures("palloc")
		return 0, false
	}

	off := a.pop(found)
	for found > order {
		found--
		half := uint64(Unit) << found
		a.free[found] = append(a.free[found], off+half) // push right buddy, keep left
	}
	a.owned[off] = order
	a.metrics.IncAllocs("palloc")
	return a.base + arena.PhysAddr(off), true
}

// pop removes and returns the left-first (lowest-offset) free block of the
// given order, matching phys.c's left-first tie-break.
func (a *Allocator) pop(order uint8) uint64 {
	list := a.free[order]
	minIdx := 0
	for i, v := range list {
		if v < list[minIdx] {
			minIdx = i
		}
	}
	off := list[minIdx]
	list[minIdx] = list[len(list)-1]
	a.free[order] = list[:len(list)-1]
	return off
}

// Free releases a block previously returned by Alloc, coalescing with its
// buddy chain as far as it can.
func (a *Allocator) Free(pa arena.PhysAddr) {
	if uint64(pa) < uint64(a.base) || uint64(pa) >= uint64(a.base)+a.covered {
		a.log.Panic("palloc: free of out-of-range address", map[string]any{"addr": uint64(pa)})
	}
	off := uint64(pa) - uint64(a.base)

	a.mu.Lock()
	defer a.mu.Unlock()

	order, ok := a.owned[off]
	if !ok {
		a.log.Panic("palloc: double free or invalid pointer", map[string]any{"addr": uint64(pa)})
	}
	delete(a.owned, off)
	a.release(off, order)
	a.metrics.IncFrees("palloc")
}

// release walks the buddy chain upward from (off, order), merging with
// whichever buddy at each level is already present in its free list, then
// pushes the final merged block onto its own free list. A buddy that was
// never seeded (the masked tail, a firmware gap, or a range still withheld
// pending Reclaim) is simply absent from every free list, so the walk stops
// there on its own without needing a separate bounds check.
func (a *Allocator) release(off uint64, order uint8) {
	for order < a.maxOrder {
		buddy := off ^ (uint64(Unit) << order)
		idx := -1
		for i, v := range a.free[order] {
			if v == buddy {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		list := a.free[order]
		list[idx] = list[len(list)-1]
		a.free[order] = list[:len(list)-1]
		if buddy < off {
			off = buddy
		}
		order++
	}
	a.free[order] = append(a.free[order], off)
}

// Stats is a point-in-time summary for cmd/kernelctl.
type Stats struct {
	MaxOrder    uint8
	FreeByOrder []int
	LiveAllocs  int
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{MaxOrder: a.maxOrder, FreeByOrder: make([]int, len(a.free)), LiveAllocs: len(a.owned)}
	for i, l := range a.free {
		s.FreeByOrder[i] = len(l)
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("palloc: maxOrder=%d live=%d free=%v", s.MaxOrder, s.LiveAllocs, s.FreeByOrder)
}
