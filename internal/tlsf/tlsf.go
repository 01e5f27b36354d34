// Package tlsf is the L2 general-purpose heap: a Two-Level Segregated Fit
// allocator giving O(1) malloc/free/realloc over a pool drawn from palloc,
// grounded on original_source/kernel/mem/tlsf.c's two-level bitmap
// (fl_bitmap / sl_bitmap), split-on-alloc and coalesce-on-free design.
//
// tlsf.c packs a block's free bit and previous-block size into the block
// header itself, living inline in the pool memory. This port keeps the
// algorithm - the same first/second-level bitmap classification, the same
// split and immediate-coalesce rules - but represents each block as a Go
// struct linked into an address-ordered list plus a free-list-per-class
// list, the same representational trade palloc and pool make and for the
// same reason (see DESIGN.md).
package tlsf

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/faultinj"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/palloc"
)

const (
	alignSizeLog2    = 3
	alignSize        = 1 << alignSizeLog2
	slIndexCountLog2 = 5
	slIndexCount     = 1 << slIndexCountLog2
	flIndexMax       = 40
	flIndexShift     = alignSizeLog2 + slIndexCountLog2 // 8
	flIndexCount     = flIndexMax - flIndexShift + 1    // 33
	smallBlockSize   = 1 << flIndexShift                // 256

	minBlockSize = alignSize
)

// block is one region of the pool, free or allocated. phys links form the
// address-ordered chain used for coalescing; free links form the
// class-bucket chain used for O(1) best-fit search.
type block struct {
	addr arena.PhysAddr
	size uint64
	free bool

	prevPhys, nextPhys *block
	prevFree, nextFree *block
}

// Allocator is a TLSF heap over one pool drawn from a palloc.Allocator. The
// zero value is not usable; use New.
type Allocator struct {
	mu sync.Mutex

	backing *palloc.Allocator
	poolPA  arena.PhysAddr
	pool    uint64

	flBitmap uint32
	slBitmap [flIndexCount]uint32
	freeList [flIndexCount][slIndexCount]*block

	blocks map[arena.PhysAddr]*block

	log     klog.Logger
	fault   *faultinj.Injector
	metrics metrics.Sink
}

// New draws a poolBytes-sized region from backing and initializes it as one
// large free block.
func New(backing *palloc.Allocator, poolBytes uint64, log klog.Logger, fault *faultinj.Injector, sink metrics.Sink) (*Allocator, error) {
	if sink == nil {
		sink = metrics.NopSink
	}
	pa, ok := backing.Alloc(poolBytes)
	if !ok {
		return nil, fmt.Errorf("tlsf: failed to acquire %d-byte pool from palloc", poolBytes)
	}
	a := &Allocator{
		backing: backing,
		poolPA:  pa,
		pool:    poolBytes,
		blocks:  make(map[arena.PhysAddr]*block),
		log:     log,
		fault:   fault,
		metrics: sink,
	}
	root := &block{addr: pa, size: poolBytes, free: true}
	a.blocks[pa] = root
	a.insertFree(root)
	return a, nil
}

func alignUp(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }

// fls returns the index (0-based) of the highest set bit of a nonzero
// value, tlsf.c's tlsf_fls_sizet.
func fls(v uint64) int { return bits.Len64(v) - 1 }

func mappingInsert(size uint64) (fl, sl int) {
	if size < smallBlockSize {
		return 0, int(size / (smallBlockSize / slIndexCount))
	}
	f := fls(size)
	sl = int((size >> uint(f-slIndexCountLog2)) ^ (1 << slIndexCountLog2))
	fl = f - (flIndexShift - 1)
	return fl, sl
}

func mappingSearch(size uint64) (fl, sl int) {
	if size >= smallBlockSize {
		f := fls(size)
		round := (uint64(1) << uint(f-slIndexCountLog2)) - 1
		size += round
	}
	return mappingInsert(size)
}

func (a *Allocator) insertFree(b *block) {
	fl, sl := mappingInsert(b.size)
	head := a.freeList[fl][sl]
	b.nextFree = head
	b.prevFree = nil
	if head != nil {
		head.prevFree = b
	}
	a.freeList[fl][sl] = b
	a.flBitmap |= 1 << uint(fl)
	a.slBitmap[fl] |= 1 << uint(sl)
}

func (a *Allocator) removeFree(b *block) {
	fl, sl := mappingInsert(b.size)
	if b.prevFree != nil {
		b.prevFree.nextFree = b.nextFree
	} else {
		a.freeList[fl][sl] = b.nextFree
	}
	if b.nextFree != nil {
		b.nextFree.prevFree = b.prevFree
	}
	b.prevFree, b.nextFree = nil, nil
	if a.freeList[fl][sl] == nil {
		a.slBitmap[fl] &^= 1 << uint(sl)
		if a.slBitmap[fl] == 0 {
			a.flBitmap &^= 1 << uint(fl)
		}
	}
}

// findSuitable locates the smallest free block able to serve size, per
// TLSF's mapping_search + bitmap scan.
func (a *Allocator) findSuitable(size uint64) *block {
	fl, sl := mappingSearch(size)
	if fl >= flIndexCount {
		return nil
	}
	slMap := a.slBitmap[fl] & (^uint32(0) << uint(sl))
	if slMap == 0 {
		flMap := a.flBitmap & (^uint32(0) << uint(fl+1))
		if flMap == 0 {
			return nil
		}
		fl = bits.TrailingZeros32(flMap)
		slMap = a.slBitmap[fl]
	}
	sl = bits.TrailingZeros32(slMap)
	return a.freeList[fl][sl]
}

// split carves size bytes off the front of b (which must already be
// removed from its free list) and returns the free remainder, or nil if the
// remainder would be smaller than the minimum block.
func (a *Allocator) split(b *block, size uint64) *block {
	if b.size-size < minBlockSize {
		return nil
	}
	remAddr := b.addr + arena.PhysAddr(size)
	remSize := b.size - size
	b.size = size

	rem := &block{addr: remAddr, size: remSize, free: true}
	rem.nextPhys = b.nextPhys
	if b.nextPhys != nil {
		b.nextPhys.prevPhys = rem
	}
	b.nextPhys = rem
	rem.prevPhys = b
	a.blocks[remAddr] = rem
	return rem
}

// Malloc returns a block of at least n bytes, or ok=false on exhaustion or
// injected failure.
func (a *Allocator) Malloc(n uint64) (arena.PhysAddr, bool) {
	if a.fault.ShouldFail() {
		a.metrics.IncFailures("tlsf")
		return 0, false
	}
	size := alignUp(n, alignSize)
	if size < minBlockSize {
		size = minBlockSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.findSuitable(size)
	if b == nil {
		a.metrics.IncFailures("tlsf")
		return 0, false
	}
	a.removeFree(b)
	if rem := a.split(b, size); rem != nil {
		a.insertFree(rem)
	}
	b.free = false
	a.metrics.IncAllocs("tlsf")
	return b.addr, true
}

// Free returns a block to the pool, immediately coalescing with either
// physically adjacent neighbor that is also free.
func (a *Allocator) Free(pa arena.PhysAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.blocks[pa]
	if !ok || b.free {
		a.log.Panic("tlsf: double free or invalid pointer", map[string]any{"addr": uint64(pa)})
	}
	b.free = true

	if nxt := b.nextPhys; nxt != nil && nxt.free {
		a.removeFree(nxt)
		b.size += nxt.size
		b.nextPhys = nxt.nextPhys
		if nxt.nextPhys != nil {
			nxt.nextPhys.prevPhys = b
		}
		delete(a.blocks, nxt.addr)
	}
	if prv := b.prevPhys; prv != nil && prv.free {
		a.removeFree(prv)
		prv.size += b.size
		prv.nextPhys = b.nextPhys
		if b.nextPhys != nil {
			b.nextPhys.prevPhys = prv
		}
		delete(a.blocks, b.addr)
		b = prv
	}
	a.insertFree(b)
	a.metrics.IncFrees("tlsf")
}

// Realloc resizes a live block in place when possible (shrinking always
// succeeds in place; growing succeeds in place only if the next physical
// block is free and large enough), falling back to malloc+copy+free.
func (a *Allocator) Realloc(ar *arena.Arena, pa arena.PhysAddr, newSize uint64) (arena.PhysAddr, bool) {
	size := alignUp(newSize, alignSize)
	if size < minBlockSize {
		size = minBlockSize
	}

	a.mu.Lock()
	b, ok := a.blocks[pa]
	if !ok || b.free {
		a.mu.Unlock()
		a.log.Panic("tlsf: realloc of invalid pointer", map[string]any{"addr": uint64(pa)})
	}

	if size <= b.size {
		if rem := a.split(b, size); rem != nil {
			a.insertFree(rem)
		}
		a.mu.Unlock()
		return pa, true
	}

	if nxt := b.nextPhys; nxt != nil && nxt.free && b.size+nxt.size >= size {
		a.removeFree(nxt)
		b.size += nxt.size
		b.nextPhys = nxt.nextPhys
		if nxt.nextPhys != nil {
			nxt.nextPhys.prevPhys = b
		}
		delete(a.blocks, nxt.addr)
		if rem := a.split(b, size); rem != nil {
			a.insertFree(rem)
		}
		a.mu.Unlock()
		return pa, true
	}
	oldSize := b.size
	a.mu.Unlock()

	newPA, ok := a.Malloc(newSize)
	if !ok {
		return 0, false
	}
	if ar != nil {
		copy(ar.At(newPA, oldSize), ar.At(pa, oldSize))
	}
	a.Free(pa)
	return newPA, true
}

// Memalign returns a block of at least n bytes whose address is a multiple
// of align, tlsf.c's tlsf_memalign: it over-allocates by align plus one
// minimum block, locates the aligned address inside the found block, and
// splits the leading gap back onto its free list when the gap is large
// enough to stand alone as a block of its own. A gap smaller than that is
// pushed forward by another align until it either vanishes or clears the
// minimum, exactly as tlsf_memalign's own gap_remain adjustment does.
func (a *Allocator) Memalign(align, n uint64) (arena.PhysAddr, bool) {
	if a.fault.ShouldFail() {
		a.metrics.IncFailures("tlsf")
		return 0, false
	}
	if align < alignSize {
		align = alignSize
	}
	size := alignUp(n, alignSize)
	if size < minBlockSize {
		size = minBlockSize
	}
	// Worst case the found block's address is misaligned by up to
	// align-1, and closing that gap up to the minimum block costs another
	// align-1 plus minBlockSize; search for a block with enough slack to
	// absorb both and still leave size bytes behind the aligned address.
	searchSize := size + align + minBlockSize

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.findSuitable(searchSize)
	if b == nil {
		a.metrics.IncFailures("tlsf")
		return 0, false
	}
	a.removeFree(b)

	aligned := arena.PhysAddr(alignUp(uint64(b.addr), align))
	gap := uint64(aligned - b.addr)
	if gap != 0 && gap < minBlockSize {
		aligned = arena.PhysAddr(alignUp(uint64(b.addr)+minBlockSize, align))
		gap = uint64(aligned - b.addr)
	}

	if gap > 0 {
		lead := b
		b = a.split(lead, gap)
		a.insertFree(lead)
	}
	if rem := a.split(b, size); rem != nil {
		a.insertFree(rem)
	}
	b.free = false
	a.metrics.IncAllocs("tlsf")
	return b.addr, true
}

// Stats is a point-in-time summary for cmd/kernelctl.
type Stats struct {
	PoolBytes  uint64
	LiveBlocks int
	FreeBlocks int
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{PoolBytes: a.pool}
	for _, b := range a.blocks {
		if b.free {
			s.FreeBlocks++
		} else {
			s.LiveBlocks++
		}
	}
	return s
}
