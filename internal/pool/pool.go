// Package pool is the L2 small general-purpose allocator: a six-class
// split-on-demand free list from 64 B to 2 KiB, falling back to palloc
// directly for anything bigger. Grounded on
// original_source/kernel/mem/alloc.c: mem_alloc finds the smallest class
// that fits, splitting a block from the next class up on demand; mem_free
// never coalesces (DESIGN.md's Open Question decision, matched verbatim).
//
// The C source writes a size header inline at the front of every block so
// mem_free can find its class. This port tracks that bookkeeping in the
// allocator's own maps instead of writing bytes into the simulated arena -
// the same representational simplification palloc makes for its tree, and
// for the same reason: section 8's properties are about allocator behavior,
// not byte layout.
package pool

import (
	"sync"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/faultinj"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/palloc"
)

// classSizes are the six block sizes the pool serves directly.
var classSizes = [6]uint64{64, 128, 256, 512, 1024, 2048}

// Allocator is the L2 small allocator. The zero value is not usable; use
// New.
type Allocator struct {
	mu sync.Mutex

	pages    *palloc.Allocator
	pageSize uint64

	classes [len(classSizes)][]arena.PhysAddr

	smallOwned map[arena.PhysAddr]int
	bigOwned   map[arena.PhysAddr]struct{}

	log     klog.Logger
	fault   *faultinj.Injector
	metrics metrics.Sink
}

// New builds an Allocator drawing whole pages from pages as its classes run
// dry. pageSize must be at least twice the largest class (half-page classes,
// per the spec).
func New(pages *palloc.Allocator, pageSize uint64, log klog.Logger, fault *faultinj.Injector, sink metrics.Sink) *Allocator {
	if sink == nil {
		sink = metrics.NopSink
	}
	if pageSize < 2*classSizes[len(classSizes)-1] {
		log.Panic("pool: page size too small for the largest class", map[string]any{"page_size": pageSize})
	}
	return &Allocator{
		pages:      pages,
		pageSize:   pageSize,
		smallOwned: make(map[arena.PhysAddr]int),
		bigOwned:   make(map[arena.PhysAddr]struct{}),
		log:        log,
		fault:      fault,
		metrics:    sink,
	}
}

func classFor(n uint64) int {
	for i, size := range classSizes {
		if n <= size {
			return i
		}
	}
	return -1
}

// Alloc returns a block of at least n bytes. Requests larger than the
// largest class go straight to the backing palloc.Allocator, exactly as
// mem_alloc falls through to palloc_alloc for n > 2 KiB.
func (a *Allocator) Alloc(n uint64) (arena.PhysAddr, bool) {
	if a.fault.ShouldFail() {
		a.metrics.IncFailures("pool")
		return 0, false
	}

	class := classFor(n)
	if class < 0 {
		pa, ok := a.pages.Alloc(n)
		if !ok {
			a.metrics.IncFailures("pool")
			return 0, false
		}
		a.mu.Lock()
		a.bigOwned[pa] = struct{}{}
		a.mu.Unlock()
		a.metrics.IncAllocs("pool")
		return pa, true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.refill(class) {
		a.metrics.IncFailures("pool")
		return 0, false
	}
	pa := a.pop(class)
	a.smallOwned[pa] = class
	a.metrics.IncAllocs("pool")
	return pa, true
}

// refill ensures classes[class] has at least one entry, splitting a block
// borrowed from the next class up (recursively, up to a fresh palloc page
// at the top), mirroring mem_alloc's "split one level up."
func (a *Allocator) refill(class int) bool {
	if len(a.classes[class]) > 0 {
		return true
	}
	if class == len(classSizes)-1 {
		pa, ok := a.pages.Alloc(a.pageSize)
		if !ok {
			return false
		}
		half := arena.PhysAddr(classSizes[class])
		a.classes[class] = append(a.classes[class], pa, pa+half)
		return true
	}
	if !a.refill(class + 1) {
		return false
	}
	parent := a.pop(class + 1)
	half := arena.PhysAddr(classSizes[class])
	a.classes[class] = append(a.classes[class], parent, parent+half)
	return true
}

func (a *Allocator) pop(class int) arena.PhysAddr {
	list := a.classes[class]
	pa := list[len(list)-1]
	a.classes[class] = list[:len(list)-1]
	return pa
}

// Free returns a block to its class list (small blocks) or straight back to
// palloc (big blocks). Small blocks are never coalesced - matching
// mem_free's verbatim behavior - so fragmentation across repeated
// alloc/free cycles of mixed sizes is expected; TLSF is the allocator meant
// to absorb long-lived variable-size growth.
func (a *Allocator) Free(pa arena.PhysAddr) {
	a.mu.Lock()
	if class, ok := a.smallOwned[pa]; ok {
		delete(a.smallOwned, pa)
		a.classes[class] = append(a.classes[class], pa)
		a.mu.Unlock()
		a.metrics.IncFrees("pool")
		return
	}
	if _, ok := a.bigOwned[pa]; ok {
		delete(a.bigOwned, pa)
		a.mu.Unlock()
		a.pages.Free(pa)
		a.metrics.IncFrees("pool")
		return
	}
	a.mu.Unlock()
	a.log.Panic("pool: double free or invalid pointer", map[string]any{"addr": uint64(pa)})
}
