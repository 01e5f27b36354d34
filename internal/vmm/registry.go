package vmm

import (
	"fmt"
	"sync"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/palloc"
)

// VMM is the L1 virtual memory manager. It owns a PML4 and every descendant
// table it allocates, each backed by one physical page drawn from pages so
// table memory counts against the same budget real page tables would.
type VMM struct {
	mu sync.Mutex

	pages   *palloc.Allocator
	log     klog.Logger
	metrics metrics.Sink

	pml4Phys arena.PhysAddr
	pml4     *table
	tables   map[arena.PhysAddr]*table
}

// New builds a VMM with an empty PML4, drawing its own table pages from
// pages (the L1 buddy allocator initialized earlier in bring-up order).
func New(pages *palloc.Allocator, log klog.Logger, sink metrics.Sink) (*VMM, error) {
	if sink == nil {
		sink = metrics.NopSink
	}
	v := &VMM{pages: pages, log: log, metrics: sink, tables: make(map[arena.PhysAddr]*table)}
	pa, t, err := v.allocTable()
	if err != nil {
		return nil, fmt.Errorf("vmm: allocating PML4: %w", err)
	}
	v.pml4Phys = pa
	v.pml4 = t
	return v, nil
}

func (v *VMM) allocTable() (arena.PhysAddr, *table, error) {
	pa, ok := v.pages.Alloc(PageSize)
	if !ok {
		return 0, nil, fmt.Errorf("vmm: out of physical memory for a page table")
	}
	t := &table{}
	v.tables[pa] = t
	return pa, t, nil
}

// childTable follows entries[idx], allocating a fresh table if absent and
// create is true. It is the Go-struct analogue of the recursive self-map's
// pointer chase.
func (v *VMM) childTable(parent *table, idx uint64, create bool) (*table, error) {
	e := &parent.entries[idx]
	if e.Present() {
		t, ok := v.tables[e.Frame()]
		if !ok {
			v.log.Panic("vmm: page table registry missing entry for present PTE", map[string]any{"frame": uint64(e.Frame())})
		}
		return t, nil
	}
	if !create {
		return nil, nil
	}
	pa, t, err := v.allocTable()
	if err != nil {
		return nil, err
	}
	*e = makePTE(pa, Perms{Write: true, User: true})
	return t, nil
}

// walkCreate descends PML4->PML3->PML2[->PML1], creating any missing
// intermediate table, and returns the table holding the leaf entry for va
// plus that entry's index. If large is true the leaf is the PML2 entry
// (2 MiB mapping); otherwise it is the PML1 entry (4 KiB mapping).
func (v *VMM) walkCreate(va VirtAddr, large bool) (*table, int, error) {
	pml3, err := v.childTable(v.pml4, va.pml4Index(), true)
	if err != nil {
		return nil, 0, err
	}
	pml2, err := v.childTable(pml3, va.pml3Index(), true)
	if err != nil {
		return nil, 0, err
	}
	if large {
		return pml2, int(va.pml2Index()), nil
	}
	pml1, err := v.childTable(pml2, va.pml2Index(), true)
	if err != nil {
		return nil, 0, err
	}
	return pml1, int(va.pml1Index()), nil
}

// walkLookup is the non-creating counterpart, used by Unmap/SetPerms/IsMapped:
// it returns ok=false the moment any intermediate table is missing.
func (v *VMM) walkLookup(va VirtAddr) (t *table, idx int, ok bool) {
	pml3, err := v.childTable(v.pml4, va.pml4Index(), false)
	if err != nil || pml3 == nil {
		return nil, 0, false
	}
	pml2, err := v.childTable(pml3, va.pml3Index(), false)
	if err != nil || pml2 == nil {
		return nil, 0, false
	}
	pml1, err := v.childTable(pml2, va.pml2Index(), false)
	if err != nil || pml1 == nil {
		return nil, 0, false
	}
	return pml1, int(va.pml1Index()), true
}
