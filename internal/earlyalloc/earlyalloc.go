// Package earlyalloc is the bump allocator that hands out page frames before
// palloc's buddy tree exists, grounded on original_source/kernel/mem/early.c:
// it carves whole pages off the tail of the largest usable bootinfo entries
// and is a one-way door - once the real allocator takes over, further calls
// are a programmer error, not a runtime condition, and abort.
package earlyalloc

import (
	"sort"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/bootinfo"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
)

// region is a mutable view of one usable memory map entry; frames are carved
// off the end so the untouched prefix stays easy to hand to palloc later.
type region struct {
	base   uint64
	length uint64
}

// Allocator is the L0 allocator. The zero value is not usable; use New.
type Allocator struct {
	log      klog.Logger
	pageSize uint64
	regions  []region
	disabled bool
}

// New builds an Allocator over every Usable entry in info, largest first so
// small fragments are exhausted last.
func New(info bootinfo.Info, pageSize uint64, log klog.Logger) *Allocator {
	a := &Allocator{log: log, pageSize: pageSize}
	for _, e := range info.MemMap {
		if e.Type != bootinfo.Usable || e.Length < pageSize {
			continue
		}
		base := alignUp(e.Base, pageSize)
		length := e.Length - (base - e.Base)
		length -= length % pageSize
		if length == 0 {
			continue
		}
		a.regions = append(a.regions, region{base: base, length: length})
	}
	sort.Slice(a.regions, func(i, j int) bool { return a.regions[i].length > a.regions[j].length })
	return a
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// AllocPage returns one page-sized, page-aligned frame, carved from the tail
// of the largest remaining region. It aborts (klog.Panic) if called after
// Disable, or if every usable region is exhausted.
func (a *Allocator) AllocPage() arena.PhysAddr {
	if a.disabled {
		a.log.Panic("early_alloc_page_phys called after switchover", nil)
	}
	if len(a.regions) == 0 {
		a.log.Panic("early allocator exhausted", nil)
	}
	r := &a.regions[0]
	r.length -= a.pageSize
	pa := arena.PhysAddr(r.base + r.length)
	if r.length == 0 {
		a.regions = a.regions[1:]
	} else {
		// the region may no longer be the largest; re-sort lazily.
		sort.Slice(a.regions, func(i, j int) bool { return a.regions[i].length > a.regions[j].length })
	}
	return pa
}

// Remaining reports how many bytes are still servable, so palloc's Init can
// hand the untouched prefixes of each region to the buddy tree in one shot.
func (a *Allocator) Remaining() uint64 {
	var total uint64
	for _, r := range a.regions {
		total += r.length
	}
	return total
}

// Handoff disables further early allocation and returns the unconsumed
// prefix of every region, in the order palloc should seed its free lists.
// This is the one-way switch: early.c has no explicit handoff function, but
// the invariant that early and buddy allocation never overlap is the same
// one this models explicitly instead of leaving it to bring-up-order
// discipline.
func (a *Allocator) Handoff() []struct {
	Base   arena.PhysAddr
	Length uint64
} {
	if a.disabled {
		a.log.Panic("earlyalloc: Handoff called twice", nil)
	}
	a.disabled = true
	out := make([]struct {
		Base   arena.PhysAddr
		Length uint64
	}, 0, len(a.regions))
	for _, r := range a.regions {
		out = append(out, struct {
			Base   arena.PhysAddr
			Length uint64
		}{Base: arena.PhysAddr(r.base), Length: r.length})
	}
	a.regions = nil
	return out
}
