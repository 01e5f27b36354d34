package vmm

import (
	"fmt"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
)

// FaultError is returned by HandlePageFault when the fault cannot be
// resolved: an access outside the heap window and stack pool, a guard-page
// hit, or a protection violation on an already-present page. It is only
// returned to HandlePageFault's caller; nothing in cmd/kernel calls
// HandlePageFault or turns a FaultError into a klog.Panic.
type FaultError struct {
	VA        VirtAddr
	Write     bool
	Present   bool
	GuardPage bool
}

func (e *FaultError) Error() string {
	if e.GuardPage {
		return fmt.Sprintf("vmm: guard page hit at %#x", uint64(e.VA))
	}
	return fmt.Sprintf("vmm: unresolved page fault at %#x (write=%v present=%v)", uint64(e.VA), e.Write, e.Present)
}

// Map installs count 4 KiB mappings starting at va, pointing at the
// physical frames starting at pa, with the given permissions. If
// perms.UnmapDirect is set, the corresponding direct-map entry for each
// frame is cleared so the new mapping becomes the frame's only window -
// vmm.c's MAP_UNMAP_DIRECT.
func (v *VMM) Map(pa arena.PhysAddr, va VirtAddr, count int, perms Perms) error {
	if uint64(va)%PageSize != 0 || uint64(pa)%PageSize != 0 {
		v.log.Panic("vmm: unaligned address passed to Map", map[string]any{"va": uint64(va), "pa": uint64(pa)})
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < count; i++ {
		cva := va + VirtAddr(i*PageSize)
		cpa := pa + arena.PhysAddr(i*PageSize)
		t, idx, err := v.walkCreate(cva, false)
		if err != nil {
			return err
		}
		t.entries[idx] = makePTE(cpa, perms)
		if perms.UnmapDirect {
			v.clearDirectLocked(cpa)
		}
	}
	return nil
}

// clearDirectLocked removes the direct-map PML1 entry for pa, if one is
// installed. Callers must hold v.mu.
func (v *VMM) clearDirectLocked(pa arena.PhysAddr) {
	dva := VirtAddr(DirectMapBase) + VirtAddr(pa)
	if t, idx, ok := v.walkLookup(dva); ok {
		t.entries[idx] = 0
	}
}

// Alloc synthesizes a fresh physical frame per page from the buddy
// allocator and maps it, vmm_alloc's contract.
func (v *VMM) Alloc(va VirtAddr, count int, perms Perms) error {
	if uint64(va)%PageSize != 0 {
		v.log.Panic("vmm: unaligned virtual address passed to Alloc", map[string]any{"va": uint64(va)})
	}
	for i := 0; i < count; i++ {
		cva := va + VirtAddr(i*PageSize)
		pa, ok := v.pages.Alloc(PageSize)
		if !ok {
			return fmt.Errorf("vmm: out of physical memory mapping %#x", uint64(cva))
		}
		if err := v.Map(pa, cva, 1, perms); err != nil {
			return err
		}
		v.metrics.IncAllocs("vmm")
	}
	return nil
}

// Unmap clears count PML1 entries starting at va, returning the physical
// frame that was detached from each page (zero if the page was never
// mapped - vmm_unmap's "silent, reports null" behavior for gaps).
func (v *VMM) Unmap(va VirtAddr, count int) []arena.PhysAddr {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]arena.PhysAddr, count)
	for i := 0; i < count; i++ {
		cva := va + VirtAddr(i*PageSize)
		t, idx, ok := v.walkLookup(cva)
		if !ok || !t.entries[idx].Present() {
			continue
		}
		out[i] = t.entries[idx].Frame()
		t.entries[idx] = 0
		v.metrics.IncFrees("vmm")
	}
	return out
}

// SetPerms updates only the permission bits of count existing PML1 entries,
// preserving each entry's frame. An address that isn't mapped is a
// precondition violation and aborts, matching section 7's fatal-abort
// classification for vmm_set_perms misuse.
func (v *VMM) SetPerms(va VirtAddr, count int, perms Perms) {
	if uint64(va)%PageSize != 0 {
		v.log.Panic("vmm: unaligned virtual address passed to SetPerms", map[string]any{"va": uint64(va)})
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < count; i++ {
		cva := va + VirtAddr(i*PageSize)
		t, idx, ok := v.walkLookup(cva)
		if !ok || !t.entries[idx].Present() {
			v.log.Panic("vmm: SetPerms on unmapped address", map[string]any{"va": uint64(cva)})
		}
		t.entries[idx] = makePTE(t.entries[idx].Frame(), perms)
	}
}

// IsMapped reports whether every 4 KiB page covering [va, va+size) is
// present.
func (v *VMM) IsMapped(va VirtAddr, size uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	start := va.pageAlignedDown()
	end := VirtAddr((uint64(va) + size + PageSize - 1) &^ (PageSize - 1))
	for cva := start; cva < end; cva += PageSize {
		t, idx, ok := v.walkLookup(cva)
		if !ok || !t.entries[idx].Present() {
			return false
		}
	}
	return true
}

// HandlePageFault is the Go analogue of vmm_page_fault_handler: the caller
// saves nothing resembling a trap frame since
// there is none, calls this with the faulting address and access kind, and
// proceeds on a nil error or aborts on a non-nil one.
func (v *VMM) HandlePageFault(va VirtAddr, write, present bool) error {
	if present {
		return &FaultError{VA: va, Write: write, Present: present}
	}
	av := va.pageAlignedDown()
	switch {
	case inKernelHeap(av):
		if err := v.Alloc(av, 1, Perms{Write: true, UnmapDirect: true}); err != nil {
			return err
		}
		return nil
	case inStackPool(av):
		rel := uint64(av) - StackPoolBase
		slotOff := rel % StackSlotSize
		if slotOff >= StackSize {
			return &FaultError{VA: va, Write: write, Present: present, GuardPage: true}
		}
		if err := v.Alloc(av, 1, Perms{Write: true}); err != nil {
			return err
		}
		return nil
	default:
		return &FaultError{VA: va, Write: write, Present: present}
	}
}
