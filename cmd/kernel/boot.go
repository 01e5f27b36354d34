// Package main wires the kernel substrate's layers together and drives the
// simulated bring-up sequence, the Go analogue of the teacher's main()
// (phys_init, cpuchk, dmap_init, attach_devs, cpus_start) minus the device
// and network stack, which section 9 of the spec scopes out.
package main

import (
	"fmt"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/bootinfo"
	"github.com/TomatOrg/TomatOS-sub001/internal/earlyalloc"
	"github.com/TomatOrg/TomatOS-sub001/internal/faultinj"
	"github.com/TomatOrg/TomatOS-sub001/internal/kconfig"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/palloc"
	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
	"github.com/TomatOrg/TomatOS-sub001/internal/pool"
	"github.com/TomatOrg/TomatOS-sub001/internal/smp"
	"github.com/TomatOrg/TomatOS-sub001/internal/timer"
	"github.com/TomatOrg/TomatOS-sub001/internal/tlsf"
	"github.com/TomatOrg/TomatOS-sub001/internal/vmm"
)

// Kernel holds every layer Boot constructs, bottom-up, so cmd/kernelctl and
// tests can reach into any of them without a package-level global.
type Kernel struct {
	Config kconfig.Config
	Info   bootinfo.Info

	Arena   *arena.Arena
	Early   *earlyalloc.Allocator
	Pages   *palloc.Allocator
	VMM     *vmm.VMM
	Pool    *pool.Allocator
	Heap    *tlsf.Allocator
	Lot     *parkinglot.Lot
	Clock   *timer.Clock
	Metrics *metrics.CountingSink
	Topo    *smp.Topology
}

// Boot constructs the layers below the scheduler in this order: config and
// bootinfo validation -> timer -> arena -> earlyalloc -> palloc (plus
// Reclaim of bootloader-reclaimable ranges) -> vmm -> pool -> tlsf ->
// parkinglot. CPUs (internal/smp, and with it runnable/eevdf) are brought
// up separately by StartCPUs. Nothing here is a package-level global; every
// layer is handed explicitly to the next, mirroring the corpus's preference
// for explicit construction over init()-time globals.
func Boot(cfg kconfig.Config, info bootinfo.Info, log klog.Logger) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	// Hardware-absence class: a missing RSDP/invariant TSC is fatal at
	// init, matching section 7's "fatal at init" taxonomy entry.
	if err := info.Validate(); err != nil {
		log.Panic("bootinfo", map[string]any{"err": err.Error()})
	}

	clock, err := timer.Init()
	if err != nil {
		log.Panic("timer", map[string]any{"err": err.Error()})
	}

	// The arena must cover every byte the buddy tree might ever hand out,
	// including bootloader-reclaimable ranges withheld until Reclaim, not
	// just the usable total.
	ram := arena.New(info.TopAddress())
	sink := metrics.NewCountingSink()
	fault := faultinj.NewEveryN(0) // disabled by default; cmd/kernelctl can be extended to flip this for soak tests

	early := earlyalloc.New(info, cfg.PageSize, klog.New("earlyalloc", nil))
	// The bring-up sequence mirrors the teacher's own: a handful of early
	// pages are carved out before the buddy tree exists (the teacher uses
	// them for the boot page tables), then the rest of usable memory is
	// handed off to the real allocator in one shot.
	early.AllocPage()
	early.AllocPage()

	handoff := early.Handoff()
	if len(handoff) == 0 {
		log.Panic("earlyalloc", map[string]any{"err": "no usable memory left after early allocation"})
	}
	regions := make([]palloc.Region, len(handoff))
	for i, r := range handoff {
		regions[i] = palloc.Region{Offset: uint64(r.Base), Length: r.Length}
	}

	// NewFromRegions covers every disjoint handoff range instead of
	// picking only the largest and discarding the rest: a fragmented
	// firmware memory map must not leave the buddy tree under-sized
	// relative to the arena it backs.
	pages := palloc.NewFromRegions(0, regions, klog.New("palloc", nil), fault, sink)

	// mark_unusable_ranges leaves bootloader-reclaimable memory out of
	// the tree entirely at init (mark_bootloader_reclaim keeps it marked
	// used rather than usable); palloc_reclaim releases it once the
	// bootinfo snapshot above no longer needs it left alone.
	for _, e := range info.EntriesOf(bootinfo.BootloaderReclaimable) {
		pages.Reclaim(arena.PhysAddr(e.Base), e.Length)
	}

	vmmgr, err := vmm.New(pages, klog.New("vmm", nil), sink)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	smallPool := pool.New(pages, cfg.PageSize, klog.New("pool", nil), fault, sink)

	heap, err := tlsf.New(pages, cfg.TLSFPoolBytes, klog.New("tlsf", nil), fault, sink)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	lot := parkinglot.New(clock, klog.New("parking_lot", nil), sink)

	return &Kernel{
		Config:  cfg,
		Info:    info,
		Arena:   ram,
		Early:   early,
		Pages:   pages,
		VMM:     vmmgr,
		Pool:    smallPool,
		Heap:    heap,
		Lot:     lot,
		Clock:   clock,
		Metrics: sink,
	}, nil
}

// StartCPUs brings up n simulated CPUs (internal/smp's goroutine-per-AP
// bring-up), the analogue of the teacher's cpus_start(ncpu, aplim). Boot
// itself never starts CPUs, matching the teacher's own main() which calls
// attach_devs/cpus_start as a separate step after phys_init/dmap_init.
func (k *Kernel) StartCPUs(n int, log klog.Logger) {
	k.Topo = smp.Start(n, log, k.Metrics)
}
