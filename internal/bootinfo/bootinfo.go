// Package bootinfo models the Limine-style handoff structures the external
// interfaces section of the spec fixes: a typed memory map, the kernel's
// PMRs, and RSDP presence. A YAML document in this shape stands in for the
// real bootloader protocol.
package bootinfo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TomatOrg/TomatOS-sub001/internal/kconfig"
)

// EntryType enumerates the firmware memory map entry kinds the spec lists.
type EntryType string

const (
	Usable                EntryType = "usable"
	Reserved              EntryType = "reserved"
	ACPIReclaimable       EntryType = "acpi_reclaimable"
	ACPINVS               EntryType = "acpi_nvs"
	Bad                   EntryType = "bad"
	BootloaderReclaimable EntryType = "bootloader_reclaimable"
	KernelAndModules      EntryType = "kernel_and_modules"
	Framebuffer           EntryType = "framebuffer"
)

// MemMapEntry is one {base, length, type} record from the firmware map.
type MemMapEntry struct {
	Base   uint64    `yaml:"base"`
	Length uint64    `yaml:"length"`
	Type   EntryType `yaml:"type"`
}

func (e MemMapEntry) End() uint64 { return e.Base + e.Length }

// PMR describes one kernel image region (text/rodata/data/bss typically).
type PMR struct {
	Base       uint64 `yaml:"base"`
	Length     uint64 `yaml:"length"`
	PhysBase   uint64 `yaml:"phys_base"`
	Readable   bool   `yaml:"readable"`
	Writable   bool   `yaml:"writable"`
	Executable bool   `yaml:"executable"`
}

// Info is everything the substrate reads out of the boot handoff.
type Info struct {
	MemMap      []MemMapEntry `yaml:"mem_map"`
	PMRs        []PMR         `yaml:"pmrs"`
	HasRSDP     bool          `yaml:"has_rsdp"`
	DirectMapAt uint64        `yaml:"direct_map_at"`
}

// Default synthesizes a single usable region sized from cfg, so callers that
// don't care about the boot protocol never need a YAML fixture.
func Default(cfg kconfig.Config) Info {
	return Info{
		MemMap: []MemMapEntry{
			{Base: 0, Length: cfg.ArenaBytes, Type: Usable},
		},
		HasRSDP:     true,
		DirectMapAt: 0xFFFF800000000000,
	}
}

// Load reads a YAML-described Info document from path.
func Load(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("bootinfo: read %s: %w", path, err)
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("bootinfo: parse %s: %w", path, err)
	}
	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Validate enforces the hardware-absence precondition from the error
// handling design: a missing RSDP is fatal at init.
func (i Info) Validate() error {
	if !i.HasRSDP {
		return fmt.Errorf("bootinfo: no RSDP present")
	}
	if len(i.MemMap) == 0 {
		return fmt.Errorf("bootinfo: empty memory map")
	}
	return nil
}

// UsableTotal sums the length of every usable entry.
func (i Info) UsableTotal() uint64 {
	var total uint64
	for _, e := range i.MemMap {
		if e.Type == Usable {
			total += e.Length
		}
	}
	return total
}

// EntriesOf returns every memory map entry of the given type, in map order.
func (i Info) EntriesOf(t EntryType) []MemMapEntry {
	var out []MemMapEntry
	for _, e := range i.MemMap {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// TopAddress returns the highest end address among usable and
// bootloader-reclaimable entries, original_source/kernel/mem/phys.c's
// init_palloc top_address scan: the buddy tree (and the arena backing it)
// must cover every byte it might ever free, including ranges withheld at
// init until Reclaim names them.
func (i Info) TopAddress() uint64 {
	var top uint64
	for _, e := range i.MemMap {
		if e.Type != Usable && e.Type != BootloaderReclaimable {
			continue
		}
		if end := e.End(); end > top {
			top = end
		}
	}
	return top
}
