// Package kconfig loads the boot-time tunables that the original C sources
// hardcoded as #define constants. A zero-value Config is invalid; callers
// should start from Default() or Load() and override only what they need.
package kconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config collects every numeric knob the substrate's layers need at init
// time. Field names mirror the spec's own vocabulary rather than the C
// macro names, but the defaults reproduce the C constants exactly.
type Config struct {
	// ArenaBytes is the size in bytes of the simulated physical RAM backing
	// internal/arena.
	ArenaBytes uint64 `yaml:"arena_bytes"`

	// PageSize is the frame size palloc/vmm operate on. 4096 on real
	// hardware; kept configurable only so tests can shrink it.
	PageSize uint64 `yaml:"page_size"`

	// EEVDF priority weights, indexed by Priority (lowest..highest).
	EEVDFWeights [5]uint32 `yaml:"eevdf_weights"`

	// ParkingLotLoadFactor is the threads-per-bucket ratio above which the
	// parking lot rehashes. internal/parkinglot does not read this field;
	// it uses its own constant of 3.
	ParkingLotLoadFactor uint32 `yaml:"parking_lot_load_factor"`

	// StackSlotBytes / StackGuardBytes describe the per-thread stack pool
	// geometry: each thread gets StackSlotBytes of stack followed by
	// StackGuardBytes of unmapped guard.
	StackSlotBytes  uint64 `yaml:"stack_slot_bytes"`
	StackGuardBytes uint64 `yaml:"stack_guard_bytes"`

	// TLSFPoolBytes is the size of the heap window handed to the TLSF
	// allocator.
	TLSFPoolBytes uint64 `yaml:"tlsf_pool_bytes"`
}

// Default returns the spec-faithful configuration: numbers taken directly
// from original_source/kernel/mem/memory.h, thread/eevdf.c and
// sync/parking_lot.c.
func Default() Config {
	return Config{
		ArenaBytes:           64 << 20, // 64 MiB simulated RAM
		PageSize:             4096,
		EEVDFWeights:         [5]uint32{1, 2, 3, 4, 5},
		ParkingLotLoadFactor: 3,
		StackSlotBytes:       2 << 20, // 2 MiB stack
		StackGuardBytes:      1 << 20, // 1 MiB guard
		TLSFPoolBytes:        1 << 20, // 1 MiB
	}
}

// Load reads a YAML document from path and overlays it onto Default(). A
// missing or empty field keeps the default value, so a partial YAML file is
// valid input.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("kconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("kconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants Load and Default both need to uphold:
// power-of-two sizes where the allocators require them.
func (c Config) Validate() error {
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("kconfig: page_size %d is not a power of two", c.PageSize)
	}
	if c.ArenaBytes < c.PageSize {
		return fmt.Errorf("kconfig: arena_bytes %d smaller than page_size %d", c.ArenaBytes, c.PageSize)
	}
	if c.ParkingLotLoadFactor == 0 {
		return fmt.Errorf("kconfig: parking_lot_load_factor must be positive")
	}
	return nil
}
