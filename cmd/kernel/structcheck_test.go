package main

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/TomatOrg/TomatOS-sub001/internal/arena"
	"github.com/TomatOrg/TomatOS-sub001/internal/bootinfo"
	"github.com/TomatOrg/TomatOS-sub001/internal/eevdf"
	"github.com/TomatOrg/TomatOS-sub001/internal/kconfig"
	"github.com/TomatOrg/TomatOS-sub001/internal/vmm"
)

// TestStructSizes is the Go analogue of the teacher's structchk(): a
// compile-time-adjacent sanity check that a handful of structs whose layout
// downstream code depends on (wire-shaped YAML structs, and the scheduler
// node every CPU's run queue packs by the thousands) have not silently
// grown or shrunk a field. Grounded on the teacher's structchk, which does
// the same for stat_t ahead of every boot.
func TestStructSizes(t *testing.T) {
	require.EqualValues(t, 8, unsafe.Sizeof(arena.PhysAddr(0)), "PhysAddr must stay a bare uint64")
	require.EqualValues(t, 6, unsafe.Sizeof(vmm.Perms{}), "Perms is six packed bool flags, no hidden padding")
	require.EqualValues(t, 32, unsafe.Sizeof(bootinfo.MemMapEntry{}), "MemMapEntry: 2 uint64 + 1 string header")
	require.EqualValues(t, 32, unsafe.Sizeof(bootinfo.PMR{}), "PMR: 3 uint64 + 3 bool, padded to 8")
	require.EqualValues(t, 20, unsafe.Sizeof(kconfig.Config{}.EEVDFWeights), "EEVDFWeights is 5 packed uint32s")
	require.EqualValues(t, 88, unsafe.Sizeof(eevdf.Node{}), "Node layout drifted; every run-queue entry pays for this")
}
