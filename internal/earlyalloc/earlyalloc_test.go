package earlyalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TomatOrg/TomatOS-sub001/internal/bootinfo"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
)

func testLog() klog.Logger { return klog.New("earlyalloc-test", nil) }

func TestAllocPageDistinctAndAligned(t *testing.T) {
	info := bootinfo.Info{MemMap: []bootinfo.MemMapEntry{
		{Base: 0, Length: 16 * 4096, Type: bootinfo.Usable},
	}}
	a := New(info, 4096, testLog())

	seen := map[uint64]bool{}
	for i := 0; i < 16; i++ {
		pa := a.AllocPage()
		require.Zero(t, uint64(pa)%4096, "page must be page-aligned")
		require.False(t, seen[uint64(pa)], "pages must not repeat")
		seen[uint64(pa)] = true
	}
}

func TestAllocPageExhaustionAborts(t *testing.T) {
	info := bootinfo.Info{MemMap: []bootinfo.MemMapEntry{
		{Base: 0, Length: 4096, Type: bootinfo.Usable},
	}}
	a := New(info, 4096, testLog())
	a.AllocPage()

	require.Panics(t, func() { a.AllocPage() })
}

func TestHandoffDisablesFurtherAlloc(t *testing.T) {
	info := bootinfo.Info{MemMap: []bootinfo.MemMapEntry{
		{Base: 0, Length: 3 * 4096, Type: bootinfo.Usable},
	}}
	a := New(info, 4096, testLog())
	a.AllocPage()

	regions := a.Handoff()
	require.Len(t, regions, 1)
	require.EqualValues(t, 2*4096, regions[0].Length)

	require.Panics(t, func() { a.AllocPage() })
	require.Panics(t, func() { a.Handoff() })
}

func TestIgnoresNonUsableAndUndersizedEntries(t *testing.T) {
	info := bootinfo.Info{MemMap: []bootinfo.MemMapEntry{
		{Base: 0, Length: 4096, Type: bootinfo.Reserved},
		{Base: 8192, Length: 100, Type: bootinfo.Usable},
		{Base: 0x10000, Length: 4096, Type: bootinfo.Usable},
	}}
	a := New(info, 4096, testLog())
	require.EqualValues(t, 4096, a.Remaining())
}
