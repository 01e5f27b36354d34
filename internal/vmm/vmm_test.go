package vmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/palloc"
)

func testLog() klog.Logger { return klog.New("vmm-test", nil) }

func newTestVMM(t *testing.T) (*VMM, *palloc.Allocator) {
	t.Helper()
	pages := palloc.New(0, 8<<20, testLog(), nil, nil)
	v, err := New(pages, testLog(), nil)
	require.NoError(t, err)
	return v, pages
}

func TestMapThenUnmapRoundTripsPhysAddr(t *testing.T) {
	v, pages := newTestVMM(t)
	pa, ok := pages.Alloc(4 * PageSize)
	require.True(t, ok)

	va := VirtAddr(KernelHeapStart)
	require.NoError(t, v.Map(pa, va, 4, Perms{Write: true}))
	require.True(t, v.IsMapped(va, 4*PageSize))

	out := v.Unmap(va, 4)
	require.Len(t, out, 4)
	for i, frame := range out {
		require.EqualValues(t, uint64(pa)+uint64(i)*PageSize, uint64(frame))
	}
	require.False(t, v.IsMapped(va, PageSize))
}

func TestSetPermsTwiceIsIdempotent(t *testing.T) {
	v, pages := newTestVMM(t)
	pa, ok := pages.Alloc(PageSize)
	require.True(t, ok)
	va := VirtAddr(KernelHeapStart)
	require.NoError(t, v.Map(pa, va, 1, Perms{Write: true}))

	v.SetPerms(va, 1, Perms{Write: true, Exec: true})
	first := v.Unmap(va, 1)

	require.NoError(t, v.Map(pa, va, 1, Perms{Write: true, Exec: true}))
	v.SetPerms(va, 1, Perms{Write: true, Exec: true})
	v.SetPerms(va, 1, Perms{Write: true, Exec: true})
	second := v.Unmap(va, 1)

	require.Equal(t, first, second)
}

func TestSetPermsOnUnmappedAborts(t *testing.T) {
	v, _ := newTestVMM(t)
	require.Panics(t, func() { v.SetPerms(VirtAddr(KernelHeapStart), 1, Perms{Write: true}) })
}

func TestHeapPageFaultMaterializesPage(t *testing.T) {
	v, _ := newTestVMM(t)
	va := VirtAddr(KernelHeapStart)
	require.False(t, v.IsMapped(va, PageSize))

	err := v.HandlePageFault(va, true, false)
	require.NoError(t, err)
	require.True(t, v.IsMapped(va, PageSize))
}

func TestStackGuardPageFaultIsFatal(t *testing.T) {
	v, _ := newTestVMM(t)
	guardVA := VirtAddr(StackPoolBase + StackSize) // first byte of the guard region in slot 0

	err := v.HandlePageFault(guardVA, true, false)
	require.Error(t, err)
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	require.True(t, fe.GuardPage)
}

func TestStackPageFaultMaterializesStackPage(t *testing.T) {
	v, _ := newTestVMM(t)
	stackVA := VirtAddr(StackPoolBase) // first byte of slot 0's stack region

	require.NoError(t, v.HandlePageFault(stackVA, true, false))
	require.True(t, v.IsMapped(stackVA, PageSize))
}

func TestOutOfRangeFaultIsUnhandled(t *testing.T) {
	v, _ := newTestVMM(t)
	err := v.HandlePageFault(VirtAddr(0x1000), true, false)
	require.Error(t, err)
}

func TestMapOfUnalignedAddressAborts(t *testing.T) {
	v, _ := newTestVMM(t)
	require.Panics(t, func() { _ = v.Map(0, VirtAddr(1), 1, Perms{}) })
}
