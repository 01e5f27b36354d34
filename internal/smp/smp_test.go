package smp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TomatOrg/TomatOS-sub001/internal/eevdf"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/runnable"
)

func testLog() klog.Logger { return klog.New("smp-test", nil) }

func TestCPUDrainsQueueAndHalts(t *testing.T) {
	cpu := NewCPU(0, testLog(), nil)
	var ran bool
	r := runnable.New(func(r *runnable.Runnable) { ran = true })
	cpu.Add(eevdf.NewNode(eevdf.Normal, 10, r))

	cpu.Run()
	cpu.Wait()

	require.True(t, ran)
	require.False(t, cpu.HaltError() != nil)
}

func TestCPURecoversFatalAbortWithoutPanicking(t *testing.T) {
	cpu := NewCPU(0, testLog(), nil)
	r := runnable.New(func(r *runnable.Runnable) {
		testLog().Panic("boom", nil)
	})
	cpu.Add(eevdf.NewNode(eevdf.Normal, 10, r))

	require.NotPanics(t, func() {
		cpu.Run()
		cpu.Wait()
	})
	require.True(t, cpu.Halted())
	require.NotNil(t, cpu.HaltError())
	require.Equal(t, "smp-test", cpu.HaltError().Component)
}

func TestCPURunsMultipleNodesInDeadlineOrder(t *testing.T) {
	cpu := NewCPU(0, testLog(), nil)
	var order []string
	mk := func(name string) *runnable.Runnable {
		return runnable.New(func(r *runnable.Runnable) { order = append(order, name) })
	}
	cpu.Add(eevdf.NewNode(eevdf.Normal, 10, mk("a")))
	cpu.Add(eevdf.NewNode(eevdf.Normal, 10, mk("b")))

	cpu.Run()
	cpu.Wait()

	require.Len(t, order, 2)
}

func TestStartBringsUpRequestedCPUCount(t *testing.T) {
	top := Start(4, testLog(), nil)
	require.Len(t, top.CPUs, 4)
	for i, c := range top.CPUs {
		require.Equal(t, i, c.ID)
	}
	top.WaitAll()
}

func TestRebalanceMovesWeightFromBusiestToIdlest(t *testing.T) {
	sink := metrics.NewCountingSink()
	top := &Topology{CPUs: []*CPU{
		NewCPU(0, testLog(), sink),
		NewCPU(1, testLog(), sink),
	}}

	for i := 0; i < 10; i++ {
		top.CPUs[1].Add(eevdf.NewNode(eevdf.Normal, 10, nil))
	}

	before0 := top.CPUs[0].Queue.WeightsSum()
	before1 := top.CPUs[1].Queue.WeightsSum()
	require.Zero(t, before0)
	require.Positive(t, before1)

	stolen := top.Rebalance(12, sink)
	require.NotEmpty(t, stolen)
	require.Greater(t, top.CPUs[0].Queue.WeightsSum(), before0)
	require.Less(t, top.CPUs[1].Queue.WeightsSum(), before1)

	snap := sink.Snapshot()
	require.Positive(t, snap.StolenWeight)
}

func TestRebalanceNoOpWithFewerThanTwoCPUs(t *testing.T) {
	top := &Topology{CPUs: []*CPU{NewCPU(0, testLog(), nil)}}
	require.Nil(t, top.Rebalance(10, nil))
}

// sanity bound so a hung worker loop fails the test instead of the suite.
func TestCPUWaitDoesNotHangOnEmptyQueue(t *testing.T) {
	cpu := NewCPU(0, testLog(), nil)
	done := make(chan struct{})
	cpu.Run()
	go func() { cpu.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cpu.Wait() did not return for an empty queue")
	}
}
