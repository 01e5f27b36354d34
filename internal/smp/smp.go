// Package smp is the L3 CPU bring-up layer: instead of sending STARTUP IPIs
// at real APICs, it launches one goroutine per simulated CPU, each driving
// its own internal/eevdf.Queue through internal/runnable's synchronous
// switch primitive. Grounded on the teacher's cpus_start/ap_entry bring-up
// loop (main.go): apcnt joined reporting becomes a sync.WaitGroup of ready
// signals, and the per-AP trampoline becomes a worker goroutine's for loop.
package smp

import (
	"sync"

	"github.com/TomatOrg/TomatOS-sub001/internal/eevdf"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/runnable"
)

// TimeSlice is the physical-time unit, in arbitrary ticks, Schedule is
// charged per scheduling decision. Callers needing a different granularity
// construct their own tick source; CPU.Run just needs a monotonically
// increasing delta each iteration.
const TimeSlice = 10

// CPU is one simulated processor: an EEVDF run queue plus the goroutine
// driving it. Grounded on the teacher's per-AP state (cpu_t), trimmed to
// what a hosted scheduler actually needs.
type CPU struct {
	ID    int
	Queue *eevdf.Queue

	log     klog.Logger
	metrics metrics.Sink

	driver  *runnable.Runnable
	halted  chan struct{}
	haltErr *klog.FatalError
}

// NewCPU constructs an idle CPU with id as its identifying index.
func NewCPU(id int, log klog.Logger, sink metrics.Sink) *CPU {
	if sink == nil {
		sink = metrics.NopSink
	}
	return &CPU{
		ID:      id,
		Queue:   eevdf.NewQueue(),
		log:     log,
		metrics: sink,
		halted:  make(chan struct{}),
	}
}

// Add enqueues a node (typically wrapping a runnable.Runnable) onto this
// CPU's run queue. Safe to call before or after Run starts.
func (c *CPU) Add(n *eevdf.Node) { c.Queue.Add(n) }

// Halted reports whether this CPU's worker loop has exited after a fatal
// abort, the direct analogue of "halts the offending CPU; other CPUs
// continue" from the error handling design.
func (c *CPU) Halted() bool {
	select {
	case <-c.halted:
		return true
	default:
		return false
	}
}

// HaltError returns the FatalError that halted this CPU, or nil if it is
// still running (or exited cleanly with nothing left to run).
func (c *CPU) HaltError() *klog.FatalError { return c.haltErr }

// run drives this CPU's worker loop: pop the next eligible node, execute
// its payload (if it carries a runnable.Runnable), charge it a time slice,
// and repeat until the queue is drained or a fatal abort is recovered.
// It recovers exactly once at its own top level, per the error handling
// design's "per-CPU worker loop recovers exactly once" contract - a panic
// that isn't a *klog.FatalError is re-raised, since only component aborts
// are meant to halt a single CPU without taking the process down.
func (c *CPU) run() {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*klog.FatalError)
			if !ok {
				panic(r)
			}
			c.haltErr = fe
			c.log.Error().Str("halted_component", fe.Component).Msg("cpu halted on fatal abort")
			close(c.halted)
			return
		}
		close(c.halted)
	}()

	for {
		node := c.Queue.Schedule(TimeSlice, false, false)
		if node == nil {
			return
		}
		c.metrics.IncPreemptions()
		if r, ok := node.Payload.(*runnable.Runnable); ok {
			runnable.Switch(c.driver, r)
		}
	}
}

// Run starts this CPU's worker goroutine. It returns immediately; use
// Halted/Wait to observe completion.
func (c *CPU) Run() { go c.run() }

// Wait blocks until this CPU's worker loop exits, whether by draining its
// queue or by a fatal abort.
func (c *CPU) Wait() { <-c.halted }

// Topology owns a fixed set of simulated CPUs, the Go analogue of the
// teacher's apcnt-tracked AP set.
type Topology struct {
	CPUs []*CPU
}

// Start brings up n simulated CPUs and launches their worker loops,
// mirroring cpus_start's "launch every AP, then wait for apcnt to reach the
// expected count" shape with a WaitGroup standing in for the spin-wait.
func Start(n int, log klog.Logger, sink metrics.Sink) *Topology {
	t := &Topology{CPUs: make([]*CPU, n)}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		cpu := NewCPU(i, log, sink)
		t.CPUs[i] = cpu
		go func() {
			defer wg.Done()
			cpu.Run()
		}()
	}
	wg.Wait()
	return t
}

// WaitAll blocks until every CPU's worker loop has exited.
func (t *Topology) WaitAll() {
	for _, c := range t.CPUs {
		c.Wait()
	}
}

// Idlest returns the CPU with the smallest run-queue weight, the simple
// load-balancing target Steal migrates into; ties favor the lowest CPU ID.
func (t *Topology) Idlest() *CPU {
	best := t.CPUs[0]
	for _, c := range t.CPUs[1:] {
		if c.Queue.WeightsSum() < best.Queue.WeightsSum() {
			best = c
		}
	}
	return best
}

// Busiest returns the CPU with the largest run-queue weight, the source
// Steal migrates work away from.
func (t *Topology) Busiest() *CPU {
	best := t.CPUs[0]
	for _, c := range t.CPUs[1:] {
		if c.Queue.WeightsSum() > best.Queue.WeightsSum() {
			best = c
		}
	}
	return best
}

// Rebalance steals up to maxWeight worth of work from the busiest CPU into
// the idlest one, and reports the stolen nodes. A no-op (returns nil) when
// there are fewer than two CPUs or the two picks coincide.
func (t *Topology) Rebalance(maxWeight uint32, sink metrics.Sink) []*eevdf.Node {
	if len(t.CPUs) < 2 {
		return nil
	}
	idle, busy := t.Idlest(), t.Busiest()
	if idle == busy {
		return nil
	}
	before := busy.Queue.WeightsSum()
	stolen := eevdf.Steal(idle.Queue, busy.Queue, maxWeight)
	if sink != nil && len(stolen) > 0 {
		sink.IncSteals(before - busy.Queue.WeightsSum())
	}
	return stolen
}
