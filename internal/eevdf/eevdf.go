// Package eevdf is the L3 per-CPU scheduler core: Earliest Eligible
// Virtual Deadline First, weighted by a small per-priority integer table.
// Grounded on original_source/kernel/thread/eevdf.c and eevdf.h.
//
// A key property of the algorithm (confirmed by working through the
// lag formula) is that a node's position within its priority's decaying
// heap, and within the eligible heap at the moment it is pushed, never
// needs to be re-fixed as totalIdealRuntime/virtualTime advance: every
// node of a given priority accrues the same totalIdealRuntime delta each
// tick, so the *relative* order by lag is fixed the instant a node is
// (re)inserted. This lets both heaps be ordinary container/heap users
// with no external re-heapify step.
package eevdf

import (
	"container/heap"
	"sync"
	"unsafe"
)

// Priority indexes the weight table, LOWEST .. HIGHEST.
type Priority int

const (
	Lowest Priority = iota
	Low
	Normal
	High
	Highest
	numPriorities
)

// weight mirrors the spec's {1,2,3,4,5} table, indexed by Priority.
var weight = [numPriorities]uint32{1, 2, 3, 4, 5}

// Node is one schedulable unit's EEVDF bookkeeping, the Go analogue of
// eevdf_node_t.
type Node struct {
	Priority  Priority
	TimeSlice uint32

	idealRuntimeBase int64
	runtime          int64
	virtualDeadline  uint64
	decayBase        int64 // valid only while queued in a decaying heap
	remove           bool

	heapIndex int
	queue     *Queue

	// Payload is opaque to the scheduler; callers (internal/smp) stash
	// their runnable.Runnable reference here.
	Payload any
}

// NewNode wraps payload as a schedulable node at the given priority and
// time slice.
func NewNode(priority Priority, timeSlice uint32, payload any) *Node {
	return &Node{Priority: priority, TimeSlice: timeSlice, Payload: payload}
}

// Remove marks the node for permanent removal the next time the scheduler
// observes it (immediately, if it is `current`; otherwise the next time it
// surfaces from a decaying heap).
func (n *Node) Remove() { n.remove = true }

// Lag reports total_ideal_runtime[priority] - ideal_runtime_base - runtime
// at the time of the call, using the node's owning queue's current
// totals. Exported for tests and introspection (cmd/kernelctl).
func (n *Node) Lag() int64 {
	if n.queue == nil {
		return 0
	}
	return n.queue.totalIdealRuntime[n.Priority] - n.idealRuntimeBase - n.runtime
}

// Queue is a per-CPU EEVDF run queue. Mutated by its owning CPU's
// Schedule/Add/Wakeup calls and, cross-CPU, by Steal; mu serializes both.
type Queue struct {
	mu sync.Mutex

	totalIdealRuntime [numPriorities]int64
	virtualTime       int64
	weightsSum        uint32

	current  *Node
	eligible eligibleHeap
	decaying [numPriorities]decayingHeap
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.eligible)
	for p := range q.decaying {
		heap.Init(&q.decaying[p])
	}
	return q
}

func (q *Queue) deadlineFor(n *Node) uint64 {
	return uint64(q.virtualTime) + uint64(n.TimeSlice)*uint64(q.weightsSum)/uint64(weight[n.Priority])
}

// Add enqueues a brand-new node, computing its initial deadline from the
// queue's current virtual time (enqueue-time formula in section 4.7).
func (q *Queue) Add(n *Node) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n.queue = q
	q.weightsSum += weight[n.Priority]
	n.runtime = 0
	n.idealRuntimeBase = q.totalIdealRuntime[n.Priority]
	n.virtualDeadline = q.deadlineFor(n)
	heap.Push(&q.eligible, n)
}

// Wakeup re-enqueues a node that previously slept with its lag preserved
// in n.runtime (see Schedule's default case), refreshing idealRuntimeBase
// so Lag() still reports the same value it did when it went to sleep.
func (q *Queue) Wakeup(n *Node) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n.queue = q
	q.weightsSum += weight[n.Priority]
	n.idealRuntimeBase = q.totalIdealRuntime[n.Priority]
	n.virtualDeadline = q.deadlineFor(n)
	heap.Push(&q.eligible, n)
}

// Schedule advances the queue by delta units of physical time, charges the
// currently running node (if any) that time, applies the remove/requeue
// disposition to it, walks the decaying heaps for anyone whose lag has
// turned non-negative, and returns the new eligible-heap minimum (or nil
// if nothing is runnable).
//
// remove tells Schedule to drop the current node permanently instead of
// re-queuing it (the node is exiting); requeue tells it to put the current
// node straight back on the eligible heap with a fresh deadline instead of
// preserving its lag for a future wakeup.
func (q *Queue) Schedule(delta int64, remove, requeue bool) *Node {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.weightsSum > 0 {
		for p := Priority(0); p < numPriorities; p++ {
			q.totalIdealRuntime[p] += int64(weight[p]) * delta / int64(q.weightsSum)
		}
		q.virtualTime += delta / int64(q.weightsSum)
	}

	for p := range q.decaying {
		for q.decaying[p].Len() > 0 {
			top := q.decaying[p][0]
			if q.totalIdealRuntime[p]-top.decayBase < 0 {
				break
			}
			heap.Pop(&q.decaying[p])
			if top.remove {
				q.weightsSum -= weight[top.Priority]
				top.queue = nil
				continue
			}
			top.idealRuntimeBase = q.totalIdealRuntime[top.Priority]
			top.runtime = 0
			top.virtualDeadline = q.deadlineFor(top)
			heap.Push(&q.eligible, top)
		}
	}

	if cur := q.current; cur != nil {
		cur.runtime += delta
		lag := q.totalIdealRuntime[cur.Priority] - cur.idealRuntimeBase - cur.runtime
		switch {
		case remove || cur.remove:
			q.weightsSum -= weight[cur.Priority]
			cur.queue = nil
		case lag < 0:
			cur.decayBase = cur.idealRuntimeBase + cur.runtime
			heap.Push(&q.decaying[cur.Priority], cur)
		case requeue:
			cur.idealRuntimeBase = q.totalIdealRuntime[cur.Priority]
			cur.runtime = 0
			cur.virtualDeadline = q.deadlineFor(cur)
			heap.Push(&q.eligible, cur)
		default:
			q.weightsSum -= weight[cur.Priority]
			cur.runtime = -lag
		}
		q.current = nil
	}

	if q.eligible.Len() == 0 {
		return nil
	}
	next := heap.Pop(&q.eligible).(*Node)
	q.current = next
	return next
}

// Current returns the node currently charged as running, or nil.
func (q *Queue) Current() *Node {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// WeightsSum returns the sum of weights across every node the queue knows
// about (eligible + decaying + current), for tests and introspection.
func (q *Queue) WeightsSum() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.weightsSum
}

// Len reports how many nodes are runnable (eligible) right now, not
// counting current or decaying members.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.eligible.Len()
}

// rebase re-derives a migrated node's bookkeeping against the destination
// queue's own timeline, preserving its lag: the node keeps the same
// ideal-runtime debt relative to q's totals that it held in its previous
// queue, rather than carrying over raw fields that mean nothing outside
// that queue's totalIdealRuntime/virtualTime sequence.
func (q *Queue) rebase(n *Node, lag int64) {
	n.queue = q
	n.idealRuntimeBase = q.totalIdealRuntime[n.Priority] - lag
	n.runtime = 0
	n.virtualDeadline = q.deadlineFor(n)
}

// Steal migrates runnable work from `from` into `to`, stopping once the
// migrated weight would exceed maxWeight. It never touches from.current -
// a queue's currently running node stays put; only eligible and decaying
// members are eligible for migration. The eligible heap is drained first
// (front-first, cheapest to reconstitute), then the decaying heaps from
// highest priority to lowest, mirroring the idea that high-priority decaying
// work is more valuable to hand to an idle CPU than low-priority eligible
// work. Each migrated node's lag is preserved in to's timeline.
//
// Callers must hold no lock; Steal locks both queues, always in pointer
// order, to avoid deadlocking against a concurrent steal in the other
// direction.
func Steal(to, from *Queue, maxWeight uint32) []*Node {
	first, second := to, from
	if uintptr(unsafe.Pointer(from)) < uintptr(unsafe.Pointer(to)) {
		first, second = from, to
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	var stolen []*Node
	var moved uint32

	for from.eligible.Len() > 0 && moved+weight[from.eligible[0].Priority] <= maxWeight {
		n := heap.Pop(&from.eligible).(*Node)
		from.weightsSum -= weight[n.Priority]
		lag := from.totalIdealRuntime[n.Priority] - n.idealRuntimeBase - n.runtime
		to.rebase(n, lag)
		to.weightsSum += weight[n.Priority]
		heap.Push(&to.eligible, n)
		moved += weight[n.Priority]
		stolen = append(stolen, n)
	}

	for p := numPriorities - 1; p >= 0; p-- {
		for from.decaying[p].Len() > 0 && moved+weight[p] <= maxWeight {
			n := heap.Pop(&from.decaying[p]).(*Node)
			from.weightsSum -= weight[p]
			lag := from.totalIdealRuntime[p] - n.decayBase
			to.rebase(n, lag)
			to.weightsSum += weight[p]
			if lag < 0 {
				n.decayBase = n.idealRuntimeBase + n.runtime
				heap.Push(&to.decaying[p], n)
			} else {
				heap.Push(&to.eligible, n)
			}
			moved += weight[p]
			stolen = append(stolen, n)
		}
	}

	return stolen
}
