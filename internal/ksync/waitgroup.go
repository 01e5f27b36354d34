package ksync

import (
	"sync/atomic"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

// WaitGroup packs a 64-bit state as counter(high 32 bits) | waiters(low 32
// bits), exactly as original_source/kernel/sync/wait_group.c does, and
// parks waiters on a semaphore that the Add draining the counter to zero
// releases once per waiter. Panics on decrement below zero or on Add
// called concurrently with an in-flight Wait, matching the source's
// ASSERTs.
type WaitGroup struct {
	state atomic.Uint64
	sema  *Semaphore
}

// NewWaitGroup returns a zeroed WaitGroup parking through lot.
func NewWaitGroup(lot *parkinglot.Lot) *WaitGroup {
	return &WaitGroup{sema: NewSemaphore(lot)}
}

// Add adjusts the counter by delta, which may be negative.
func (wg *WaitGroup) Add(delta int32) {
	state := wg.state.Add(uint64(uint32(int32(delta))) << 32)
	v := int32(state >> 32)
	w := uint32(state)

	if v < 0 {
		panic("ksync: negative WaitGroup counter")
	}
	if w != 0 && delta > 0 && v == delta {
		panic("ksync: WaitGroup misuse: Add called concurrently with Wait")
	}
	if v > 0 || w == 0 {
		return
	}

	if wg.state.Load() != state {
		panic("ksync: WaitGroup misuse: Add called concurrently with Wait")
	}

	wg.state.Store(0)
	for ; w != 0; w-- {
		wg.sema.Release()
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() { wg.Add(-1) }

// Wait blocks until the counter reaches zero.
func (wg *WaitGroup) Wait() {
	for {
		state := wg.state.Load()
		v := int32(state >> 32)
		if v == 0 {
			return
		}
		if wg.state.CompareAndSwap(state, state+1) {
			wg.sema.Acquire()
			if wg.state.Load() != 0 {
				panic("ksync: WaitGroup reused before previous Wait returned")
			}
			return
		}
	}
}
