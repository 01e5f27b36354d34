// Package ksync is the L4 synchronization layer built on top of
// internal/parkinglot: every primitive here either spins briefly
// (TicketLock, SpinRWLock) or, on contention, suspends the caller's
// goroutine through the parking lot keyed by the primitive's own address.
// Grounded on original_source/kernel/sync/*.{c,h}.
package ksync

import (
	"runtime"
	"sync/atomic"
)

// TicketLock is a strictly-FIFO spinlock: two counters, next_ticket and
// next_serving. Grounded on original_source/kernel/sync/ticketlock.c.
// Intended for short, never-contended-long critical sections; it never
// parks, so it is safe to take with interrupts or preemption disabled.
type TicketLock struct {
	nextTicket  atomic.Uint64
	nextServing atomic.Uint64
}

// Lock takes the next ticket and spins until it is being served.
func (t *TicketLock) Lock() {
	ticket := t.nextTicket.Add(1) - 1
	for t.nextServing.Load() != ticket {
		runtime.Gosched()
	}
}

// Unlock advances service to the next ticket.
func (t *TicketLock) Unlock() {
	t.nextServing.Add(1)
}

// IsLocked reports whether any ticket is currently outstanding.
func (t *TicketLock) IsLocked() bool {
	return t.nextServing.Load() != t.nextTicket.Load()
}
