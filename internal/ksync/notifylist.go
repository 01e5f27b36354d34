package ksync

import (
	"sync/atomic"
	"time"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

// NotifyList is a ticketed wait list: Add hands out an ever-increasing
// ticket, Wait parks only if that ticket is still unserved, NotifyAll
// serves every outstanding ticket, and NotifyOne serves exactly the next
// one. Grounded on original_source/kernel/sync/notify_list.c (the Go
// runtime's sync.Cond notifyList, ticket numbers instead of an intrusive
// sudog list). wait/notify wrap modulo 2^32 exactly as the source allows;
// Go's unsigned subtraction wraps the same way C's does.
type NotifyList struct {
	lot    *parkinglot.Lot
	wait   atomic.Uint32
	notify atomic.Uint32
	mu     TicketLock
}

// NewNotifyList returns an empty NotifyList parking through lot.
func NewNotifyList(lot *parkinglot.Lot) *NotifyList {
	return &NotifyList{lot: lot}
}

func (n *NotifyList) addr() uintptr { return addrOf(n) }

func less(a, b uint32) bool { return int32(a-b) < 0 }

// Add returns the caller's ticket. Call before releasing whatever
// condition you're waiting to change, then call Wait with the returned
// ticket afterward.
func (n *NotifyList) Add() uint32 {
	return n.wait.Add(1) - 1
}

// Wait parks unless ticket has already been served.
func (n *NotifyList) Wait(ticket uint32) {
	n.mu.Lock()
	if less(ticket, n.notify.Load()) {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	n.lot.Park(n.addr()+uintptr(ticket), func() bool {
		return !less(ticket, n.notify.Load())
	}, nil, time.Time{})
}

// NotifyAll serves every outstanding ticket. Representation decision: the
// source keeps one shared list and drains it in a single pass; this
// implementation gives each ticket its own parking-lot key instead (see
// Wait), so NotifyAll must issue one UnparkAll per outstanding ticket
// rather than one list walk — fine for the short backlogs this primitive
// is meant for.
func (n *NotifyList) NotifyAll() {
	if n.wait.Load() == n.notify.Load() {
		return
	}
	n.mu.Lock()
	from := n.notify.Load()
	upTo := n.wait.Load()
	n.notify.Store(upTo)
	n.mu.Unlock()

	for t := from; t != upTo; t++ {
		n.lot.UnparkAll(n.addr() + uintptr(t))
	}
}

// NotifyOne serves exactly the next outstanding ticket.
func (n *NotifyList) NotifyOne() {
	if n.wait.Load() == n.notify.Load() {
		return
	}
	n.mu.Lock()
	ticket := n.notify.Load()
	if ticket == n.wait.Load() {
		n.mu.Unlock()
		return
	}
	n.notify.Store(ticket + 1)
	n.mu.Unlock()

	n.lot.UnparkOne(n.addr()+uintptr(ticket), nil)
}
