// Package parkinglot is the L4 scheduler-aware suspension primitive every
// synchronization primitive in internal/ksync is built on: a process-wide
// hash table of sleep queues keyed by an arbitrary address-sized value.
// Grounded on original_source/kernel/sync/parking_lot.c/.h (WebKit
// WTF::ParkingLot's design, carried into the teacher's sync layer).
//
// A parked caller here blocks its own goroutine on a channel rather than a
// simulated CPU's Runnable: the parking lot is the boundary between
// userland-style blocking primitives and real goroutine scheduling, distinct
// from internal/eevdf's cooperative Runnable scheduling one layer below.
package parkinglot

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/timer"
)

const (
	defaultBuckets = 16
	loadFactor     = 3
	fairnessPeriod = 1000 // microseconds, ~1ms cadence per the spec
)

// waiter is one parked caller. Representation decision: the source's bucket
// queue is an intrusive linked list threaded through the thread struct; Go
// has no macro-based container_of, so this implementation keeps a plain
// slice per bucket (same choice already made for internal/palloc's free
// lists) and identifies a waiter for removal/requeue by pointer identity.
type waiter struct {
	key   uintptr
	token any
	wake  chan any
}

type bucket struct {
	mu       sync.Mutex
	waiters  []*waiter
	rngState uint64
	lastFair uint64 // microtime of the last fairness decision
}

// shouldBeFair advances the bucket's xorshift generator and reports whether
// this wake should be handed over unconditionally fair, gated to roughly
// once per fairnessPeriod so uncontended buckets pay nothing. Must be
// called with b.mu held.
func (b *bucket) shouldBeFair(now uint64) bool {
	if now-b.lastFair < fairnessPeriod {
		return false
	}
	b.lastFair = now
	b.rngState ^= b.rngState << 13
	b.rngState ^= b.rngState >> 7
	b.rngState ^= b.rngState << 17
	if b.rngState == 0 {
		b.rngState = now | 1
	}
	return b.rngState&1 == 0
}

type hashTable struct {
	buckets   []*bucket
	indexBits uint
}

func newHashTable(size int) *hashTable {
	size = nextPow2(size)
	t := &hashTable{
		buckets:   make([]*bucket, size),
		indexBits: uint(bits.Len(uint(size)) - 1),
	}
	for i := range t.buckets {
		t.buckets[i] = &bucket{rngState: uint64(i)*2685821657736338717 + 1}
	}
	return t
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// bucketFor applies the fibonacci-hashing scheme named in the spec:
// (key * 0x9E3779B97F4A7C15) >> (64 - indexBits).
func (t *hashTable) bucketFor(key uintptr) *bucket {
	h := (uint64(key) * 0x9E3779B97F4A7C15) >> (64 - t.indexBits)
	return t.buckets[h]
}

// Lot is a process-wide parking lot. The zero value is not usable; use New.
type Lot struct {
	table   atomic.Pointer[hashTable]
	growMu  sync.Mutex
	threads atomic.Uint64

	clock   *timer.Clock
	log     klog.Logger
	metrics metrics.Sink
}

// New returns a Lot with an initial table of defaultBuckets buckets. clock
// drives the per-bucket fairness cadence (pass the same *timer.Clock the
// rest of the process uses); sink may be nil.
func New(clock *timer.Clock, log klog.Logger, sink metrics.Sink) *Lot {
	if sink == nil {
		sink = metrics.NopSink
	}
	l := &Lot{clock: clock, log: log, metrics: sink}
	l.table.Store(newHashTable(defaultBuckets))
	return l
}

func (l *Lot) now() uint64 {
	if l.clock == nil {
		return 0
	}
	return l.clock.MicroTime()
}

// lockBucket locks key's bucket in the table as of the moment the lock is
// actually held, retrying if maybeGrow swapped the table pointer in the
// window between the load and the lock. Without this, a Park call racing a
// resize could lock and insert into an old bucket that growth has already
// migrated off of and orphaned, losing the wakeup permanently.
func (l *Lot) lockBucket(key uintptr) (*hashTable, *bucket) {
	for {
		t := l.table.Load()
		b := t.bucketFor(key)
		b.mu.Lock()
		if l.table.Load() == t {
			return t, b
		}
		b.mu.Unlock()
	}
}

// lockBucketPair locks both from's and to's buckets, consistently from the
// same table snapshot and always in pointer order, retrying under the same
// resize race as lockBucket.
func (l *Lot) lockBucketPair(from, to uintptr) (fromB, toB *bucket) {
	for {
		t := l.table.Load()
		fb, tb := t.bucketFor(from), t.bucketFor(to)
		first, second := fb, tb
		if uintptr(unsafe.Pointer(tb)) < uintptr(unsafe.Pointer(fb)) {
			first, second = tb, fb
		}
		first.mu.Lock()
		if second != first {
			second.mu.Lock()
		}
		if l.table.Load() == t {
			return fb, tb
		}
		if second != first {
			second.mu.Unlock()
		}
		first.mu.Unlock()
	}
}

// Result is what Park returns: whether the call actually suspended, whether
// it woke via timeout rather than an unparker, and the token the unparker
// (if any) attached.
type Result struct {
	Unparked bool
	TimedOut bool
	Token    any
}

// Park validates under the bucket lock, enqueues, calls beforeSleep with no
// locks held, then suspends until unparked or deadline passes (zero
// deadline means wait forever). It never misses a wake: either validate
// observes the race and returns Unparked=false, or the waiter is queued
// before beforeSleep runs, so any unpark_one issued afterward finds it.
func (l *Lot) Park(key uintptr, validate func() bool, beforeSleep func(), deadline time.Time) Result {
	_, b := l.lockBucket(key)
	if validate != nil && !validate() {
		b.mu.Unlock()
		return Result{}
	}
	w := &waiter{key: key, wake: make(chan any, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	l.threads.Add(1)
	l.metrics.IncParks()
	l.maybeGrow()

	if beforeSleep != nil {
		beforeSleep()
	}

	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		deadlineTimer := time.NewTimer(time.Until(deadline))
		defer deadlineTimer.Stop()
		timeoutCh = deadlineTimer.C
	}

	select {
	case tok := <-w.wake:
		l.threads.Add(^uint64(0))
		return Result{Unparked: true, Token: tok}
	case <-timeoutCh:
		l.threads.Add(^uint64(0))
		if l.removeWaiter(key, w) {
			return Result{Unparked: true, TimedOut: true}
		}
		// Lost the race: an unparker already detached us between the
		// timer firing and our removal attempt. Its token is either
		// already on the channel or about to be; either way we must
		// not report TimedOut once we've been handed off.
		tok := <-w.wake
		return Result{Unparked: true, Token: tok}
	}
}

func (l *Lot) removeWaiter(key uintptr, w *waiter) bool {
	_, b := l.lockBucket(key)
	defer b.mu.Unlock()
	for i, cand := range b.waiters {
		if cand == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// UnparkInfo is handed to an UnparkOne callback so it can decide what token
// to hand the woken waiter (or whether to hand one at all).
type UnparkInfo struct {
	UnparkedThreads int
	HaveMoreThreads bool
	BeFair          bool
}

// UnparkOne wakes the first waiter queued under key, if any, handing it the
// token callback returns. callback may be nil, in which case a nil token is
// used. Reports whether anything was woken.
func (l *Lot) UnparkOne(key uintptr, callback func(UnparkInfo) any) bool {
	_, b := l.lockBucket(key)
	idx := -1
	for i, w := range b.waiters {
		if w.key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	target := b.waiters[idx]
	b.waiters = append(b.waiters[:idx], b.waiters[idx+1:]...)

	info := UnparkInfo{UnparkedThreads: 1, BeFair: b.shouldBeFair(l.now())}
	for _, w := range b.waiters {
		if w.key == key {
			info.HaveMoreThreads = true
			break
		}
	}
	b.mu.Unlock()

	var token any
	if callback != nil {
		token = callback(info)
	}
	target.wake <- token
	l.metrics.IncUnparks()
	return true
}

// UnparkAll wakes every waiter queued under key and reports how many.
func (l *Lot) UnparkAll(key uintptr) int {
	_, b := l.lockBucket(key)
	var drained []*waiter
	kept := b.waiters[:0]
	for _, w := range b.waiters {
		if w.key == key {
			drained = append(drained, w)
		} else {
			kept = append(kept, w)
		}
	}
	b.waiters = kept
	b.mu.Unlock()

	for _, w := range drained {
		w.wake <- nil
		l.metrics.IncUnparks()
	}
	return len(drained)
}

// RequeueDecision is what validate returns from UnparkRequeue: whether to
// touch the head waiter at all, and if so whether to wake it or move it to
// the `to` key, and whether the rest of the queue should be woken or moved
// alongside it.
type RequeueDecision int

const (
	// RequeueAbort leaves the from-queue untouched.
	RequeueAbort RequeueDecision = iota
	// RequeueUnparkOne wakes the head waiter, leaves the rest queued at from.
	RequeueUnparkOne
	// RequeueOneRequeueRest wakes the head waiter and moves everyone else to `to`.
	RequeueOneRequeueRest
	// RequeueOne moves just the head waiter to `to`, asleep.
	RequeueOne
	// RequeueAll moves every waiter at from to `to`, asleep.
	RequeueAll
)

// UnparkRequeue atomically moves waiters from one key's queue to another's
// under both bucket locks, the mechanism internal/ksync's condvar uses to
// hand a notified waiter straight to the mutex's queue without an
// intervening wake-and-re-park round trip. validate is called with whether
// a waiter is currently queued at from and decides the disposition;
// callback (optional) produces the token handed to any waiter woken here.
func (l *Lot) UnparkRequeue(from, to uintptr, validate func(hasWaiter bool) RequeueDecision, callback func(UnparkInfo) any) {
	fromB, toB := l.lockBucketPair(from, to)
	defer func() {
		if toB != fromB {
			toB.mu.Unlock()
		}
		fromB.mu.Unlock()
	}()

	hasWaiter := false
	for _, w := range fromB.waiters {
		if w.key == from {
			hasWaiter = true
			break
		}
	}
	decision := validate(hasWaiter)
	if decision == RequeueAbort || !hasWaiter {
		return
	}

	var headIdx int = -1
	for i, w := range fromB.waiters {
		if w.key == from {
			headIdx = i
			break
		}
	}
	head := fromB.waiters[headIdx]
	rest := make([]*waiter, 0, len(fromB.waiters))
	restIsTargeted := func(w *waiter) bool { return w.key == from }

	removeHead := func() {
		fromB.waiters = append(fromB.waiters[:headIdx], fromB.waiters[headIdx+1:]...)
	}

	var token any
	if callback != nil {
		token = callback(UnparkInfo{UnparkedThreads: 1})
	}

	switch decision {
	case RequeueUnparkOne:
		removeHead()
		head.wake <- token
		l.metrics.IncUnparks()
	case RequeueOneRequeueRest:
		removeHead()
		head.wake <- token
		l.metrics.IncUnparks()
		for _, w := range fromB.waiters {
			if restIsTargeted(w) {
				rest = append(rest, w)
			}
		}
		fromB.waiters = removeAll(fromB.waiters, rest)
		for _, w := range rest {
			w.key = to
			toB.waiters = append(toB.waiters, w)
		}
	case RequeueOne:
		removeHead()
		head.key = to
		toB.waiters = append(toB.waiters, head)
	case RequeueAll:
		for _, w := range fromB.waiters {
			if restIsTargeted(w) {
				rest = append(rest, w)
			}
		}
		fromB.waiters = removeAll(fromB.waiters, rest)
		for _, w := range rest {
			w.key = to
			toB.waiters = append(toB.waiters, w)
		}
	}
}

func removeAll(from []*waiter, remove []*waiter) []*waiter {
	set := make(map[*waiter]struct{}, len(remove))
	for _, w := range remove {
		set[w] = struct{}{}
	}
	out := from[:0]
	for _, w := range from {
		if _, gone := set[w]; !gone {
			out = append(out, w)
		}
	}
	return out
}

// maybeGrow implements the table-growth rule: when threads > loadFactor *
// buckets, lock every bucket, allocate a bigger table, rehash, publish with
// release ordering, then release all bucket locks.
func (l *Lot) maybeGrow() {
	t := l.table.Load()
	if l.threads.Load() <= loadFactor*uint64(len(t.buckets)) {
		return
	}
	l.growMu.Lock()
	defer l.growMu.Unlock()

	t = l.table.Load()
	if l.threads.Load() <= loadFactor*uint64(len(t.buckets)) {
		return
	}

	newSize := nextPow2(int(loadFactor * l.threads.Load()))
	if newSize <= len(t.buckets) {
		newSize = len(t.buckets) * 2
	}
	newTable := newHashTable(newSize)

	for _, b := range t.buckets {
		b.mu.Lock()
	}
	for _, b := range t.buckets {
		for _, w := range b.waiters {
			nb := newTable.bucketFor(w.key)
			nb.waiters = append(nb.waiters, w)
		}
	}
	l.table.Store(newTable)
	for _, b := range t.buckets {
		b.mu.Unlock()
	}
}
