// Package faultinj provides deterministic allocation-failure injection for
// tests, the Go-idiomatic replacement for the teacher's failalloc/_fakefail
// machinery (biscuit main.go): instead of hashing runtime.Callers to decide
// which call site to fail, an Injector fails a configurable stride of calls,
// which is enough to exercise the resource-exhaustion taxonomy
// deterministically without needing a whitelist of call sites.
package faultinj

import "sync/atomic"

// Injector fails every Nth call to Should Fail, starting from the Nth.
// The zero value never fails (N == 0 disables injection), matching the
// teacher's failalloc defaulting to false.
type Injector struct {
	n       uint64
	counter atomic.Uint64
}

// NewEveryN returns an Injector that reports failure on every nth call
// (n == 0 disables injection entirely).
func NewEveryN(n uint64) *Injector {
	return &Injector{n: n}
}

// ShouldFail advances the internal counter and reports whether this call
// should be treated as a simulated allocation failure.
func (i *Injector) ShouldFail() bool {
	if i == nil || i.n == 0 {
		return false
	}
	c := i.counter.Add(1)
	return c%i.n == 0
}

// Reset zeroes the call counter.
func (i *Injector) Reset() {
	if i == nil {
		return
	}
	i.counter.Store(0)
}

// Calls reports how many times ShouldFail has been invoked.
func (i *Injector) Calls() uint64 {
	if i == nil {
		return 0
	}
	return i.counter.Load()
}
