package ksync

import "sync/atomic"

// Refcount is a tiny atomic reference counter; no package outside
// internal/ksync uses it. Grounded on
// original_source/kernel/sync/refcount.c; the original starts at 1, so the
// zero value here is not usable — construct with NewRefcount.
type Refcount struct {
	count atomic.Int32
}

// NewRefcount returns a Refcount initialized to 1, mirroring INIT_REFCOUNT.
func NewRefcount() *Refcount {
	r := &Refcount{}
	r.count.Store(1)
	return r
}

// Inc adds one reference.
func (r *Refcount) Inc() { r.count.Add(1) }

// Dec drops one reference and reports whether the count was nonzero before
// the decrement (i.e. whether the caller holding this reference was valid).
// The source's fetch_sub returning nonzero means "don't free yet"; a 0 or
// negative result after decrementing means the last owner just dropped it.
func (r *Refcount) Dec() bool {
	return r.count.Add(-1)+1 != 0
}

// IsOne reports whether exactly one reference remains.
func (r *Refcount) IsOne() bool {
	return r.count.Load() == 1
}
