package arena

import "unsafe"

// uintptrDiff returns the byte distance from base to p, both pointers into
// the same backing array. Used only by ToPhys to recover an offset from a
// slice header, mirroring the pointer arithmetic the C source performs
// directly on direct-mapped pointers.
func uintptrDiff(p, base *byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(p)) - uintptr(unsafe.Pointer(base)))
}
