package ksync

import "unsafe"

// addrOf returns a pointer's address for use as a parking-lot key, the Go
// equivalent of the source's ubiquitous (size_t)&thing casts.
func addrOf[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}
