package vmm

import "github.com/TomatOrg/TomatOS-sub001/internal/arena"

// pte bits, standard x86-64 layout. Two software bits (9, 10) are carried
// as buddyLevelBit / buddyAllocBit for parity with the original's debugging
// fields; nothing in this VMM reads them, matching vmm.c's own ambiguity
// (section 9 decision: carried, never consulted).
const (
	bitPresent      = 1 << 0
	bitWrite        = 1 << 1
	bitUser         = 1 << 2
	bitWriteThrough = 1 << 3
	bitCacheDisable = 1 << 4
	bitAccessed     = 1 << 5
	bitDirty        = 1 << 6
	bitLarge        = 1 << 7
	bitGlobal       = 1 << 8
	buddyLevelBit   = 1 << 9
	buddyAllocBit   = 1 << 10
	bitNoExecute    = 1 << 63

	frameMask = 0x000F_FFFF_FFFF_F000
)

// pte is one page-table entry.
type pte uint64

func (p pte) Present() bool         { return p&bitPresent != 0 }
func (p pte) Writable() bool        { return p&bitWrite != 0 }
func (p pte) User() bool            { return p&bitUser != 0 }
func (p pte) Large() bool           { return p&bitLarge != 0 }
func (p pte) NoExecute() bool       { return p&bitNoExecute != 0 }
func (p pte) Frame() arena.PhysAddr { return arena.PhysAddr(uint64(p) & frameMask) }

// Perms is the permission/flag set callers request for a mapping.
type Perms struct {
	Write          bool
	Exec           bool
	User           bool
	Large          bool
	WriteCombining bool
	UnmapDirect    bool
}

func makePTE(frame arena.PhysAddr, perms Perms) pte {
	p := pte(uint64(frame)&frameMask) | bitPresent | bitAccessed
	if perms.Write {
		p |= bitWrite
	}
	if perms.User {
		p |= bitUser
	}
	if perms.Large {
		p |= bitLarge
	}
	if perms.WriteCombining {
		p |= bitCacheDisable | bitWriteThrough
	}
	if !perms.Exec {
		p |= bitNoExecute
	}
	return p
}

// table is one level of the page-table tree: 512 entries, Go-struct form of
// what would otherwise be a 4 KiB frame read through the recursive self-map.
type table struct {
	entries [512]pte
}
