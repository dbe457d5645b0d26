package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/swap"
)

var (
	errBadFrameEntry = &kernel.Error{Module: "vmm", Message: "page table entry frame out of range"}
	errBadSwapEntry  = &kernel.Error{Module: "vmm", Message: "swapped out page table entry with invalid slot"}
	errBadEntryKind  = &kernel.Error{Module: "vmm", Message: "unknown page table entry kind"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint32

// pageTableEntry describes a raw page directory entry.
type pageTableEntry uint32

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) &^ uint32(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint32(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uint32(*pte) &^ ptePhysPageMask) | frame.Address())
}

// EntryKind identifies which of the three states a page table entry is in.
type EntryKind uint8

const (
	// Unbacked entries have never been touched or have been released.
	Unbacked EntryKind = iota

	// Resident entries map a physical frame.
	Resident

	// SwappedOut entries record the swap slot holding the page contents.
	SwappedOut
)

// Entry is the decoded form of a page table entry. Frame and the flag
// fields are only meaningful for Resident entries; Slot is only meaningful
// for SwappedOut entries.
type Entry struct {
	Kind EntryKind

	Frame    mm.Frame
	Writable bool
	User     bool
	Dirty    bool
	Accessed bool

	Slot swap.Slot
}

// DecodeEntry interprets a raw page table entry.
//
// A zero word is Unbacked. A word with the present bit set is Resident.
// Any other word holds a swap slot number shifted left by one.
func DecodeEntry(word uint32) Entry {
	pte := pageTableEntry(word)
	switch {
	case word == 0:
		return Entry{}
	case pte.HasFlags(FlagPresent):
		return Entry{
			Kind:     Resident,
			Frame:    pte.Frame(),
			Writable: pte.HasFlags(FlagRW),
			User:     pte.HasFlags(FlagUser),
			Dirty:    pte.HasFlags(FlagDirty),
			Accessed: pte.HasFlags(FlagAccessed),
		}
	default:
		return Entry{Kind: SwappedOut, Slot: swap.Slot(word >> 1)}
	}
}

// Encode returns the raw page table entry for e. Encoding an entry that
// cannot be represented is a fatal error.
func (e Entry) Encode() uint32 {
	switch e.Kind {
	case Unbacked:
		return 0
	case SwappedOut:
		if e.Slot == 0 || e.Slot >= maxSlot {
			panicFn(errBadSwapEntry)
			return 0
		}
		return uint32(e.Slot) << 1
	case Resident:
		if e.Frame >= maxFrame {
			panicFn(errBadFrameEntry)
			return 0
		}

		pte := pageTableEntry(0)
		pte.SetFrame(e.Frame)
		pte.SetFlags(FlagPresent)
		if e.Writable {
			pte.SetFlags(FlagRW)
		}
		if e.User {
			pte.SetFlags(FlagUser)
		}
		if e.Dirty {
			pte.SetFlags(FlagDirty)
		}
		if e.Accessed {
			pte.SetFlags(FlagAccessed)
		}
		return uint32(pte)
	default:
		panicFn(errBadEntryKind)
		return 0
	}
}

// residentEntry returns a Resident entry for frame with the supplied flags.
func residentEntry(frame mm.Frame, flags PageTableEntryFlag) Entry {
	pte := pageTableEntry(0)
	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent)
	return DecodeEntry(uint32(pte))
}
