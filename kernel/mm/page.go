// Package mm defines the frame and page types shared by the physical and
// virtual memory managers together with the simulated physical memory.
package mm

import "math"

// Frame describes a physical memory page index.
type Frame uint32

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uint32 {
	return uint32(f) << PageShift
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uint32) Frame {
	return Frame((physAddr &^ (PageSize - 1)) >> PageShift)
}

// Page describes a linear memory page index.
type Page uint32

// Address returns the linear address pointed to by this Page.
func (p Page) Address() uint32 {
	return uint32(p) << PageShift
}

// PageFromAddress returns a Page that corresponds to the given linear
// address, rounding down unaligned addresses.
func PageFromAddress(linAddr uint32) Page {
	return Page((linAddr &^ (PageSize - 1)) >> PageShift)
}

// DirIndex returns the index of the page directory entry that covers this
// page.
func (p Page) DirIndex() uint32 {
	return uint32(p) >> (DirShift - PageShift)
}

// TableIndex returns the index of the page table entry that maps this page.
func (p Page) TableIndex() uint32 {
	return uint32(p) & (EntriesPerTable - 1)
}
