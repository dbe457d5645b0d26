package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a linear address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "linear address does not point to a mapped physical page"}

	errFreeAlignment = &kernel.Error{Module: "vmm", Message: "free_page_tables called with wrong alignment"}
	errFreeSwapper   = &kernel.Error{Module: "vmm", Message: "Trying to free up swapper memory space"}
)

// Map installs frame at linear with the supplied flags, allocating and
// linking the covering page table if it does not exist yet. Frames outside
// the managed pool or frames whose reference count is not 1 are mapped
// anyway but logged. Map returns the mapped frame.
func (m *Manager) Map(linear uint32, frame mm.Frame, flags PageTableEntryFlag) (mm.Frame, *kernel.Error) {
	if !m.frames.Managed(frame) {
		kfmt.Printf("Trying to put page %08x at %08x\n", frame.Address(), linear)
	} else if m.frames.RefCount(frame) != 1 {
		kfmt.Printf("mem_map disagrees with %08x at %08x\n", frame.Address(), linear)
	}

	addr, err := m.tableFor(linear)
	if err != nil {
		return mm.InvalidFrame, err
	}

	m.setEntry(addr, residentEntry(frame, flags))
	return frame, nil
}

// PutPage maps frame at linear as a present, writable user page.
func (m *Manager) PutPage(frame mm.Frame, linear uint32) (mm.Frame, *kernel.Error) {
	return m.Map(linear, frame, pageFlags)
}

// PutDirtyPage behaves like PutPage but also marks the page dirty so that
// eviction writes it to swap instead of discarding it.
func (m *Manager) PutDirtyPage(frame mm.Frame, linear uint32) (mm.Frame, *kernel.Error) {
	return m.Map(linear, frame, pageFlags|FlagDirty)
}

// IdentityMapRegion maps size bytes of physical memory starting at
// startFrame to the identical linear addresses. The mapped frames are not
// reference counted.
func (m *Manager) IdentityMapRegion(startFrame mm.Frame, size uint32, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	startPage := mm.Page(startFrame)
	pageCount := mm.Page(((size + (mm.PageSize - 1)) &^ (mm.PageSize - 1)) >> mm.PageShift)
	for curPage := startPage; curPage < startPage+pageCount; curPage++ {
		addr, err := m.tableFor(curPage.Address())
		if err != nil {
			return 0, err
		}
		m.setEntry(addr, residentEntry(mm.Frame(curPage), flags))
	}

	flushTLBFn()
	return startPage, nil
}

// UnmapRange releases every page and page table in [base, base+size). The
// size is rounded up to a whole number of directory entries. Resident
// frames are dereferenced, swap slots are freed and each page table frame
// is released before its directory entry is cleared.
//
// base must be aligned to a directory entry boundary and must not be 0.
func (m *Manager) UnmapRange(base, size uint32) {
	if base&(mm.DirSpan-1) != 0 {
		panicFn(errFreeAlignment)
		return
	}
	if base == 0 {
		panicFn(errFreeSwapper)
		return
	}

	dirs := uint32((uint64(size) + uint64(mm.DirSpan) - 1) >> mm.DirShift)
	for i := uint32(0); i < dirs; i++ {
		linear := base + i<<mm.DirShift
		dirAddr := m.dirEntryAddr(linear)
		dir := pageTableEntry(m.mem.ReadWord(dirAddr))
		if !dir.HasFlags(FlagPresent) {
			continue
		}

		table := dir.Frame().Address()
		for nr := uint32(0); nr < mm.EntriesPerTable; nr++ {
			addr := table + nr<<2
			switch e := m.entryAt(addr); e.Kind {
			case Resident:
				m.frames.Free(e.Frame)
			case SwappedOut:
				m.swap.Free(e.Slot)
			}
			m.mem.WriteWord(addr, 0)
		}

		m.frames.Free(dir.Frame())
		m.mem.WriteWord(dirAddr, 0)

		// The last directory entry of the linear space wraps around.
		if linear+mm.DirSpan == 0 {
			break
		}
	}

	flushTLBFn()
}

// Translate returns the physical address that corresponds to the supplied
// linear address or ErrInvalidMapping if the page is not resident.
func (m *Manager) Translate(linear uint32) (uint32, *kernel.Error) {
	e := m.Lookup(linear)
	if e.Kind != Resident {
		return 0, ErrInvalidMapping
	}

	return e.Frame.Address() + (linear & (mm.PageSize - 1)), nil
}

// LinkTable clears tableFrame and links it as the page table covering
// linear. It is used at boot to place task 0's page table in reserved low
// memory.
func (m *Manager) LinkTable(linear uint32, tableFrame mm.Frame) {
	kernel.Memset(m.mem.FrameBytes(tableFrame), 0)

	dir := pageTableEntry(0)
	dir.SetFrame(tableFrame)
	dir.SetFlags(tableFlags)
	m.mem.WriteWord(m.dirEntryAddr(linear), uint32(dir))
}
