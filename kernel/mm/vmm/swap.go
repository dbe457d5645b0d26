package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
)

var (
	// ErrNotSwappedOut is returned by PageIn when the page at the supplied
	// address is not in swap.
	ErrNotSwappedOut = &kernel.Error{Module: "vmm", Message: "page is not swapped out"}

	errSwapDisabled = &kernel.Error{Module: "vmm", Message: "Trying to swap in without swap bit-map"}
)

// PageIn reads the swapped out page at linear back into memory.
func (m *Manager) PageIn(linear uint32) *kernel.Error {
	pteAddr, ok := m.pteAddr(linear)
	if !ok {
		return ErrNotSwappedOut
	}

	e := m.entryAt(pteAddr)
	if e.Kind != SwappedOut {
		return ErrNotSwappedOut
	}

	return m.pageIn(pteAddr, e)
}

// pageIn loads the slot referenced by the swapped out entry e stored at
// pteAddr into a new frame, releases the slot and installs the frame as a
// writable, dirty page.
func (m *Manager) pageIn(pteAddr uint32, e Entry) *kernel.Error {
	if !m.swap.Enabled() {
		kfmt.Printf("%s\n", errSwapDisabled.Message)
		return errSwapDisabled
	}

	frame, err := m.frames.Alloc()
	if err != nil {
		return err
	}

	if err = m.swap.Read(e.Slot, m.mem.FrameBytes(frame)); err != nil {
		m.frames.Free(frame)
		return err
	}

	if !m.swap.Release(e.Slot) {
		kfmt.Printf("swapping in multiply from same page\n")
	}

	m.updateEntry(pteAddr, residentEntry(frame, pageFlags|FlagDirty))
	return nil
}

// EvictOne releases one resident user page. The sweep starts where the
// previous call stopped and covers every task window except task 0's.
// Clean pages are dropped since they can be read back from their file;
// dirty private pages are written to a swap slot. Dirty pages that are
// shared are never evicted. EvictOne always fails when swapping is
// disabled.
func (m *Manager) EvictOne() bool {
	if !m.swap.Enabled() {
		return false
	}

	var (
		firstDir = m.layout.TaskSize >> mm.DirShift
		counter  = int64(mm.EntriesPerTable-firstDir) * int64(mm.EntriesPerTable)
		dir      pageTableEntry
	)

	for counter > 0 {
		if dir = pageTableEntry(m.mem.ReadWord(m.pdtAddr + m.swapDir<<2)); dir.HasFlags(FlagPresent) {
			break
		}
		counter -= int64(mm.EntriesPerTable)
		m.nextSwapDir(firstDir)
	}

	for ; counter > 0; counter-- {
		m.swapEntry++
		if m.swapEntry >= int(mm.EntriesPerTable) {
			m.swapEntry = 0
			for {
				m.nextSwapDir(firstDir)
				if dir = pageTableEntry(m.mem.ReadWord(m.pdtAddr + m.swapDir<<2)); dir.HasFlags(FlagPresent) {
					break
				}
				if counter -= int64(mm.EntriesPerTable); counter <= 0 {
					kfmt.Printf("Out of swap-memory\n")
					return false
				}
			}
		}

		if m.tryToSwapOut(dir.Frame().Address() + uint32(m.swapEntry)<<2) {
			return true
		}
	}

	kfmt.Printf("Out of swap-memory\n")
	return false
}

func (m *Manager) nextSwapDir(firstDir uint32) {
	if m.swapDir++; m.swapDir >= mm.EntriesPerTable {
		m.swapDir = firstDir
	}
}

// tryToSwapOut evicts the page referenced by the entry at pteAddr.
func (m *Manager) tryToSwapOut(pteAddr uint32) bool {
	e := m.entryAt(pteAddr)
	if e.Kind != Resident || !m.frames.Managed(e.Frame) {
		return false
	}

	if !e.Dirty {
		m.updateEntry(pteAddr, Entry{})
		m.frames.Free(e.Frame)
		return true
	}

	if m.frames.RefCount(e.Frame) != 1 {
		return false
	}

	slot, ok := m.swap.Alloc()
	if !ok {
		return false
	}

	m.updateEntry(pteAddr, Entry{Kind: SwappedOut, Slot: slot})
	if err := m.swap.Write(slot, m.mem.FrameBytes(e.Frame)); err != nil {
		m.updateEntry(pteAddr, e)
		m.swap.Free(slot)
		return false
	}

	m.frames.Free(e.Frame)
	return true
}
