package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/pmm"
	"i386vm/kernel/task"
)

var (
	errCopyAlignment = &kernel.Error{Module: "vmm", Message: "copy_page_tables called with wrong alignment"}
	errCopyExists    = &kernel.Error{Module: "vmm", Message: "copy_page_tables: already exist"}
)

// Duplicate copies the page tables covering [from, from+size) to
// [to, to+size). Resident pages are shared between the two ranges and
// write-protected in both so that the first write by either side triggers
// a copy. Swapped out pages are read back in first and then shared the
// same way. Frames outside the managed pool stay writable in the source
// range.
//
// When copying from linear address 0 only the first 160 entries of each
// table are copied.
//
// Duplicate is not atomic: on failure the caller must release the
// destination range with UnmapRange.
func (m *Manager) Duplicate(from, to, size uint32) *kernel.Error {
	if from&(mm.DirSpan-1) != 0 || to&(mm.DirSpan-1) != 0 {
		panicFn(errCopyAlignment)
		return errCopyAlignment
	}

	entries := mm.EntriesPerTable
	if from == 0 {
		entries = kernelEntries
	}

	dirs := uint32((uint64(size) + uint64(mm.DirSpan) - 1) >> mm.DirShift)
	for i := uint32(0); i < dirs; i++ {
		fromLinear, toLinear := from+i<<mm.DirShift, to+i<<mm.DirShift

		if m.DirPresent(toLinear) {
			panicFn(errCopyExists)
			return errCopyExists
		}
		if !m.DirPresent(fromLinear) {
			continue
		}

		// Allocating the table links it into the destination directory
		// entry so a failure part way leaves a range UnmapRange can
		// release.
		if _, err := m.tableFor(toLinear); err != nil {
			return err
		}

		fromTable := m.dirEntry(fromLinear).Frame().Address()
		toTable := m.dirEntry(toLinear).Frame().Address()
		for nr := uint32(0); nr < entries; nr++ {
			fromAddr, toAddr := fromTable+nr<<2, toTable+nr<<2

			e := m.entryAt(fromAddr)
			switch e.Kind {
			case Unbacked:
				continue
			case SwappedOut:
				if err := m.pageIn(fromAddr, e); err != nil {
					return err
				}
				e = m.entryAt(fromAddr)
			}

			e.Writable = false
			m.setEntry(toAddr, e)
			if m.frames.Managed(e.Frame) {
				m.setEntry(fromAddr, e)
				m.frames.Share(e.Frame)
			}
		}
	}

	flushTLBFn()
	return nil
}

// Fork places child in the linear window of its process table slot and
// gives it a copy-on-write view of parent's address space. The child
// inherits the parent's memory layout and file references.
func (m *Manager) Fork(parent, child *task.Task) *kernel.Error {
	limit := m.layout.TaskSize
	if parent.Nr == 0 {
		limit = KernelDataLimit
	}

	child.StartCode = uint32(child.Nr) * m.layout.TaskSize
	child.EndCode = parent.EndCode
	child.EndData = parent.EndData
	child.Brk = parent.Brk
	child.StartStack = parent.StartStack

	if err := m.Duplicate(parent.StartCode, child.StartCode, limit); err != nil {
		m.UnmapRange(child.StartCode, limit)
		return pmm.ErrOutOfMemory
	}

	if child.Executable = parent.Executable; child.Executable != nil {
		child.Executable.Get()
	}
	if child.Library = parent.Library; child.Library != nil {
		child.Library.Get()
	}

	return nil
}
