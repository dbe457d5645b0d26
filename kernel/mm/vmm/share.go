package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/fs"
	"i386vm/kernel/task"
)

var errShareExists = &kernel.Error{Module: "vmm", Message: "try_to_share: to_page already exists"}

// sharePage looks for another task running the same executable (or using
// the same library) that already has a clean copy of the page at offset and
// maps that frame read-only into t. It returns true if a page was shared.
func (m *Manager) sharePage(t *task.Task, inode fs.Inode, offset uint32) (bool, *kernel.Error) {
	if inode == nil || inode.Count() < 2 {
		return false, nil
	}

	var (
		shared bool
		err    *kernel.Error
	)
	m.tasks.Each(func(p *task.Task) bool {
		if p == t {
			return true
		}

		if offset < m.layout.LibraryOffset {
			if !fs.SameFile(inode, p.Executable) {
				return true
			}
		} else if !fs.SameFile(inode, p.Library) {
			return true
		}

		shared, err = m.tryToShare(offset, p, t)
		return !shared && err == nil
	})

	return shared, err
}

// tryToShare maps the page at offset in donor into the same offset of t.
// The donor page must be present, clean and inside the managed pool; it is
// write-protected and its frame gains a reference.
func (m *Manager) tryToShare(offset uint32, donor, t *task.Task) (bool, *kernel.Error) {
	fromLinear, toLinear := donor.StartCode+offset, t.StartCode+offset

	if !m.DirPresent(fromLinear) {
		return false, nil
	}

	// Make sure the destination table exists before inspecting the donor
	// so an eviction triggered by the table allocation cannot invalidate
	// the donor entry.
	toAddr, err := m.tableFor(toLinear)
	if err != nil {
		return false, err
	}

	fromAddr, ok := m.pteAddr(fromLinear)
	if !ok {
		return false, nil
	}

	e := m.entryAt(fromAddr)
	if e.Kind != Resident || e.Dirty || !m.frames.Managed(e.Frame) {
		return false, nil
	}

	if m.entryAt(toAddr).Kind == Resident {
		panicFn(errShareExists)
		return false, errShareExists
	}

	e.Writable = false
	disableInterruptsFn()
	m.setEntry(fromAddr, e)
	m.setEntry(toAddr, e)
	flushTLBFn()
	enableInterruptsFn()

	m.frames.Share(e.Frame)
	return true, nil
}
