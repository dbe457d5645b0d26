package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/blk"
	"i386vm/kernel/fs"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
	"i386vm/kernel/task"
)

// FaultOutcome describes how a page fault was resolved.
type FaultOutcome uint8

const (
	// FaultRetry means the faulting access can be retried.
	FaultRetry FaultOutcome = iota

	// FaultTerminated means the faulting task was killed.
	FaultTerminated
)

const (
	// faultProtection is set in the fault error code when the page was
	// present.
	faultProtection = 1 << 0

	// faultWrite is set in the fault error code for write accesses.
	faultWrite = 1 << 1

	// faultUser is set in the fault error code for user-mode accesses.
	faultUser = 1 << 2
)

var (
	errKernelFault = &kernel.Error{Module: "vmm", Message: "page fault in kernel context"}
)

// HandleFault resolves a page fault raised by t at linear address addr.
// Protection faults on present pages are handled as copy-on-write faults;
// all other faults are demand-paging faults.
func (m *Manager) HandleFault(t *task.Task, errorCode, addr uint32) FaultOutcome {
	if errorCode&faultProtection != 0 {
		return m.doWPPage(t, addr)
	}
	return m.doNoPage(t, addr)
}

// checkFaultAddress verifies that addr lies inside t's window and above
// the kernel region. Any violation by task 0 is fatal; otherwise t is
// terminated by the caller.
func (m *Manager) checkFaultAddress(t *task.Task, addr uint32, kernelMsg, boundsMsg string) bool {
	switch {
	case addr < m.layout.TaskSize:
		kfmt.Printf("\n%s\n", kernelMsg)
	case addr-t.StartCode >= m.layout.TaskSize:
		kfmt.Printf("%s\n", boundsMsg)
	default:
		return true
	}

	if t.Nr == 0 {
		panicFn(errKernelFault)
	}
	return false
}

func (m *Manager) terminate(t *task.Task) FaultOutcome {
	m.tasks.Terminate(t, task.SIGSEGV)
	return FaultTerminated
}

func (m *Manager) outOfMemory(t *task.Task) FaultOutcome {
	kfmt.Printf("out of memory\n")
	return m.terminate(t)
}

// doWPPage handles a write to a present, write-protected page.
func (m *Manager) doWPPage(t *task.Task, addr uint32) FaultOutcome {
	if !m.checkFaultAddress(t, addr, "BAD! KERNEL MEMORY WP-ERR!", "Bad things happen: page error in do_wp_page") {
		return m.terminate(t)
	}

	pteAddr, ok := m.pteAddr(addr)
	if !ok {
		return m.doNoPage(t, addr)
	}

	if err := m.unWPPage(pteAddr); err != nil {
		return m.outOfMemory(t)
	}
	return FaultRetry
}

// unWPPage makes the page referenced by the entry at pteAddr writable. A
// frame that is not shared is made writable in place; otherwise the page
// is copied into a private frame.
func (m *Manager) unWPPage(pteAddr uint32) *kernel.Error {
	e := m.entryAt(pteAddr)
	if e.Kind != Resident {
		return nil
	}

	if m.frames.Managed(e.Frame) && m.frames.RefCount(e.Frame) == 1 {
		e.Writable = true
		m.updateEntry(pteAddr, e)
		return nil
	}

	newFrame, err := m.frames.Alloc()
	if err != nil {
		return err
	}

	// Allocation may have evicted the page; the retried access will
	// fault it back in.
	if cur := m.entryAt(pteAddr); cur.Kind != Resident || cur.Frame != e.Frame {
		m.frames.Free(newFrame)
		return nil
	}

	kernel.Memcopy(m.mem.FrameBytes(e.Frame), m.mem.FrameBytes(newFrame))
	m.frames.Free(e.Frame)
	m.updateEntry(pteAddr, residentEntry(newFrame, pageFlags))
	return nil
}

// WriteVerify prepares the page at linear for a write by the kernel on
// behalf of the current task: a present but write-protected page is
// un-write-protected, copying it if it is shared.
func (m *Manager) WriteVerify(linear uint32) *kernel.Error {
	pteAddr, ok := m.pteAddr(linear)
	if !ok {
		return nil
	}

	if e := m.entryAt(pteAddr); e.Kind == Resident && !e.Writable {
		return m.unWPPage(pteAddr)
	}
	return nil
}

// doNoPage handles an access to a page that is not present.
func (m *Manager) doNoPage(t *task.Task, addr uint32) FaultOutcome {
	if !m.checkFaultAddress(t, addr, "BAD!! KERNEL PAGE MISSING", "Bad things happen: nonexistent page error in do_no_page") {
		return m.terminate(t)
	}

	if pteAddr, ok := m.pteAddr(addr); ok {
		switch e := m.entryAt(pteAddr); e.Kind {
		case SwappedOut:
			if err := m.pageIn(pteAddr, e); err != nil {
				return m.outOfMemory(t)
			}
			return FaultRetry
		case Resident:
			// Resolved while the fault was pending.
			return FaultRetry
		}
	}

	addr &^= mm.PageSize - 1
	offset := addr - t.StartCode

	var (
		inode      fs.Inode
		block      uint32
		executable bool
	)
	switch {
	case offset >= m.layout.LibraryOffset:
		inode = t.Library
		block = 1 + (offset-m.layout.LibraryOffset)/blk.BlockSize
	case offset < t.EndData:
		inode = t.Executable
		block = 1 + offset/blk.BlockSize
		executable = true
	}

	if inode == nil {
		if err := m.getEmptyPage(addr); err != nil {
			return m.outOfMemory(t)
		}
		return FaultRetry
	}

	shared, err := m.sharePage(t, inode, offset)
	if err != nil {
		return m.outOfMemory(t)
	}
	if shared {
		return FaultRetry
	}

	frame, err := m.frames.Alloc()
	if err != nil {
		return m.outOfMemory(t)
	}

	var nrs [blk.BlocksPerPage]uint32
	for i := range nrs {
		nrs[i] = inode.Bmap(block + uint32(i))
	}

	page := m.mem.FrameBytes(frame)
	if err = m.blocks.BreadPage(inode.Dev(), nrs, page); err != nil {
		m.frames.Free(frame)
		kfmt.Printf("Unable to read page at %08x\n", addr)
		return m.terminate(t)
	}

	if executable {
		zeroTail(page, offset, t.EndData)
	}

	if _, err = m.PutPage(frame, addr); err != nil {
		m.frames.Free(frame)
		return m.outOfMemory(t)
	}

	return FaultRetry
}

// zeroTail clears the bytes of a page loaded from offset that lie past
// endData, as long as endData falls inside the page.
func zeroTail(page []byte, offset, endData uint32) {
	n := int64(offset) + int64(mm.PageSize) - int64(endData)
	if n > int64(mm.PageSize)-1 {
		n = 0
	}
	if n > 0 {
		kernel.Memset(page[int64(len(page))-n:], 0)
	}
}

// getEmptyPage maps a zero-filled frame at linear.
func (m *Manager) getEmptyPage(linear uint32) *kernel.Error {
	frame, err := m.frames.Alloc()
	if err != nil {
		return err
	}

	if _, err = m.PutPage(frame, linear); err != nil {
		m.frames.Free(frame)
		return err
	}

	return nil
}
