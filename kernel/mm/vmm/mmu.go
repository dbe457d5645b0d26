package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/gate"
	"i386vm/kernel/mm"
	"i386vm/kernel/task"
)

// maxFaultRetries bounds the number of faults a single page access may
// raise before the MMU gives up.
const maxFaultRetries = 8

var (
	// ErrSegmentationFault is returned by user memory accesses when the
	// task was terminated while resolving a fault.
	ErrSegmentationFault = &kernel.Error{Module: "vmm", Message: "segmentation fault"}

	// ErrNoCurrentTask is returned by user memory accesses when no task is
	// running.
	ErrNoCurrentTask = &kernel.Error{Module: "vmm", Message: "no current task"}

	errFaultLoop      = &kernel.Error{Module: "vmm", Message: "page fault not resolved after retries"}
	errUnhandledFault = &kernel.Error{Module: "vmm", Message: "no page fault handler installed"}
)

// Install registers the page fault handler with the trap gate. Faults
// raised by the software MMU are dispatched through g.
func (m *Manager) Install(g *gate.Table) {
	m.gate = g
	g.HandleInterrupt(gate.PageFaultException, m.pageFaultHandler)
}

// pageFaultHandler is invoked when a page table entry is not present or
// when a write protection check fails.
func (m *Manager) pageFaultHandler(regs *gate.Registers) {
	m.HandleFault(m.tasks.Current(), regs.Info, regs.CR2)
}

// ReadUser copies len(buf) bytes from offset in the current task's address
// space into buf, faulting pages in as needed.
func (m *Manager) ReadUser(offset uint32, buf []byte) *kernel.Error {
	return m.accessUser(offset, buf, false)
}

// WriteUser copies data to offset in the current task's address space,
// faulting pages in and breaking copy-on-write sharing as needed.
func (m *Manager) WriteUser(offset uint32, data []byte) *kernel.Error {
	return m.accessUser(offset, data, true)
}

func (m *Manager) accessUser(offset uint32, buf []byte, write bool) *kernel.Error {
	t := m.tasks.Current()
	if t == nil {
		return ErrNoCurrentTask
	}

	for len(buf) > 0 {
		linear := t.StartCode + offset
		pageOffset := linear & (mm.PageSize - 1)
		chunk := mm.PageSize - pageOffset
		if uint32(len(buf)) < chunk {
			chunk = uint32(len(buf))
		}

		frame, err := m.translateForAccess(t, linear, write)
		if err != nil {
			return err
		}

		mem := m.mem.FrameBytes(frame)[pageOffset : pageOffset+chunk]
		if write {
			kernel.Memcopy(buf[:chunk], mem)
		} else {
			kernel.Memcopy(mem, buf[:chunk])
		}

		buf = buf[chunk:]
		offset += chunk
	}

	return nil
}

// translateForAccess walks the page tables for linear the way the MMU
// does, raising page faults until the access is permitted. On success the
// accessed (and, for writes, dirty) bits of the entry are set.
func (m *Manager) translateForAccess(t *task.Task, linear uint32, write bool) (mm.Frame, *kernel.Error) {
	for attempt := 0; ; attempt++ {
		if pteAddr, ok := m.pteAddr(linear); ok {
			e := m.entryAt(pteAddr)
			if e.Kind == Resident && e.User && (e.Writable || !write) {
				e.Accessed = true
				if write {
					e.Dirty = true
				}
				m.setEntry(pteAddr, e)
				return e.Frame, nil
			}
		}

		if attempt == maxFaultRetries {
			panicFn(errFaultLoop)
			return mm.InvalidFrame, errFaultLoop
		}

		errorCode := uint32(faultUser)
		if m.Lookup(linear).Kind == Resident {
			errorCode |= faultProtection
		}
		if write {
			errorCode |= faultWrite
		}

		if err := m.raiseFault(errorCode, linear); err != nil {
			return mm.InvalidFrame, err
		}

		if t.State != task.Running {
			return mm.InvalidFrame, ErrSegmentationFault
		}
	}
}

// raiseFault latches the fault address into CR2 and delivers a page fault
// through the trap gate.
func (m *Manager) raiseFault(errorCode, linear uint32) *kernel.Error {
	writeCR2Fn(linear)

	if m.gate == nil {
		panicFn(errUnhandledFault)
		return errUnhandledFault
	}

	if !m.gate.Dispatch(gate.PageFaultException, &gate.Registers{Info: errorCode, CR2: linear}) {
		panicFn(errUnhandledFault)
		return errUnhandledFault
	}

	return nil
}
