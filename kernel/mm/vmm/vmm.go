// Package vmm implements the paging core: installing and releasing
// mappings, duplicating address spaces for fork, resolving copy-on-write and
// demand-paging faults, sharing pages between tasks running the same file
// and evicting pages to the swap device.
//
// All tasks share the single page directory stored at physical address 0.
// Task nr owns the directory entries covering the linear window
// [nr*TaskSize, (nr+1)*TaskSize); the page tables linked from those entries
// are private to the task while the frames they reference may be shared.
package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/blk"
	"i386vm/kernel/cpu"
	"i386vm/kernel/gate"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/pmm"
	"i386vm/kernel/mm/swap"
	"i386vm/kernel/task"
)

var (
	// The following functions are used by tests to observe or override
	// calls to the cpu and kfmt packages.
	flushTLBFn          = cpu.FlushTLB
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	writeCR2Fn          = cpu.WriteCR2
	panicFn             = kfmt.Panic
)

// ProcessTable is the view of the process table used by the paging code.
type ProcessTable interface {
	// Current returns the running task.
	Current() *task.Task

	// Each visits the live tasks other than task 0 until fn returns
	// false.
	Each(fn func(*task.Task) bool)

	// Terminate kills a task with the supplied signal.
	Terminate(t *task.Task, sig task.Signal)
}

// Layout describes the linear window assigned to each task.
type Layout struct {
	// TaskSize is the size of each task's linear window.
	TaskSize uint32

	// LibraryOffset is the offset of the shared library region within
	// a task window.
	LibraryOffset uint32
}

// LibrarySize returns the size of the shared library region.
func (l Layout) LibrarySize() uint32 {
	return l.TaskSize - l.LibraryOffset
}

// Manager owns the page tables of every task.
type Manager struct {
	mem    *mm.PhysicalMemory
	frames *pmm.Allocator
	swap   *swap.Space
	blocks *blk.Registry
	tasks  ProcessTable
	layout Layout

	// pdtAddr is the physical address of the page directory.
	pdtAddr uint32

	// gate receives the page faults raised by the software MMU.
	gate *gate.Table

	// swapDir and swapEntry remember where the eviction sweep stopped.
	swapDir   uint32
	swapEntry int
}

// NewManager returns a Manager that keeps its page directory at physical
// address pdtAddr.
func NewManager(mem *mm.PhysicalMemory, frames *pmm.Allocator, swapSpace *swap.Space, blocks *blk.Registry, tasks ProcessTable, layout Layout, pdtAddr uint32) *Manager {
	return &Manager{
		mem:       mem,
		frames:    frames,
		swap:      swapSpace,
		blocks:    blocks,
		tasks:     tasks,
		layout:    layout,
		pdtAddr:   pdtAddr,
		swapDir:   layout.TaskSize >> mm.DirShift,
		swapEntry: -1,
	}
}

// Layout returns the task window layout.
func (m *Manager) Layout() Layout {
	return m.layout
}

// Activate loads the page directory into CR3.
func (m *Manager) Activate() {
	cpu.SwitchPDT(m.pdtAddr)
}

// dirEntryAddr returns the physical address of the directory entry that
// covers linear.
func (m *Manager) dirEntryAddr(linear uint32) uint32 {
	return m.pdtAddr + mm.PageFromAddress(linear).DirIndex()<<2
}

func (m *Manager) dirEntry(linear uint32) pageTableEntry {
	return pageTableEntry(m.mem.ReadWord(m.dirEntryAddr(linear)))
}

// pteAddr returns the physical address of the page table entry for linear.
// The second return value is false if no page table covers linear.
func (m *Manager) pteAddr(linear uint32) (uint32, bool) {
	dir := m.dirEntry(linear)
	if !dir.HasFlags(FlagPresent) {
		return 0, false
	}

	return dir.Frame().Address() + mm.PageFromAddress(linear).TableIndex()<<2, true
}

// tableFor returns the physical address of the page table entry for
// linear, allocating and linking a zeroed page table if none exists.
func (m *Manager) tableFor(linear uint32) (uint32, *kernel.Error) {
	if addr, ok := m.pteAddr(linear); ok {
		return addr, nil
	}

	tableFrame, err := m.frames.Alloc()
	if err != nil {
		return 0, err
	}

	dir := pageTableEntry(0)
	dir.SetFrame(tableFrame)
	dir.SetFlags(tableFlags)
	m.mem.WriteWord(m.dirEntryAddr(linear), uint32(dir))

	return tableFrame.Address() + mm.PageFromAddress(linear).TableIndex()<<2, nil
}

// entryAt decodes the page table entry stored at physical address addr.
func (m *Manager) entryAt(addr uint32) Entry {
	return DecodeEntry(m.mem.ReadWord(addr))
}

// setEntry stores e at physical address addr.
func (m *Manager) setEntry(addr uint32, e Entry) {
	m.mem.WriteWord(addr, e.Encode())
}

// updateEntry replaces a live page table entry and flushes the TLB with
// interrupts masked.
func (m *Manager) updateEntry(addr uint32, e Entry) {
	disableInterruptsFn()
	m.setEntry(addr, e)
	flushTLBFn()
	enableInterruptsFn()
}

// Lookup returns the decoded page table entry for linear.
func (m *Manager) Lookup(linear uint32) Entry {
	addr, ok := m.pteAddr(linear)
	if !ok {
		return Entry{}
	}
	return m.entryAt(addr)
}

// DirPresent returns true if a page table covers linear.
func (m *Manager) DirPresent(linear uint32) bool {
	return m.dirEntry(linear).HasFlags(FlagPresent)
}
