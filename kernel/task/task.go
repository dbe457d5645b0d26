// Package task provides the process table consulted by the paging code: the
// list of live tasks, the current task and task termination.
package task

import (
	"i386vm/kernel"
	"i386vm/kernel/fs"
)

// Signal is a signal number delivered to a task.
type Signal uint8

const (
	// SIGSEGV is delivered to a task that makes an invalid memory access.
	SIGSEGV Signal = 11
)

// State describes the lifecycle state of a task.
type State uint8

const (
	// Running tasks own an address space and may fault.
	Running State = iota

	// Zombie tasks have been terminated and released their address space.
	Zombie
)

var (
	// ErrTableFull is returned when all task slots are in use.
	ErrTableFull = &kernel.Error{Module: "task", Message: "no free task slots"}

	// ErrSlotInUse is returned when adding a task to an occupied slot.
	ErrSlotInUse = &kernel.Error{Module: "task", Message: "task slot already in use"}
)

// Task holds the memory layout of a process. All addresses except StartCode
// are offsets relative to StartCode.
type Task struct {
	PID int

	// Nr is the index of the task in the process table.
	Nr int

	// StartCode is the linear base address of the task's window.
	StartCode uint32

	EndCode    uint32
	EndData    uint32
	Brk        uint32
	StartStack uint32

	// Executable and Library are the inodes backing the task's text/data
	// and shared library regions. Either may be nil.
	Executable fs.Inode
	Library    fs.Inode

	State      State
	ExitSignal Signal
}

// ReleaseFn is invoked when a task is terminated so its address space can be
// torn down.
type ReleaseFn func(*Task)

// Table is a fixed-size process table.
type Table struct {
	tasks   []*Task
	current *Task
	nextPID int

	releaseFn ReleaseFn
}

// NewTable returns an empty process table with nr slots.
func NewTable(nr int) *Table {
	return &Table{tasks: make([]*Task, nr), nextPID: 1}
}

// Size returns the number of slots in the table.
func (tt *Table) Size() int { return len(tt.tasks) }

// SetReleaseHook registers the function called by Terminate.
func (tt *Table) SetReleaseHook(fn ReleaseFn) { tt.releaseFn = fn }

// FreeSlot returns the lowest free slot above slot 0.
func (tt *Table) FreeSlot() (int, *kernel.Error) {
	for nr := 1; nr < len(tt.tasks); nr++ {
		if tt.tasks[nr] == nil {
			return nr, nil
		}
	}
	return -1, ErrTableFull
}

// Add stores t in slot nr and assigns it a PID if it does not have one.
func (tt *Table) Add(nr int, t *Task) *kernel.Error {
	if nr < 0 || nr >= len(tt.tasks) {
		return ErrTableFull
	}
	if tt.tasks[nr] != nil {
		return ErrSlotInUse
	}

	t.Nr = nr
	if t.PID == 0 && nr != 0 {
		t.PID = tt.nextPID
		tt.nextPID++
	}
	tt.tasks[nr] = t
	return nil
}

// Get returns the task in slot nr or nil.
func (tt *Table) Get(nr int) *Task {
	if nr < 0 || nr >= len(tt.tasks) {
		return nil
	}
	return tt.tasks[nr]
}

// Remove clears slot nr.
func (tt *Table) Remove(nr int) {
	if nr < 0 || nr >= len(tt.tasks) {
		return
	}
	if tt.tasks[nr] == tt.current {
		tt.current = tt.tasks[0]
	}
	tt.tasks[nr] = nil
}

// Current returns the running task.
func (tt *Table) Current() *Task { return tt.current }

// SetCurrent switches the running task.
func (tt *Table) SetCurrent(t *Task) { tt.current = t }

// Each invokes fn for every live task from the last slot down to slot 1
// until fn returns false. Slot 0 is never visited.
func (tt *Table) Each(fn func(*Task) bool) {
	for nr := len(tt.tasks) - 1; nr > 0; nr-- {
		t := tt.tasks[nr]
		if t == nil || t.State != Running {
			continue
		}
		if !fn(t) {
			return
		}
	}
}

// Terminate marks t as a zombie with the given exit signal, releases its
// address space and drops its inode references.
func (tt *Table) Terminate(t *Task, sig Signal) {
	if t == nil || t.State == Zombie {
		return
	}

	t.State = Zombie
	t.ExitSignal = sig

	if tt.releaseFn != nil {
		tt.releaseFn(t)
	}

	if t.Executable != nil {
		t.Executable.Put()
		t.Executable = nil
	}
	if t.Library != nil {
		t.Library.Put()
		t.Library = nil
	}
}
