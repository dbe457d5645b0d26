package vmm

import (
	"bytes"
	"i386vm/kernel"
	"i386vm/kernel/blk"
	"i386vm/kernel/cpu"
	"i386vm/kernel/fs"
	"i386vm/kernel/gate"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/pmm"
	"i386vm/kernel/mm/swap"
	"i386vm/kernel/task"
	"testing"
)

const (
	testLowMem        = 1 << 20
	testTaskSize      = 64 << 20
	testLibraryOffset = 60 << 20

	// Executable images start at this block of the file device.
	testExeStart = 10
	testLibStart = 300
)

var (
	testFileDev = blk.MkDev(3, 1)
	testSwapDev = blk.MkDev(3, 2)
)

type testSystem struct {
	mem    *mm.PhysicalMemory
	frames *pmm.Allocator
	swap   *swap.Space
	blocks *blk.Registry
	tasks  *task.Table
	gate   *gate.Table
	vm     *Manager

	fileDisk *blk.RAMDisk
	swapDisk *blk.RAMDisk
	log      *bytes.Buffer
}

// diskByte returns the byte stored at offset off of device block nr on the
// file disk.
func diskByte(nr, off uint32) byte {
	return byte(nr*7 + off*13 + off>>8)
}

// newTestSystem builds a paging system with poolPages allocatable frames
// above 1MB. A formatted swap device with swapBlocks blocks is attached
// when swapBlocks is not zero.
func newTestSystem(t *testing.T, poolPages, swapBlocks uint32) *testSystem {
	t.Helper()

	sys := &testSystem{
		frames: &pmm.Allocator{},
		swap:   &swap.Space{},
		blocks: blk.NewRegistry(),
		tasks:  task.NewTable(64),
		gate:   &gate.Table{},
		log:    &bytes.Buffer{},
	}

	kfmt.SetOutputSink(sys.log)
	t.Cleanup(func() {
		kfmt.SetOutputSink(nil)
		cpu.Reset()
	})

	highMemory := uint32(testLowMem) + poolPages*mm.PageSize
	sys.mem = mm.NewPhysicalMemory(highMemory)
	if err := sys.frames.Init(sys.mem, testLowMem, highMemory, testLowMem); err != nil {
		t.Fatal(err)
	}

	sys.fileDisk = blk.NewRAMDisk(1024)
	for nr := uint32(0); nr < sys.fileDisk.Blocks(); nr++ {
		for off := uint32(0); off < blk.BlockSize; off++ {
			sys.fileDisk.Bytes()[nr*blk.BlockSize+off] = diskByte(nr, off)
		}
	}
	sys.blocks.Register(testFileDev, sys.fileDisk)

	if swapBlocks != 0 {
		sys.swapDisk = blk.NewRAMDisk(swapBlocks)
		sys.blocks.Register(testSwapDev, sys.swapDisk)

		dev := blk.PageDevice{Registry: sys.blocks, Dev: testSwapDev}
		if err := swap.Format(dev); err != nil {
			t.Fatal(err)
		}
		if !sys.swap.Init(dev) {
			t.Fatalf("expected swap to be enabled; log: %q", sys.log.String())
		}
	}

	sys.vm = NewManager(sys.mem, sys.frames, sys.swap, sys.blocks, sys.tasks, Layout{TaskSize: testTaskSize, LibraryOffset: testLibraryOffset}, 0)
	sys.vm.Install(sys.gate)
	sys.tasks.SetReleaseHook(sys.vm.Release)

	task0 := &task.Task{}
	if err := sys.tasks.Add(0, task0); err != nil {
		t.Fatal(err)
	}
	sys.tasks.SetCurrent(task0)

	return sys
}

// newTask adds a task in slot nr whose window starts at nr*TaskSize.
func (sys *testSystem) newTask(t *testing.T, nr int, exe fs.Inode, endData uint32) *task.Task {
	t.Helper()

	tk := &task.Task{
		StartCode:  uint32(nr) * testTaskSize,
		EndCode:    endData,
		EndData:    endData,
		Brk:        endData,
		Executable: exe,
	}
	if err := sys.tasks.Add(nr, tk); err != nil {
		t.Fatal(err)
	}
	return tk
}

func (sys *testSystem) run(tk *task.Task) {
	sys.tasks.SetCurrent(tk)
}

func (sys *testSystem) read(t *testing.T, offset, size uint32) []byte {
	t.Helper()

	buf := make([]byte, size)
	if err := sys.vm.ReadUser(offset, buf); err != nil {
		t.Fatalf("read at %#x failed: %v", offset, err)
	}
	return buf
}

func (sys *testSystem) write(t *testing.T, offset uint32, data []byte) {
	t.Helper()

	if err := sys.vm.WriteUser(offset, data); err != nil {
		t.Fatalf("write at %#x failed: %v", offset, err)
	}
}

// entry returns the decoded entry for offset in tk's window.
func (sys *testSystem) entry(tk *task.Task, offset uint32) Entry {
	return sys.vm.Lookup(tk.StartCode + offset)
}

// mockPanic replaces panicFn with a function that records the error and
// returns a pointer to the recorded value.
func mockPanic(t *testing.T) **kernel.Error {
	var got *kernel.Error
	panicFn = func(e interface{}) { got = e.(*kernel.Error) }
	t.Cleanup(func() { panicFn = kfmt.Panic })
	return &got
}

// expectHalt runs fn and fails the test unless it triggers a kernel panic.
func expectHalt(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if err := recover(); err != cpu.ErrHalted {
			t.Fatalf("expected a kernel panic; got %v", err)
		}
	}()

	fn()
}
