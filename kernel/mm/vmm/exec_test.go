package vmm

import (
	"bytes"
	"i386vm/kernel/fs"
	"i386vm/kernel/mm"
	"i386vm/kernel/task"
	"testing"
)

func TestExec(t *testing.T) {
	sys := newTestSystem(t, 16, 0)

	old := fs.NewFlatInode(testFileDev, testLibStart, 8)
	tk := sys.newTask(t, 1, old, 0x1000)
	sys.run(tk)
	sys.write(t, 0x800000, []byte{1})

	exe := fs.NewFlatInode(testFileDev, testExeStart, 64)
	args := bytes.Repeat([]byte{0x33}, int(mm.PageSize+10))
	if err := sys.vm.Exec(tk, ExecImage{Inode: exe, EndCode: 0x2000, EndData: 0x3000, Brk: 0x3000}, args); err != nil {
		t.Fatal(err)
	}

	if old.Count() != 0 || tk.Executable != exe {
		t.Fatal("expected the executable to be replaced")
	}
	if tk.EndCode != 0x2000 || tk.EndData != 0x3000 || tk.Brk != 0x3000 {
		t.Fatalf("unexpected layout: %+v", tk)
	}
	if exp := uint32(testLibraryOffset - 2*mm.PageSize); tk.StartStack != exp {
		t.Fatalf("expected stack to start at %#x; got %#x", exp, tk.StartStack)
	}

	if e := sys.entry(tk, 0x800000); e.Kind != Unbacked {
		t.Fatalf("expected the old address space to be released; got %+v", e)
	}

	e := sys.entry(tk, tk.StartStack)
	if e.Kind != Resident || !e.Dirty {
		t.Fatalf("expected the arguments to be in dirty pages; got %+v", e)
	}
	if got := sys.read(t, tk.StartStack, uint32(len(args))); !bytes.Equal(got, args) {
		t.Fatal("expected the argument block to be copied")
	}

	if got := sys.read(t, 0, 1)[0]; got != diskByte(11, 0) {
		t.Fatalf("expected text to be paged from the new executable; got %#x", got)
	}
}

func TestExecArgsTooLong(t *testing.T) {
	sys := newTestSystem(t, 16, 0)
	tk := sys.newTask(t, 1, nil, 0)

	args := make([]byte, (maxArgPages+1)*mm.PageSize)
	if err := sys.vm.Exec(tk, ExecImage{}, args); err != ErrArgsTooLong {
		t.Fatalf("expected ErrArgsTooLong; got %v", err)
	}
}

func TestUseLib(t *testing.T) {
	sys := newTestSystem(t, 16, 0)
	tk := sys.newTask(t, 1, nil, 0)
	sys.run(tk)

	lib := fs.NewFlatInode(testFileDev, testLibStart, 64)
	sys.vm.UseLib(tk, lib)

	if got := sys.read(t, testLibraryOffset, 1)[0]; got != diskByte(testLibStart+1, 0) {
		t.Fatalf("expected library contents; got %#x", got)
	}
	sys.write(t, 0x1000, []byte{9})

	sys.vm.UseLib(tk, nil)
	if lib.Count() != 0 || tk.Library != nil {
		t.Fatal("expected the library reference to be dropped")
	}
	if e := sys.entry(tk, testLibraryOffset); e.Kind != Unbacked {
		t.Fatalf("expected the library region to be released; got %+v", e)
	}
	if e := sys.entry(tk, 0x1000); e.Kind != Resident {
		t.Fatalf("expected the rest of the window to be kept; got %+v", e)
	}
}

func TestReleaseOnTerminate(t *testing.T) {
	sys := newTestSystem(t, 16, testSwapBlocks)

	exe := fs.NewFlatInode(testFileDev, testExeStart, 64)
	tk := sys.newTask(t, 1, exe, 0x4000)
	sys.run(tk)
	sys.read(t, 0, 1)
	sys.write(t, 0x10000, []byte{1})
	sys.write(t, 0x20000, []byte{2})

	// Put one page in swap so that its slot must be freed as well.
	for sys.entry(tk, 0x10000).Kind != SwappedOut {
		if !sys.vm.EvictOne() {
			t.Fatal("expected eviction to succeed")
		}
	}

	freeSlots := sys.swap.FreeSlots()
	sys.tasks.Terminate(tk, task.SIGSEGV)

	if got := sys.frames.FreeCount(); got != sys.frames.TotalCount() {
		t.Fatalf("expected every frame to be released; %d of %d free", got, sys.frames.TotalCount())
	}
	if got := sys.swap.FreeSlots(); got != freeSlots+1 {
		t.Fatalf("expected the swap slot to be released; %d free, was %d", got, freeSlots)
	}
	if exe.Count() != 0 {
		t.Fatal("expected the executable reference to be dropped")
	}

	// Task 0 is never torn down.
	sys.vm.Release(sys.tasks.Get(0))
}
