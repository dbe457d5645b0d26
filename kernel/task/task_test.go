package task

import (
	"i386vm/kernel/fs"
	"testing"
)

func TestTableSlots(t *testing.T) {
	tt := NewTable(3)

	if err := tt.Add(0, &Task{}); err != nil {
		t.Fatal(err)
	}

	nr, err := tt.FreeSlot()
	if err != nil || nr != 1 {
		t.Fatalf("expected slot 1 to be free; got %d, %v", nr, err)
	}

	t1 := &Task{}
	if err = tt.Add(nr, t1); err != nil {
		t.Fatal(err)
	}

	if t1.Nr != 1 || t1.PID != 1 {
		t.Fatalf("expected task to get slot 1 and pid 1; got %d, %d", t1.Nr, t1.PID)
	}

	if err = tt.Add(1, &Task{}); err != ErrSlotInUse {
		t.Fatalf("expected ErrSlotInUse; got %v", err)
	}

	if err = tt.Add(2, &Task{}); err != nil {
		t.Fatal(err)
	}

	if _, err = tt.FreeSlot(); err != ErrTableFull {
		t.Fatalf("expected ErrTableFull; got %v", err)
	}

	if err = tt.Add(5, &Task{}); err != ErrTableFull {
		t.Fatalf("expected ErrTableFull for an out of range slot; got %v", err)
	}

	tt.SetCurrent(t1)
	tt.Remove(1)
	if tt.Get(1) != nil {
		t.Fatal("expected slot 1 to be cleared")
	}

	if tt.Current() != tt.Get(0) {
		t.Fatal("expected removing the current task to fall back to task 0")
	}
}

func TestTableEach(t *testing.T) {
	tt := NewTable(5)
	for nr := 0; nr < 4; nr++ {
		if err := tt.Add(nr, &Task{}); err != nil {
			t.Fatal(err)
		}
	}
	tt.Get(2).State = Zombie

	var visited []int
	tt.Each(func(tk *Task) bool {
		visited = append(visited, tk.Nr)
		return true
	})

	exp := []int{3, 1}
	if len(visited) != len(exp) {
		t.Fatalf("expected to visit %v; got %v", exp, visited)
	}
	for i := range exp {
		if visited[i] != exp[i] {
			t.Fatalf("expected to visit %v; got %v", exp, visited)
		}
	}

	visited = visited[:0]
	tt.Each(func(tk *Task) bool {
		visited = append(visited, tk.Nr)
		return false
	})
	if len(visited) != 1 {
		t.Fatalf("expected iteration to stop after the first task; got %v", visited)
	}
}

func TestTerminate(t *testing.T) {
	var (
		tt       = NewTable(2)
		exe      = fs.NewFlatInode(0, 10, 10)
		lib      = fs.NewFlatInode(0, 30, 10)
		released *Task
	)

	tk := &Task{Executable: exe, Library: lib}
	if err := tt.Add(1, tk); err != nil {
		t.Fatal(err)
	}

	tt.SetReleaseHook(func(r *Task) { released = r })
	tt.Terminate(tk, SIGSEGV)

	if released != tk {
		t.Fatal("expected the release hook to be invoked")
	}

	if tk.State != Zombie || tk.ExitSignal != SIGSEGV {
		t.Fatalf("expected task to be a zombie with SIGSEGV; got state %d, signal %d", tk.State, tk.ExitSignal)
	}

	if exe.Count() != 0 || lib.Count() != 0 {
		t.Fatal("expected inode references to be dropped")
	}

	released = nil
	tt.Terminate(tk, SIGSEGV)
	if released != nil {
		t.Fatal("expected terminating a zombie to be a no-op")
	}
}
