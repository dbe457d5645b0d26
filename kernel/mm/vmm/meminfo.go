package vmm

import (
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
)

// TaskMemInfo reports the frames charged to a task window.
type TaskMemInfo struct {
	// Nr is the process table slot that owns the window.
	Nr int

	// Pages counts page table frames plus resident frames in the pool.
	Pages uint32
}

// MemInfo is a snapshot of physical memory and swap usage.
type MemInfo struct {
	FreePages   uint32
	TotalPages  uint32
	SharedPages uint32

	Tasks []TaskMemInfo

	SwapSlots uint32
	SwapFree  uint32
}

// MemInfo collects memory usage statistics.
func (m *Manager) MemInfo() MemInfo {
	info := MemInfo{
		FreePages:   m.frames.FreeCount(),
		TotalPages:  m.frames.TotalCount(),
		SharedPages: m.frames.SharedCount(),
		SwapSlots:   m.swap.Slots(),
		SwapFree:    m.swap.FreeSlots(),
	}

	dirsPerTask := m.layout.TaskSize >> mm.DirShift
	var pages uint32
	for i := uint32(0); i < mm.EntriesPerTable; i++ {
		dir := pageTableEntry(m.mem.ReadWord(m.pdtAddr + i<<2))
		if dir.HasFlags(FlagPresent) {
			if m.frames.Managed(dir.Frame()) {
				pages++
			}

			table := dir.Frame().Address()
			for nr := uint32(0); nr < mm.EntriesPerTable; nr++ {
				if e := m.entryAt(table + nr<<2); e.Kind == Resident && m.frames.Managed(e.Frame) {
					pages++
				}
			}
		}

		if (i+1)%dirsPerTask == 0 && pages != 0 {
			info.Tasks = append(info.Tasks, TaskMemInfo{Nr: int(i / dirsPerTask), Pages: pages})
			pages = 0
		}
	}

	return info
}

// PrintMemInfo writes a memory usage report to the console.
func (m *Manager) PrintMemInfo() {
	info := m.MemInfo()

	kfmt.Printf("Mem-info:\n")
	kfmt.Printf("%d free pages of %d\n", info.FreePages, info.TotalPages)
	kfmt.Printf("%d pages shared\n", info.SharedPages)
	for _, t := range info.Tasks {
		kfmt.Printf("Process %d: %d pages\n", t.Nr, t.Pages)
	}
	if info.SwapSlots != 0 {
		kfmt.Printf("%d free swap pages of %d\n", info.SwapFree, info.SwapSlots-1)
	}
}
