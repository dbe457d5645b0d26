// Package kmain assembles the memory subsystem from a configuration: the
// physical memory, the frame allocator, the block devices, the swap space,
// the process table and the page tables of task 0.
package kmain

import (
	"i386vm/kernel"
	"i386vm/kernel/blk"
	"i386vm/kernel/config"
	"i386vm/kernel/gate"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/pmm"
	"i386vm/kernel/mm/swap"
	"i386vm/kernel/mm/vmm"
	"i386vm/kernel/task"
)

var (
	errBadConfig  = &kernel.Error{Module: "kmain", Message: "invalid memory configuration"}
	errDeviceLoad = &kernel.Error{Module: "kmain", Message: "unable to load device image"}
)

// System is a booted memory subsystem.
type System struct {
	Config config.MemoryConfig

	Memory *mm.PhysicalMemory
	Frames *pmm.Allocator
	Blocks *blk.Registry
	Swap   *swap.Space
	Tasks  *task.Table
	Gate   *gate.Table
	VM     *vmm.Manager
}

// Boot validates cfg and brings up the memory subsystem. The page directory
// is placed at physical address 0 and task 0's page tables right after it;
// low memory is identity mapped into task 0's window. Task 0 is installed
// as the running task.
func Boot(cfg config.MemoryConfig) (*System, *kernel.Error) {
	if err := cfg.Validate(); err != nil {
		kfmt.Printf("%s: %s\n", errBadConfig.Message, err.Error())
		return nil, errBadConfig
	}

	sys := &System{
		Config: cfg,
		Memory: mm.NewPhysicalMemory(cfg.HighMemory),
		Frames: &pmm.Allocator{},
		Blocks: blk.NewRegistry(),
		Swap:   &swap.Space{},
		Tasks:  task.NewTable(cfg.NrTasks),
		Gate:   &gate.Table{},
	}

	var err *kernel.Error
	if err = sys.initDevices(); err != nil {
		return nil, err
	} else if err = sys.Frames.Init(sys.Memory, cfg.LowMem, cfg.HighMemory, cfg.LowMem); err != nil {
		return nil, err
	}

	sys.VM = vmm.NewManager(sys.Memory, sys.Frames, sys.Swap, sys.Blocks, sys.Tasks,
		vmm.Layout{TaskSize: cfg.TaskSize, LibraryOffset: cfg.LibraryOffset()}, 0)

	if err = sys.initKernelTables(); err != nil {
		return nil, err
	}

	task0 := &task.Task{}
	if err = sys.Tasks.Add(0, task0); err != nil {
		return nil, err
	}
	sys.Tasks.SetCurrent(task0)
	sys.Tasks.SetReleaseHook(sys.VM.Release)

	sys.VM.Activate()
	sys.VM.Install(sys.Gate)

	if cfg.SwapDevice != 0 {
		sys.Swap.Init(blk.PageDevice{Registry: sys.Blocks, Dev: blk.Dev(cfg.SwapDevice)})
	}
	sys.Frames.SetReclaimer(sys.VM)

	kfmt.Printf("Free mem: %d bytes\n", sys.Frames.FreeCount()*mm.PageSize)
	return sys, nil
}

// initDevices registers a RAM disk for each configured device.
func (sys *System) initDevices() *kernel.Error {
	for _, dev := range sys.Config.Devices {
		if dev.Image == "" {
			sys.Blocks.Register(blk.Dev(dev.Dev), blk.NewRAMDisk(dev.Blocks))
			continue
		}

		disk, err := blk.LoadRAMDisk(dev.Image, dev.Blocks)
		if err != nil {
			kfmt.Printf("%s %s: %s\n", errDeviceLoad.Message, dev.Image, err.Error())
			return errDeviceLoad
		}
		sys.Blocks.Register(blk.Dev(dev.Dev), disk)
	}

	return nil
}

// initKernelTables links the page tables that cover low memory into the
// directory and identity maps low memory through them. The tables occupy
// the frames that follow the page directory.
func (sys *System) initKernelTables() *kernel.Error {
	tables := (sys.Config.LowMem + mm.DirSpan - 1) >> mm.DirShift
	for i := uint32(0); i < tables; i++ {
		sys.VM.LinkTable(i<<mm.DirShift, mm.Frame(1+i))
	}

	_, err := sys.VM.IdentityMapRegion(0, sys.Config.LowMem, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUser)
	return err
}

// Fork creates a copy-on-write child of parent in the lowest free process
// table slot.
func (sys *System) Fork(parent *task.Task) (*task.Task, *kernel.Error) {
	nr, err := sys.Tasks.FreeSlot()
	if err != nil {
		return nil, err
	}

	child := &task.Task{}
	if err = sys.Tasks.Add(nr, child); err != nil {
		return nil, err
	}

	if err = sys.VM.Fork(parent, child); err != nil {
		sys.Tasks.Remove(nr)
		return nil, err
	}

	return child, nil
}

// Exit terminates t and frees its process table slot.
func (sys *System) Exit(t *task.Task) {
	sys.Tasks.Terminate(t, 0)
	sys.Tasks.Remove(t.Nr)
}
