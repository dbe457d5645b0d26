package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"i386vm/kernel/blk"
	"i386vm/kernel/config"
	"i386vm/kernel/fs"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/kmain"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/vmm"
	"i386vm/kernel/task"
)

type options struct {
	// children is the number of tasks forked from init.
	children int

	// pages is the number of pages each child dirties.
	pages int

	// exeDev, exeStart and exeBlocks describe the executable run by
	// init. A zero exeDev runs init without an executable.
	exeDev    uint16
	exeStart  uint32
	exeBlocks uint32

	// memoryMap names a PNG file that receives the memory map while
	// every child is still alive. Empty disables rendering.
	memoryMap string
}

var errCorrupted = errors.New("page contents corrupted")

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[vmsim] error: %s\n", err.Error())
	os.Exit(1)
}

// pattern returns the byte child nr writes at the start of page.
func pattern(nr, page int) byte {
	return byte(nr*31 + page + 1)
}

// simulate boots the system described by cfg, forks init from task 0 and
// a set of children from init. Each child dirties its own pages, which
// breaks copy-on-write sharing and, once memory runs out, pushes pages to
// swap. Every page is then read back and checked.
func simulate(cfg config.MemoryConfig, opts options, w io.Writer) error {
	kfmt.SetOutputSink(w)

	sys, kerr := kmain.Boot(cfg)
	if kerr != nil {
		return kerr
	}

	initTask, kerr := sys.Fork(sys.Tasks.Current())
	if kerr != nil {
		return kerr
	}

	img := vmm.ExecImage{}
	if opts.exeDev != 0 {
		size := opts.exeBlocks * blk.BlockSize
		img = vmm.ExecImage{
			Inode:   fs.NewFlatInode(blk.Dev(opts.exeDev), opts.exeStart, opts.exeBlocks),
			EndCode: size,
			EndData: size,
			Brk:     size,
		}
	}
	if kerr = sys.VM.Exec(initTask, img, []byte("init")); kerr != nil {
		return kerr
	}

	// Let init touch its data so the children inherit resident pages.
	sys.Tasks.SetCurrent(initTask)
	heap := (img.Brk + mm.PageSize - 1) &^ (mm.PageSize - 1)
	for page := 0; page < opts.pages; page++ {
		if kerr = sys.VM.WriteUser(heap+uint32(page)*mm.PageSize, []byte{0xff}); kerr != nil {
			return kerr
		}
	}

	children := make([]*task.Task, 0, opts.children)
	for i := 0; i < opts.children; i++ {
		child, kerr := sys.Fork(initTask)
		if kerr != nil {
			return kerr
		}
		children = append(children, child)
	}

	for _, child := range children {
		sys.Tasks.SetCurrent(child)
		for page := 0; page < opts.pages; page++ {
			if kerr = sys.VM.WriteUser(heap+uint32(page)*mm.PageSize, []byte{pattern(child.Nr, page)}); kerr != nil {
				return kerr
			}
		}
	}

	sys.VM.PrintMemInfo()
	if opts.memoryMap != "" {
		if err := saveMemoryMap(sys, opts.memoryMap); err != nil {
			return err
		}
	}

	buf := make([]byte, 1)
	for _, child := range children {
		sys.Tasks.SetCurrent(child)
		for page := 0; page < opts.pages; page++ {
			if kerr = sys.VM.ReadUser(heap+uint32(page)*mm.PageSize, buf); kerr != nil {
				return kerr
			}
			if buf[0] != pattern(child.Nr, page) {
				return fmt.Errorf("task %d page %d: %w", child.Nr, page, errCorrupted)
			}
		}
		sys.Exit(child)
	}
	sys.Exit(initTask)

	sys.VM.PrintMemInfo()
	return nil
}

func main() {
	configPath := flag.String("config", "", "a JSON file with the memory configuration (defaults are used if empty)")
	children := flag.Int("children", 4, "the number of tasks to fork from init")
	pages := flag.Int("pages", 64, "the number of pages each task writes")
	exeDev := flag.Uint("exe-dev", 0, "the device holding init's executable (0 runs init without one)")
	exeStart := flag.Uint("exe-start", 0, "the first block of init's executable")
	exeBlocks := flag.Uint("exe-blocks", 0, "the size of init's executable in 1K blocks")
	memoryMap := flag.String("png", "", "a PNG file that receives a map of frame and swap slot usage")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "vmsim: run a fork and paging workload on the simulated memory subsystem\n\n")
		fmt.Fprint(os.Stderr, "Usage: vmsim [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadMemoryConfig(*configPath); err != nil {
			exit(err)
		}
	}

	opts := options{
		children:  *children,
		pages:     *pages,
		exeDev:    uint16(*exeDev),
		exeStart:  uint32(*exeStart),
		exeBlocks: uint32(*exeBlocks),
		memoryMap: *memoryMap,
	}

	w := &kfmt.PrefixWriter{Sink: os.Stdout, Prefix: []byte("[vmsim] ")}
	if err := simulate(cfg, opts, w); err != nil {
		exit(err)
	}
}
