package main

import (
	"flag"
	"fmt"
	"os"

	"i386vm/kernel/blk"
	"i386vm/kernel/mm/swap"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkswap] error: %s\n", err.Error())
	os.Exit(1)
}

// makeImage returns the contents of a freshly formatted swap device with
// the given number of 1K blocks.
func makeImage(blocks uint32) ([]byte, error) {
	const dev = blk.Dev(1)

	disk := blk.NewRAMDisk(blocks)
	reg := blk.NewRegistry()
	reg.Register(dev, disk)

	if err := swap.Format(blk.PageDevice{Registry: reg, Dev: dev}); err != nil {
		return nil, err
	}

	return disk.Bytes(), nil
}

func main() {
	blocks := flag.Uint("blocks", 4096, "the size of the swap device in 1K blocks")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "mkswap: create a swap device image\n\n")
		fmt.Fprint(os.Stderr, "Usage: mkswap [options] image\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	image, err := makeImage(uint32(*blocks))
	if err != nil {
		exit(err)
	}

	if err := os.WriteFile(flag.Arg(0), image, 0644); err != nil {
		exit(err)
	}
}
