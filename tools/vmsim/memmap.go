package main

import (
	"image/color"

	"github.com/fogleman/gg"

	"i386vm/kernel/kmain"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/pmm"
	"i386vm/kernel/mm/swap"
)

const (
	cellSize     = 8
	cellsPerRow  = 64
	headerHeight = 20
	sectionGap   = cellSize * 2
)

var (
	colorBackground = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	colorReserved   = color.RGBA{A: 0xff}
	colorFree       = color.RGBA{R: 0x50, G: 0x50, B: 0x50, A: 0xff}
	colorPrivate    = color.RGBA{R: 0x30, G: 0xc0, B: 0x50, A: 0xff}
	colorShared     = color.RGBA{R: 0xf0, G: 0x90, B: 0x20, A: 0xff}
	colorSlotFree   = color.RGBA{R: 0x20, G: 0x30, B: 0x80, A: 0xff}
	colorSlotUsed   = color.RGBA{R: 0xd0, G: 0x30, B: 0xd0, A: 0xff}
)

// memoryMap renders one cell per frame of the managed pool followed by one
// cell per swap slot. Frame cells are colored by reference count and slot
// cells by occupancy.
type memoryMap struct {
	frames    []color.RGBA
	slots     []color.RGBA
	frameRows int
}

func newMemoryMap(sys *kmain.System) *memoryMap {
	mmap := &memoryMap{}

	for frame := sys.Frames.LowFrame(); frame < sys.Frames.HighFrame(); frame++ {
		mmap.frames = append(mmap.frames, frameColor(sys.Frames, frame))
	}

	for slot := uint32(1); slot < sys.Swap.Slots(); slot++ {
		c := colorSlotUsed
		if sys.Swap.State(swap.Slot(slot)) == swap.SlotFree {
			c = colorSlotFree
		}
		mmap.slots = append(mmap.slots, c)
	}

	mmap.frameRows = rows(len(mmap.frames))
	return mmap
}

func frameColor(frames *pmm.Allocator, frame mm.Frame) color.RGBA {
	switch frames.State(frame) {
	case pmm.FrameReserved:
		return colorReserved
	case pmm.FrameFree:
		return colorFree
	}

	if frames.RefCount(frame) > 1 {
		return colorShared
	}
	return colorPrivate
}

func rows(cells int) int {
	return (cells + cellsPerRow - 1) / cellsPerRow
}

// frameCell returns the top-left corner of the cell for frame index i.
func (mmap *memoryMap) frameCell(i int) (float64, float64) {
	return float64(i%cellsPerRow) * cellSize, headerHeight + float64(i/cellsPerRow)*cellSize
}

// slotCell returns the top-left corner of the cell for slot index i.
func (mmap *memoryMap) slotCell(i int) (float64, float64) {
	x, y := mmap.frameCell(i)
	return x, y + float64(mmap.frameRows)*cellSize + sectionGap
}

func (mmap *memoryMap) draw() *gg.Context {
	height := headerHeight + (mmap.frameRows+rows(len(mmap.slots)))*cellSize + sectionGap
	dc := gg.NewContext(cellsPerRow*cellSize, height)

	dc.SetColor(colorBackground)
	dc.Clear()

	dc.SetColor(color.White)
	dc.DrawString("frames / swap slots", 4, headerHeight-6)

	for i, c := range mmap.frames {
		x, y := mmap.frameCell(i)
		dc.SetColor(c)
		dc.DrawRectangle(x, y, cellSize-1, cellSize-1)
		dc.Fill()
	}

	for i, c := range mmap.slots {
		x, y := mmap.slotCell(i)
		dc.SetColor(c)
		dc.DrawRectangle(x, y, cellSize-1, cellSize-1)
		dc.Fill()
	}

	return dc
}

// saveMemoryMap writes the memory map of sys to a PNG file.
func saveMemoryMap(sys *kmain.System, path string) error {
	return newMemoryMap(sys).draw().SavePNG(path)
}
