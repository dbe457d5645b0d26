// Package pmm implements the physical frame allocator. Every frame in the
// managed pool [lowMem, highMemory) carries a reference count equal to the
// number of live mappings that point to it.
package pmm

import (
	"i386vm/kernel"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
	"math"
)

var (
	// ErrOutOfMemory is returned when no free frame is available and no
	// frame could be reclaimed.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errFreeNonexistent = &kernel.Error{Module: "pmm", Message: "trying to free nonexistent page"}
	errDoubleFree      = &kernel.Error{Module: "pmm", Message: "trying to free free page"}
	errRefOverflow     = &kernel.Error{Module: "pmm", Message: "page reference count overflow"}
	errBadPool         = &kernel.Error{Module: "pmm", Message: "invalid frame pool bounds"}

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// FrameState describes the allocation state of a physical frame.
type FrameState uint8

const (
	// FrameFree frames have a reference count of zero.
	FrameFree FrameState = iota

	// FrameOccupied frames are referenced by at least one mapping.
	FrameOccupied

	// FrameReserved frames are permanently unavailable. Frames outside
	// the managed pool are always reported as reserved.
	FrameReserved
)

// Reclaimer is implemented by subsystems that can release a frame when the
// allocator runs dry.
type Reclaimer interface {
	// EvictOne tries to release a single frame and reports whether it
	// succeeded.
	EvictOne() bool
}

// Allocator tracks the frames of the managed physical pool.
type Allocator struct {
	mem *mm.PhysicalMemory

	// lowFrame is the first frame of the pool; refs[i] tracks frame
	// lowFrame+i.
	lowFrame  mm.Frame
	highFrame mm.Frame

	refs     []uint16
	reserved []bool

	freeCount  uint32
	totalCount uint32

	reclaimer Reclaimer
}

// Init sets up the allocator for the pool [lowMem, highMemory). All frames
// start out reserved; frames in [startMem, highMemory) are then released
// for allocation.
func (alloc *Allocator) Init(mem *mm.PhysicalMemory, lowMem, highMemory, startMem uint32) *kernel.Error {
	highMemory &^= mm.PageSize - 1
	startMem = (startMem + mm.PageSize - 1) &^ (mm.PageSize - 1)
	if lowMem >= highMemory || highMemory > mem.Size() || startMem < lowMem || startMem > highMemory {
		return errBadPool
	}

	alloc.mem = mem
	alloc.lowFrame = mm.FrameFromAddress(lowMem)
	alloc.highFrame = mm.FrameFromAddress(highMemory)

	count := uint32(alloc.highFrame - alloc.lowFrame)
	alloc.refs = make([]uint16, count)
	alloc.reserved = make([]bool, count)
	alloc.freeCount, alloc.totalCount = 0, 0

	startFrame := mm.FrameFromAddress(startMem)
	for i := uint32(0); i < count; i++ {
		if alloc.lowFrame+mm.Frame(i) < startFrame {
			alloc.reserved[i] = true
			continue
		}
		alloc.freeCount++
		alloc.totalCount++
	}

	return nil
}

// SetReclaimer registers the subsystem consulted when the pool is
// exhausted.
func (alloc *Allocator) SetReclaimer(r Reclaimer) {
	alloc.reclaimer = r
}

// Alloc reserves the highest free frame, sets its reference count to 1 and
// zero-fills it. When the pool is exhausted the registered Reclaimer is
// asked to evict a page and the scan is retried for as long as eviction
// succeeds.
func (alloc *Allocator) Alloc() (mm.Frame, *kernel.Error) {
	for {
		if frame, ok := alloc.take(); ok {
			kernel.Memset(alloc.mem.FrameBytes(frame), 0)
			return frame, nil
		}

		if alloc.reclaimer == nil || !alloc.reclaimer.EvictOne() {
			return mm.InvalidFrame, ErrOutOfMemory
		}
	}
}

func (alloc *Allocator) take() (mm.Frame, bool) {
	if alloc.freeCount == 0 {
		return mm.InvalidFrame, false
	}

	for i := len(alloc.refs) - 1; i >= 0; i-- {
		if alloc.refs[i] == 0 && !alloc.reserved[i] {
			alloc.refs[i] = 1
			alloc.freeCount--
			return alloc.lowFrame + mm.Frame(i), true
		}
	}

	return mm.InvalidFrame, false
}

// Free drops a reference to frame, returning it to the pool once its
// reference count reaches zero. Frames below the pool are silently
// ignored. Freeing a frame past the end of the pool or a frame that is
// already free is a fatal error.
func (alloc *Allocator) Free(frame mm.Frame) {
	if frame < alloc.lowFrame {
		return
	}

	if frame >= alloc.highFrame {
		panicFn(errFreeNonexistent)
		return
	}

	index := frame - alloc.lowFrame
	if alloc.reserved[index] {
		return
	}

	if alloc.refs[index] == 0 {
		panicFn(errDoubleFree)
		return
	}

	alloc.refs[index]--
	if alloc.refs[index] == 0 {
		alloc.freeCount++
	}
}

// Share adds a reference to an occupied frame. Frames outside the pool are
// ignored. Exceeding the maximum reference count is a fatal error.
func (alloc *Allocator) Share(frame mm.Frame) {
	if !alloc.Managed(frame) {
		return
	}

	index := frame - alloc.lowFrame
	if alloc.refs[index] == math.MaxUint16 {
		panicFn(errRefOverflow)
		return
	}
	alloc.refs[index]++
}

// Managed returns true if frame belongs to the allocatable pool.
func (alloc *Allocator) Managed(frame mm.Frame) bool {
	return frame >= alloc.lowFrame && frame < alloc.highFrame && !alloc.reserved[frame-alloc.lowFrame]
}

// RefCount returns the reference count of frame or 0 for frames outside
// the pool.
func (alloc *Allocator) RefCount(frame mm.Frame) uint16 {
	if !alloc.Managed(frame) {
		return 0
	}
	return alloc.refs[frame-alloc.lowFrame]
}

// State returns the allocation state of frame.
func (alloc *Allocator) State(frame mm.Frame) FrameState {
	switch {
	case !alloc.Managed(frame):
		return FrameReserved
	case alloc.refs[frame-alloc.lowFrame] == 0:
		return FrameFree
	default:
		return FrameOccupied
	}
}

// FreeCount returns the number of free frames.
func (alloc *Allocator) FreeCount() uint32 { return alloc.freeCount }

// TotalCount returns the number of frames that can be allocated.
func (alloc *Allocator) TotalCount() uint32 { return alloc.totalCount }

// SharedCount returns the number of references held on top of the first
// one, summed over all occupied frames.
func (alloc *Allocator) SharedCount() uint32 {
	var shared uint32
	for i, refs := range alloc.refs {
		if refs > 1 && !alloc.reserved[i] {
			shared += uint32(refs) - 1
		}
	}
	return shared
}

// LowFrame returns the first frame of the pool.
func (alloc *Allocator) LowFrame() mm.Frame { return alloc.lowFrame }

// HighFrame returns the first frame past the end of the pool.
func (alloc *Allocator) HighFrame() mm.Frame { return alloc.highFrame }
