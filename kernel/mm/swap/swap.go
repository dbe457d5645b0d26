// Package swap manages the slot space of the swap device. Slot 0 of the
// device holds the occupancy bitmap (1 = free) with the "SWAP-SPACE"
// signature in its last 10 bytes; data slots are numbered from 1.
package swap

import (
	"i386vm/kernel"
	"i386vm/kernel/kfmt"
	"math/bits"
)

const (
	// SlotSize is the size of a swap slot in bytes.
	SlotSize = 4096

	// MaxSlots is the number of slots addressable by the bitmap page.
	MaxSlots = SlotSize * 8

	// MinBlocks is the smallest usable swap device, in 1 KiB blocks.
	MinBlocks = 100

	// Signature marks a formatted swap device.
	Signature = "SWAP-SPACE"

	// SignatureOffset is the offset of Signature inside slot 0.
	SignatureOffset = SlotSize - len(Signature)

	blocksPerSlot = 4
)

var (
	// ErrDisabled is returned by slot transfers when swapping is not
	// enabled.
	ErrDisabled = &kernel.Error{Module: "swap", Message: "swapping is disabled"}

	// ErrBadSlot is returned for transfers that target slot 0 or a slot
	// past the end of the swap space.
	ErrBadSlot = &kernel.Error{Module: "swap", Message: "invalid swap slot"}

	// ErrDeviceTooSmall is returned by Format when the device cannot hold
	// a swap space.
	ErrDeviceTooSmall = &kernel.Error{Module: "swap", Message: "device too small for swap space"}
)

// Slot identifies a page-sized unit of the swap device.
type Slot uint32

// SlotState describes the occupancy of a swap slot.
type SlotState uint8

const (
	// SlotOccupied slots hold an evicted page or are unusable.
	SlotOccupied SlotState = iota

	// SlotFree slots can receive an evicted page.
	SlotFree
)

// Device is a page-addressed block device.
type Device interface {
	ReadPage(nr uint32, buf []byte) *kernel.Error
	WritePage(nr uint32, buf []byte) *kernel.Error

	// Blocks returns the device size in 1 KiB blocks and whether the size
	// is known.
	Blocks() (uint32, bool)
}

// Space is the swap slot allocator.
type Space struct {
	dev Device

	// bitmap keeps the on-disk polarity: a set bit marks a free slot.
	bitmap []byte

	// size is the number of slots covered by the device, slot 0
	// included.
	size uint32
}

// Init reads and validates the bitmap stored in slot 0 of dev. Any failure
// leaves swapping disabled; the error is logged and Init returns false.
func (s *Space) Init(dev Device) bool {
	s.dev, s.bitmap, s.size = nil, nil, 0
	if dev == nil {
		return false
	}

	blocks, ok := dev.Blocks()
	if !ok {
		kfmt.Printf("Unable to get size of swap device\n")
		return false
	}
	if blocks == 0 {
		return false
	}
	if blocks < MinBlocks {
		kfmt.Printf("Swap device too small (%d blocks)\n", blocks)
		return false
	}

	size := blocks / blocksPerSlot
	if size > MaxSlots {
		size = MaxSlots
	}

	bitmap := make([]byte, SlotSize)
	if err := dev.ReadPage(0, bitmap); err != nil {
		kfmt.Printf("Unable to read swap-space bit-map\n")
		return false
	}

	if string(bitmap[SignatureOffset:]) != Signature {
		kfmt.Printf("Unable to find swap-space signature\n")
		return false
	}
	kernel.Memset(bitmap[SignatureOffset:], 0)

	for i := uint32(0); i < MaxSlots; i++ {
		if i == 1 {
			i = size
			if i >= MaxSlots {
				break
			}
		}
		if testBit(bitmap, i) {
			kfmt.Printf("Bad swap-space bit-map\n")
			return false
		}
	}

	var free uint32
	for i := uint32(1); i < size; i++ {
		if testBit(bitmap, i) {
			free++
		}
	}
	if free == 0 {
		return false
	}

	s.dev, s.bitmap, s.size = dev, bitmap, size
	kfmt.Printf("Swap device ok: %d pages (%d bytes) swap-space\n", free, free*SlotSize)
	return true
}

// Enabled returns true if a valid swap device is in use.
func (s *Space) Enabled() bool {
	return s.bitmap != nil
}

// Slots returns the number of slots on the swap device, including the
// reserved slot 0. It returns 0 when swapping is disabled.
func (s *Space) Slots() uint32 {
	return s.size
}

// FreeSlots returns the number of free slots.
func (s *Space) FreeSlots() uint32 {
	var free int
	for _, b := range s.bitmap {
		free += bits.OnesCount8(b)
	}
	return uint32(free)
}

// State returns the occupancy of slot.
func (s *Space) State(slot Slot) SlotState {
	if s.bitmap == nil || uint32(slot) >= s.size || !testBit(s.bitmap, uint32(slot)) {
		return SlotOccupied
	}
	return SlotFree
}

// Alloc reserves the lowest free slot above slot 0.
func (s *Space) Alloc() (Slot, bool) {
	if s.bitmap == nil {
		return 0, false
	}

	for i, b := range s.bitmap {
		if b == 0 {
			continue
		}

		nr := uint32(i*8 + bits.TrailingZeros8(b))
		if nr == 0 {
			// Slot 0 is never marked free by Init but guard
			// against a corrupted bitmap.
			if b &^= 1; b == 0 {
				continue
			}
			nr = uint32(i*8 + bits.TrailingZeros8(b))
		}

		clearBit(s.bitmap, nr)
		return Slot(nr), true
	}

	return 0, false
}

// Free returns slot to the free pool. Freeing slot 0 is a no-op; freeing a
// slot that is already free or out of range is logged and otherwise
// ignored.
func (s *Space) Free(slot Slot) {
	if slot == 0 {
		return
	}

	if s.bitmap != nil && uint32(slot) < s.size && !setBit(s.bitmap, uint32(slot)) {
		return
	}

	kfmt.Printf("Swap-space bad (swap_free())\n")
}

// Release returns slot to the free pool after its contents have been paged
// back in. It returns false if the slot was already free.
func (s *Space) Release(slot Slot) bool {
	if s.bitmap == nil || slot == 0 || uint32(slot) >= s.size {
		return false
	}
	return !setBit(s.bitmap, uint32(slot))
}

// Read copies the contents of slot into buf.
func (s *Space) Read(slot Slot, buf []byte) *kernel.Error {
	if err := s.checkSlot(slot); err != nil {
		return err
	}
	return s.dev.ReadPage(uint32(slot), buf)
}

// Write stores buf in slot.
func (s *Space) Write(slot Slot, buf []byte) *kernel.Error {
	if err := s.checkSlot(slot); err != nil {
		return err
	}
	return s.dev.WritePage(uint32(slot), buf)
}

func (s *Space) checkSlot(slot Slot) *kernel.Error {
	if s.bitmap == nil {
		return ErrDisabled
	}
	if slot == 0 || uint32(slot) >= s.size {
		return ErrBadSlot
	}
	return nil
}

// Format writes an empty swap space onto dev: every slot except slot 0 is
// marked free and the signature is stored at the end of slot 0.
func Format(dev Device) *kernel.Error {
	blocks, ok := dev.Blocks()
	if !ok || blocks < MinBlocks {
		return ErrDeviceTooSmall
	}

	size := blocks / blocksPerSlot
	if size > MaxSlots {
		size = MaxSlots
	}

	bitmap := make([]byte, SlotSize)
	for i := uint32(1); i < size; i++ {
		setBit(bitmap, i)
	}
	copy(bitmap[SignatureOffset:], Signature)

	return dev.WritePage(0, bitmap)
}

func testBit(bitmap []byte, nr uint32) bool {
	return bitmap[nr>>3]&(1<<(nr&7)) != 0
}

// setBit sets bit nr and returns its previous value.
func setBit(bitmap []byte, nr uint32) bool {
	old := testBit(bitmap, nr)
	bitmap[nr>>3] |= 1 << (nr & 7)
	return old
}

// clearBit clears bit nr and returns its previous value.
func clearBit(bitmap []byte, nr uint32) bool {
	old := testBit(bitmap, nr)
	bitmap[nr>>3] &^= 1 << (nr & 7)
	return old
}
