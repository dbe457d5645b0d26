package mm

import (
	"encoding/binary"
	"i386vm/kernel"
)

var (
	// ErrAddressOutOfRange is returned when accessing a physical address
	// past the end of memory.
	ErrAddressOutOfRange = &kernel.Error{Module: "mm", Message: "physical address out of range"}
)

// PhysicalMemory is the simulated RAM of the machine. Page directories and
// page tables live inside it as little-endian 32-bit words.
type PhysicalMemory struct {
	ram []byte
}

// NewPhysicalMemory allocates size bytes of zeroed RAM. The size is rounded
// down to a page boundary.
func NewPhysicalMemory(size uint32) *PhysicalMemory {
	return &PhysicalMemory{ram: make([]byte, size&^(PageSize-1))}
}

// Size returns the amount of RAM in bytes.
func (m *PhysicalMemory) Size() uint32 {
	return uint32(len(m.ram))
}

// Frames returns the number of frames backed by RAM.
func (m *PhysicalMemory) Frames() uint32 {
	return m.Size() >> PageShift
}

// FrameBytes returns the contents of frame f. The returned slice aliases
// RAM.
func (m *PhysicalMemory) FrameBytes(f Frame) []byte {
	addr := f.Address()
	return m.ram[addr : addr+PageSize]
}

// Bytes returns size bytes of RAM starting at addr.
func (m *PhysicalMemory) Bytes(addr, size uint32) ([]byte, *kernel.Error) {
	if uint64(addr)+uint64(size) > uint64(len(m.ram)) {
		return nil, ErrAddressOutOfRange
	}
	return m.ram[addr : addr+size], nil
}

// ReadWord returns the 32-bit word stored at the 4-byte aligned address
// addr.
func (m *PhysicalMemory) ReadWord(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(m.ram[addr&^3:])
}

// WriteWord stores a 32-bit word at the 4-byte aligned address addr.
func (m *PhysicalMemory) WriteWord(addr, value uint32) {
	binary.LittleEndian.PutUint32(m.ram[addr&^3:], value)
}
