package blk

import (
	"i386vm/kernel"
	"os"
)

// RAMDisk is a block device backed by host memory.
type RAMDisk struct {
	data []byte

	reads, writes uint64
}

// NewRAMDisk returns a zero-filled RAM disk with the requested number of
// blocks.
func NewRAMDisk(blocks uint32) *RAMDisk {
	return &RAMDisk{data: make([]byte, uint64(blocks)*BlockSize)}
}

// LoadRAMDisk returns a RAM disk initialized with the contents of an image
// file. The disk is sized to hold the whole image, rounded up to a block
// boundary, but never smaller than minBlocks.
func LoadRAMDisk(path string, minBlocks uint32) (*RAMDisk, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	blocks := uint32((len(image) + BlockSize - 1) / BlockSize)
	if blocks < minBlocks {
		blocks = minBlocks
	}

	rd := NewRAMDisk(blocks)
	copy(rd.data, image)
	return rd, nil
}

// ReadBlock implements Driver.
func (rd *RAMDisk) ReadBlock(nr uint32, buf []byte) *kernel.Error {
	block, err := rd.block(nr, buf)
	if err != nil {
		return err
	}

	rd.reads++
	copy(buf, block)
	return nil
}

// WriteBlock implements Driver.
func (rd *RAMDisk) WriteBlock(nr uint32, buf []byte) *kernel.Error {
	block, err := rd.block(nr, buf)
	if err != nil {
		return err
	}

	rd.writes++
	copy(block, buf)
	return nil
}

// Blocks implements Driver.
func (rd *RAMDisk) Blocks() uint32 {
	return uint32(len(rd.data) / BlockSize)
}

// Bytes exposes the raw disk contents.
func (rd *RAMDisk) Bytes() []byte {
	return rd.data
}

// Reads returns the number of blocks read from the disk.
func (rd *RAMDisk) Reads() uint64 { return rd.reads }

// Writes returns the number of blocks written to the disk.
func (rd *RAMDisk) Writes() uint64 { return rd.writes }

func (rd *RAMDisk) block(nr uint32, buf []byte) ([]byte, *kernel.Error) {
	if nr >= rd.Blocks() {
		return nil, ErrBlockOutOfRange
	}

	if len(buf) < BlockSize {
		return nil, ErrShortBuffer
	}

	offset := uint64(nr) * BlockSize
	return rd.data[offset : offset+BlockSize], nil
}
