// Package fs provides the minimal inode abstraction demand paging needs:
// a device, a block map and a reference count.
package fs

import "i386vm/kernel/blk"

// Inode is a file that can back the pages of an address space.
type Inode interface {
	// Dev returns the device that stores the file contents.
	Dev() blk.Dev

	// Bmap maps file block nr to a device block. A return value of 0
	// indicates a hole.
	Bmap(nr uint32) uint32

	// Count returns the number of active references to the inode.
	Count() int

	// Get acquires a reference to the inode.
	Get()

	// Put releases a reference to the inode.
	Put()
}

// FlatInode is an inode whose blocks are stored contiguously on the device,
// starting at block Start.
type FlatInode struct {
	Device blk.Dev
	Start  uint32
	Blocks uint32

	refs int
}

// NewFlatInode returns a FlatInode holding a single reference.
func NewFlatInode(dev blk.Dev, start, blocks uint32) *FlatInode {
	return &FlatInode{Device: dev, Start: start, Blocks: blocks, refs: 1}
}

// Dev implements Inode.
func (ino *FlatInode) Dev() blk.Dev { return ino.Device }

// Bmap implements Inode. Blocks past the end of the file map to 0.
func (ino *FlatInode) Bmap(nr uint32) uint32 {
	if nr >= ino.Blocks {
		return 0
	}
	return ino.Start + nr
}

// Count implements Inode.
func (ino *FlatInode) Count() int { return ino.refs }

// Get implements Inode.
func (ino *FlatInode) Get() { ino.refs++ }

// Put implements Inode.
func (ino *FlatInode) Put() {
	if ino.refs > 0 {
		ino.refs--
	}
}

// SameFile reports whether a and b refer to the same file.
func SameFile(a, b Inode) bool {
	return a != nil && b != nil && a == b
}
