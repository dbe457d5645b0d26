// Package blk provides the block-device layer used by paging: a registry of
// drivers keyed by device number and the page-sized transfer helpers that
// move 4 consecutive 1 KiB blocks in and out of a frame.
package blk

import (
	"i386vm/kernel"
	"i386vm/kernel/kfmt"
)

const (
	// BlockSize is the size of a device block in bytes.
	BlockSize = 1024

	// BlocksPerPage is the number of device blocks that back one page.
	BlocksPerPage = 4

	// PageSize is the number of bytes moved by a page transfer.
	PageSize = BlockSize * BlocksPerPage
)

var (
	// ErrNoSuchDevice is returned when no driver is registered for a
	// device number.
	ErrNoSuchDevice = &kernel.Error{Module: "blk", Message: "Trying to read nonexistent block-device"}

	// ErrBlockOutOfRange is returned when a block number lies beyond the
	// end of the device.
	ErrBlockOutOfRange = &kernel.Error{Module: "blk", Message: "block number beyond end of device"}

	// ErrShortBuffer is returned when the transfer buffer is smaller than
	// the requested transfer.
	ErrShortBuffer = &kernel.Error{Module: "blk", Message: "transfer buffer too small"}
)

// Dev is a device number; the high byte holds the major number and the low
// byte the minor number.
type Dev uint16

// MkDev builds a device number from its major and minor parts.
func MkDev(major, minor uint8) Dev {
	return Dev(uint16(major)<<8 | uint16(minor))
}

// Major returns the major part of the device number.
func (d Dev) Major() uint8 { return uint8(d >> 8) }

// Minor returns the minor part of the device number.
func (d Dev) Minor() uint8 { return uint8(d) }

// Driver is implemented by block device drivers. Transfers are synchronous:
// the call returns once the data has been moved.
type Driver interface {
	// ReadBlock copies block nr into buf[:BlockSize].
	ReadBlock(nr uint32, buf []byte) *kernel.Error

	// WriteBlock copies buf[:BlockSize] into block nr.
	WriteBlock(nr uint32, buf []byte) *kernel.Error

	// Blocks returns the device size in blocks.
	Blocks() uint32
}

// Registry maps device numbers to drivers.
type Registry struct {
	drivers map[Dev]Driver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[Dev]Driver)}
}

// Register installs drv as the driver for dev.
func (r *Registry) Register(dev Dev, drv Driver) {
	r.drivers[dev] = drv
}

// Driver returns the driver registered for dev.
func (r *Registry) Driver(dev Dev) (Driver, bool) {
	drv, ok := r.drivers[dev]
	return drv, ok
}

// Size returns the size of dev in blocks. The second return value is false
// if the device is unknown.
func (r *Registry) Size(dev Dev) (uint32, bool) {
	drv, ok := r.drivers[dev]
	if !ok {
		return 0, false
	}
	return drv.Blocks(), true
}

// ReadBlock reads block nr of dev into buf.
func (r *Registry) ReadBlock(dev Dev, nr uint32, buf []byte) *kernel.Error {
	drv, ok := r.drivers[dev]
	if !ok {
		kfmt.Printf("%s\n", ErrNoSuchDevice.Message)
		return ErrNoSuchDevice
	}
	return drv.ReadBlock(nr, buf)
}

// WriteBlock writes buf to block nr of dev.
func (r *Registry) WriteBlock(dev Dev, nr uint32, buf []byte) *kernel.Error {
	drv, ok := r.drivers[dev]
	if !ok {
		kfmt.Printf("%s\n", ErrNoSuchDevice.Message)
		return ErrNoSuchDevice
	}
	return drv.WriteBlock(nr, buf)
}

// ReadPage reads the page-sized unit page of dev (blocks page*4 to
// page*4+3) into buf.
func (r *Registry) ReadPage(dev Dev, page uint32, buf []byte) *kernel.Error {
	if len(buf) < PageSize {
		return ErrShortBuffer
	}

	for i := uint32(0); i < BlocksPerPage; i++ {
		if err := r.ReadBlock(dev, page*BlocksPerPage+i, buf[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

// WritePage writes buf to the page-sized unit page of dev.
func (r *Registry) WritePage(dev Dev, page uint32, buf []byte) *kernel.Error {
	if len(buf) < PageSize {
		return ErrShortBuffer
	}

	for i := uint32(0); i < BlocksPerPage; i++ {
		if err := r.WriteBlock(dev, page*BlocksPerPage+i, buf[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

// BreadPage reads the 4 (not necessarily consecutive) device blocks listed
// in nrs into the consecutive quarters of buf. A block number of 0 marks a
// hole; the corresponding quarter of buf is left untouched.
func (r *Registry) BreadPage(dev Dev, nrs [BlocksPerPage]uint32, buf []byte) *kernel.Error {
	if len(buf) < PageSize {
		return ErrShortBuffer
	}

	for i, nr := range nrs {
		if nr == 0 {
			continue
		}

		if err := r.ReadBlock(dev, nr, buf[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

// PageDevice binds a registry to a single device so page transfers can be
// issued without repeating the device number.
type PageDevice struct {
	Registry *Registry
	Dev      Dev
}

// ReadPage reads page-sized unit nr from the bound device.
func (d PageDevice) ReadPage(nr uint32, buf []byte) *kernel.Error {
	return d.Registry.ReadPage(d.Dev, nr, buf)
}

// WritePage writes page-sized unit nr of the bound device.
func (d PageDevice) WritePage(nr uint32, buf []byte) *kernel.Error {
	return d.Registry.WritePage(d.Dev, nr, buf)
}

// Blocks returns the size of the bound device in blocks. It returns 0 if the
// device is not registered.
func (d PageDevice) Blocks() (uint32, bool) {
	return d.Registry.Size(d.Dev)
}
