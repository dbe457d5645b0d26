// Package config loads the memory layout and device configuration used to
// boot the paging subsystem.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	mb = 1 << 20

	// dirSpan is the span of linear addresses covered by one page
	// directory entry.
	dirSpan = 4 * mb
)

// DeviceConfig describes a RAM disk registered at boot.
type DeviceConfig struct {
	// Dev is the device number (major<<8 | minor).
	Dev uint16 `json:"dev"`

	// Blocks is the device size in 1 KiB blocks.
	Blocks uint32 `json:"blocks"`

	// Image optionally names a file whose contents are copied onto the
	// device.
	Image string `json:"image,omitempty"`
}

// MemoryConfig describes the physical memory and linear layout of the
// system.
type MemoryConfig struct {
	LowMem      uint32 `json:"low_mem"`
	HighMemory  uint32 `json:"high_memory"`
	TaskSize    uint32 `json:"task_size"`
	LibrarySize uint32 `json:"library_size"`
	NrTasks     int    `json:"nr_tasks"`

	// SwapDevice is the device number of the swap device; 0 disables
	// swapping.
	SwapDevice uint16 `json:"swap_device"`

	Devices []DeviceConfig `json:"devices"`
}

// Default returns the standard 16 MiB configuration without a swap device.
func Default() MemoryConfig {
	return MemoryConfig{
		LowMem:      1 * mb,
		HighMemory:  16 * mb,
		TaskSize:    64 * mb,
		LibrarySize: 4 * mb,
		NrTasks:     64,
	}
}

// LibraryOffset returns the offset of the shared library region within a
// task's window.
func (c MemoryConfig) LibraryOffset() uint32 {
	return c.TaskSize - c.LibrarySize
}

// Validate checks the layout constraints the paging code relies on.
func (c MemoryConfig) Validate() error {
	switch {
	case c.TaskSize == 0 || c.TaskSize%dirSpan != 0:
		return fmt.Errorf("task_size must be a non-zero multiple of 4MB")
	case c.LibrarySize%dirSpan != 0:
		return fmt.Errorf("library_size must be a multiple of 4MB")
	case c.LibrarySize >= c.TaskSize/2:
		return fmt.Errorf("library_size must be smaller than task_size/2")
	case c.LowMem%4096 != 0:
		return fmt.Errorf("low_mem must be page aligned")
	case c.HighMemory%4096 != 0:
		return fmt.Errorf("high_memory must be page aligned")
	case c.LowMem < 2*4096 || c.LowMem >= c.HighMemory:
		return fmt.Errorf("low_mem must lie between 8KB and high_memory")
	case c.NrTasks < 2:
		return fmt.Errorf("nr_tasks must be at least 2")
	case uint64(c.TaskSize)*uint64(c.NrTasks) > 1<<32:
		return fmt.Errorf("task_size * nr_tasks exceeds the 4GB linear address space")
	}

	for _, dev := range c.Devices {
		if dev.Dev == 0 {
			return fmt.Errorf("device number 0 is reserved")
		}
	}

	return nil
}

// Load decodes the JSON file at filePath into config.
func Load(filePath string, config interface{}) error {
	configFile, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer configFile.Close()

	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(config); err != nil {
		return err
	}

	return nil
}

// LoadMemoryConfig loads a MemoryConfig from filePath. Fields missing from
// the file keep their default values.
func LoadMemoryConfig(filePath string) (MemoryConfig, error) {
	cfg := Default()
	if err := Load(filePath, &cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
