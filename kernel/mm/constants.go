package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uint32(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uint32(1 << PageShift)

	// EntriesPerTable is the number of 32-bit entries in a page directory
	// or page table.
	EntriesPerTable = uint32(1024)

	// DirShift is equal to log2 of the linear span covered by a single
	// page directory entry.
	DirShift = uint32(22)

	// DirSpan is the linear span covered by a single page directory
	// entry.
	DirSpan = uint32(1 << DirShift)
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
)
