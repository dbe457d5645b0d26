package vmm

const (
	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. Bits 12-31 contain the
	// physical memory address.
	ptePhysPageMask = uint32(0xfffff000)

	// maxFrame is the first frame number that cannot be encoded in an
	// entry.
	maxFrame = 1 << 20

	// maxSlot is the first swap slot that cannot be encoded in an entry.
	maxSlot = 1 << 31

	// kernelEntries is the number of task 0 page table entries copied
	// when task 1 is forked (640 KiB of low memory).
	kernelEntries = 0xa0

	// KernelDataLimit is the size of task 0's data segment.
	KernelDataLimit = kernelEntries << 12

	// tableFlags are applied to every directory entry that links a page
	// table.
	tableFlags = FlagPresent | FlagRW | FlagUser

	// pageFlags are applied to every page installed on behalf of a task.
	pageFlags = FlagPresent | FlagRW | FlagUser
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUser is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUser

	// FlagWriteThroughCaching enables write-through caching instead of the
	// default write-back.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when the page is read or written.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty
)
