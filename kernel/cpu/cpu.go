// Package cpu models the processor state that the paging code depends on:
// the interrupt flag, the TLB, the CR2 fault-address register and the CR3
// page-directory base register.
//
// The kernel runs on a single CPU so this package keeps its state in
// package-level variables, the same way the hardware registers are global.
package cpu

import "i386vm/kernel"

var (
	interruptsEnabled = true
	tlbFlushCount     uint64
	cr2, cr3          uint32

	// ErrHalted is the value carried by the Go panic that Halt raises.
	ErrHalted = &kernel.Error{Module: "cpu", Message: "system halted"}
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {
	interruptsEnabled = true
}

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() {
	interruptsEnabled = false
}

// InterruptsEnabled returns true if the interrupt flag is set.
func InterruptsEnabled() bool {
	return interruptsEnabled
}

// Halt stops instruction execution. Calls to Halt never return; the
// simulated processor unwinds the calling goroutine with a panic carrying
// ErrHalted.
func Halt() {
	interruptsEnabled = false
	panic(ErrHalted)
}

// FlushTLB invalidates all cached page translations by reloading CR3.
func FlushTLB() {
	tlbFlushCount++
}

// TLBFlushCount returns the number of TLB flushes since the last call to
// Reset.
func TLBFlushCount() uint64 {
	return tlbFlushCount
}

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uint32) {
	cr3 = pdtPhysAddr
	FlushTLB()
}

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uint32 {
	return cr3
}

// ReadCR2 returns the linear address of the last page fault.
func ReadCR2() uint32 {
	return cr2
}

// WriteCR2 latches the linear address that caused a page fault. The MMU
// calls it before raising the fault.
func WriteCR2(addr uint32) {
	cr2 = addr
}

// Reset restores the power-on processor state.
func Reset() {
	interruptsEnabled = true
	tlbFlushCount = 0
	cr2, cr3 = 0, 0
}
