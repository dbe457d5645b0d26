// Package gate dispatches processor exceptions to the kernel handlers that
// were registered for them.
package gate

import (
	"i386vm/kernel/kfmt"
	"io"
)

// Registers contains a snapshot of the values the trap entry code hands to
// an exception handler.
type Registers struct {
	// Info contains the error code pushed by the CPU for exceptions.
	Info uint32

	// CR2 holds the faulting linear address for page faults.
	CR2 uint32

	EIP uint32
	CS  uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EIP = %08x CS  = %08x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ERR = %08x CR2 = %08x\n", r.Info, r.CR2)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)
)

// Handler is a function that services an exception.
type Handler func(*Registers)

// Table maps interrupt numbers to their handlers. The zero value is ready to
// use.
type Table struct {
	handlers [256]Handler
}

// HandleInterrupt registers handler as the service routine for intNumber,
// replacing any previously registered handler.
func (t *Table) HandleInterrupt(intNumber InterruptNumber, handler Handler) {
	t.handlers[intNumber] = handler
}

// Dispatch invokes the handler registered for intNumber. It returns false if
// no handler is installed.
func (t *Table) Dispatch(intNumber InterruptNumber, regs *Registers) bool {
	handler := t.handlers[intNumber]
	if handler == nil {
		kfmt.Printf("unhandled exception %d\n", intNumber)
		return false
	}

	handler(regs)
	return true
}
