// Package kfmt implements the kernel console output: a printk-style Printf
// whose output goes to a swappable sink, and Panic.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before
	// an output sink is installed.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the active output sink or nil if output is being
// buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats according to a format specifier and writes the result to
// the active output sink. If no sink is installed, the output is kept in a
// ring buffer and will be replayed by the next call to SetOutputSink.
func Printf(format string, args ...interface{}) {
	Fprintf(nil, format, args...)
}

// Fprintf behaves like Printf but writes its output to w. If w is nil, the
// output goes to the active output sink.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = outputSink
	}
	if w == nil {
		w = &earlyPrintBuffer
	}

	_, _ = fmt.Fprintf(w, format, args...)
}
