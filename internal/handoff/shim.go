// Package handoff implements the interpreter/JIT handoff shim: it
// flattens a frame.Frame's locals into the flat 8-byte-per-slot ABI a
// jitcache.CompiledTrace expects, invokes the native code, and folds the
// (possibly mutated) locals back into the frame, leaving it positioned
// at the PC the trace exited through.
package handoff

import (
	"runtime"
	"unsafe"

	"tracejit/internal/frame"
	"tracejit/internal/jitcache"
)

// Invoke runs ct against a flattened copy of f's locals, following a
// Frame -> flat locals -> native call -> flat locals -> Frame pipeline.
// It returns the PC the interpreter should resume at.
//
// The aux pointer, reserved for future trace-stitching, is never
// populated by this core; every generated trace ignores it.
func Invoke(ct *jitcache.CompiledTrace, f *frame.Frame) int {
	buf := make([]uint64, len(f.Locals)+1) // +1: never hand native code a nil base pointer for a 0-local method
	for i, v := range f.Locals {
		buf[i] = v.Bits()
	}

	localsPtr := uintptr(unsafe.Pointer(&buf[0]))
	resumePC := ct.Invoke(localsPtr, 0)
	runtime.KeepAlive(buf)

	for i, v := range f.Locals {
		f.Locals[i] = frame.FromBits(v.Kind(), buf[i])
	}
	f.PC = int(resumePC)
	return f.PC
}
