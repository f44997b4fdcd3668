package handoff

import (
	"testing"
	"unsafe"

	"tracejit/internal/classfile"
	"tracejit/internal/frame"
	"tracejit/internal/jitcache"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// TestInvokeRoundTripsLocals stands in for a real compiled trace with a
// plain Go closure that pokes the flat locals buffer directly - exactly
// the ABI internal/codegen's generated native code is built against,
// without needing to run actual machine code.
func TestInvokeRoundTripsLocals(t *testing.T) {
	m := &classfile.Method{Name: "t", MaxLocals: 2, MaxStack: 0}
	f := frame.New(m)
	assert(t, f.SetLocal(0, frame.Int32(1)) == nil, "SetLocal(0)")
	assert(t, f.SetLocal(1, frame.Int32(41)) == nil, "SetLocal(1)")

	ct := &jitcache.CompiledTrace{
		EntryPC: 0,
		Invoke: func(localsPtr, auxPtr uintptr) int32 {
			slots := (*[2]uint64)(unsafe.Pointer(localsPtr))
			slots[0] = uint64(uint32(int32(slots[0]) + int32(slots[1])))
			return 99 // the PC the trace "exited" through
		},
	}

	resumePC := Invoke(ct, f)

	assert(t, resumePC == 99, "expected resume pc 99, got %d", resumePC)
	assert(t, f.PC == 99, "expected frame PC updated to 99, got %d", f.PC)

	v0, err := f.Local(0)
	assert(t, err == nil, "Local(0): %v", err)
	assert(t, v0.Int32() == 42, "expected locals[0] mutated to 42 by the native call, got %d", v0.Int32())
}

// TestInvokeNeverHandsANilBasePointer guards the +1 padding shim.go
// reserves for zero-local methods - native code must never be handed a
// nil locals pointer even when there is nothing to read or write.
func TestInvokeNeverHandsANilBasePointer(t *testing.T) {
	m := &classfile.Method{Name: "t", MaxLocals: 0, MaxStack: 0}
	f := frame.New(m)

	var sawNonNil bool
	ct := &jitcache.CompiledTrace{
		Invoke: func(localsPtr, auxPtr uintptr) int32 {
			sawNonNil = localsPtr != 0
			return 0
		},
	}

	Invoke(ct, f)
	assert(t, sawNonNil, "expected a non-nil locals pointer even for a zero-local method")
}
