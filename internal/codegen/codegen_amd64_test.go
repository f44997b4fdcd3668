//go:build amd64 && unix

package codegen

import (
	"unsafe"

	"testing"

	"tracejit/internal/bytecode"
	"tracejit/internal/classfile"
	"tracejit/internal/trace"
)

// TestCompileAndInvokeCountingLoop builds, by hand, the trace a loop
// like testdata/loopsum.jvma's counting header would record - increment
// locals[0], compare against a bound, loop back while below it - and
// runs the resulting native blob directly, the way the interpreter's
// internal/handoff package does.
func TestCompileAndInvokeCountingLoop(t *testing.T) {
	tr := &trace.Trace{
		EntryPC: 0,
		ExitPC:  20,
		Ops: []trace.RecordedOp{
			{PC: 0, Instr: bytecode.Instruction{Opcode: bytecode.Iload_0}},
			{PC: 1, Instr: bytecode.Instruction{Opcode: bytecode.Iconst_1}},
			{PC: 2, Instr: bytecode.Instruction{Opcode: bytecode.Iadd}},
			{PC: 3, Instr: bytecode.Instruction{Opcode: bytecode.Istore_0}},
			{PC: 4, Instr: bytecode.Instruction{Opcode: bytecode.Iload_0}},
			{PC: 5, Instr: bytecode.Instruction{Opcode: bytecode.Bipush, Operands: []int32{5}}},
			{
				PC:           7,
				Instr:        bytecode.Instruction{Opcode: bytecode.If_icmplt, Operands: []int32{-7}},
				IsGuard:      true,
				ExitPC:       20,
				TakenWasJump: true,
			},
		},
	}
	method := &classfile.Method{Name: "countup", MaxLocals: 1, MaxStack: 2}

	ct, err := Compile("amd64", tr, method)
	assert(t, err == nil, "unexpected compile error: %v", err)
	defer ct.Release()

	locals := []uint64{0}
	resumePC := ct.Invoke(uintptr(unsafe.Pointer(&locals[0])), 0)

	assert(t, locals[0] == 5, "expected locals[0] == 5 after the loop runs natively to its guard, got %d", locals[0])
	assert(t, resumePC == 20, "expected the native trace to exit at pc 20, got %d", resumePC)
}

func TestCompileRejectsTraceWithNoExit(t *testing.T) {
	tr := &trace.Trace{
		EntryPC: 0,
		ExitPC:  trace.NoExit,
		Ops: []trace.RecordedOp{
			{PC: 0, Instr: bytecode.Instruction{Opcode: bytecode.Goto, Operands: []int32{0}}},
		},
	}
	method := &classfile.Method{Name: "t", MaxLocals: 0, MaxStack: 1}

	_, err := Compile("amd64", tr, method)
	assert(t, err != nil, "expected a compile error for a trace with no guard exit")
}

func TestCompileRejectsUnsupportedOpcode(t *testing.T) {
	tr := &trace.Trace{
		EntryPC: 0,
		ExitPC:  10,
		Ops: []trace.RecordedOp{
			{PC: 0, Instr: bytecode.Instruction{Opcode: bytecode.Irem}},
			{PC: 1, Instr: bytecode.Instruction{Opcode: bytecode.Goto, Operands: []int32{-1}}, IsGuard: false},
		},
	}
	method := &classfile.Method{Name: "t", MaxLocals: 0, MaxStack: 2}

	_, err := Compile("amd64", tr, method)
	assert(t, err != nil, "expected irem to fail code generation - this backend has no integer-division lowering")
}
