package trace

import (
	"testing"

	"tracejit/internal/bytecode"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestRecorderClosesOnBackwardBranchToEntry(t *testing.T) {
	r := NewRecorder(0, 64)

	nop := bytecode.Instruction{Opcode: bytecode.Nop}
	assert(t, r.Append(0, nop, 1, 1) == Continue, "expected a plain nop to continue recording")

	// ifgt at pc=5 jumps back to entry pc 0: offset -5, fallthrough at 8.
	closer := bytecode.Instruction{Opcode: bytecode.Ifgt, Operands: []int32{-5}}
	outcome := r.Append(5, closer, 8, 0)
	assert(t, outcome == Closed, "expected the closing backward branch to close the trace")

	tr := r.Finish()
	assert(t, tr.EntryPC == 0, "expected entry pc 0, got %d", tr.EntryPC)
	assert(t, len(tr.Ops) == 2, "expected 2 recorded ops, got %d", len(tr.Ops))
	assert(t, tr.ExitPC == 8, "expected the closing guard's not-taken side (8) as ExitPC, got %d", tr.ExitPC)
	assert(t, tr.ClosesWith(0), "expected the trace to close at entry pc 0")
}

func TestRecorderGuardRecordsNotTakenExit(t *testing.T) {
	r := NewRecorder(0, 64)

	// ifgt at pc=2 targets pc=50 (a loop exit); at runtime it was NOT
	// taken, so the trace continues at the fallthrough pc=5.
	guard := bytecode.Instruction{Opcode: bytecode.Ifgt, Operands: []int32{48}}
	outcome := r.Append(2, guard, 5, 5)
	assert(t, outcome == Continue, "expected the guard to continue recording")
	assert(t, r.Len() == 1, "expected 1 recorded op, got %d", r.Len())
	assert(t, r.ops[0].IsGuard && r.ops[0].ExitPC == 50, "expected a guard exiting to the branch target 50, got %+v", r.ops[0])
}

func TestRecorderAbortsOnNestedBackwardBranch(t *testing.T) {
	r := NewRecorder(0, 64)

	// a backward branch to pc=3, which is not the recording's entry (0).
	inner := bytecode.Instruction{Opcode: bytecode.Goto, Operands: []int32{-7}}
	outcome := r.Append(10, inner, 13, 3)
	assert(t, outcome == Aborted, "expected a nested backward branch to abort recording")
	assert(t, r.AbortReason() == AbortNestedLoop, "expected AbortNestedLoop, got %v", r.AbortReason())
}

func TestRecorderAbortsOnInvoke(t *testing.T) {
	r := NewRecorder(0, 64)
	call := bytecode.Instruction{Opcode: bytecode.Invokestatic, Operands: []int32{0}}
	outcome := r.Append(4, call, 7, 7)
	assert(t, outcome == Aborted, "expected any invoke to abort recording")
	assert(t, r.AbortReason() == AbortUnsupportedCall, "expected AbortUnsupportedCall, got %v", r.AbortReason())
}

func TestRecorderAbortsOnAthrow(t *testing.T) {
	r := NewRecorder(0, 64)
	throw := bytecode.Instruction{Opcode: bytecode.Athrow}
	outcome := r.Append(4, throw, 5, 5)
	assert(t, outcome == Aborted, "expected athrow to abort recording")
	assert(t, r.AbortReason() == AbortThrow, "expected AbortThrow, got %v", r.AbortReason())
}

func TestRecorderAbortsWhenTraceTooLong(t *testing.T) {
	r := NewRecorder(0, 2)
	nop := bytecode.Instruction{Opcode: bytecode.Nop}

	assert(t, r.Append(0, nop, 1, 1) == Continue, "op 1 should continue")
	assert(t, r.Append(1, nop, 2, 2) == Continue, "op 2 should continue")
	outcome := r.Append(2, nop, 3, 3)
	assert(t, outcome == Aborted, "expected the third op to exceed max-trace-length 2")
	assert(t, r.AbortReason() == AbortTraceTooLong, "expected AbortTraceTooLong, got %v", r.AbortReason())
}

func TestTraceMaxLocal(t *testing.T) {
	tr := &Trace{
		EntryPC: 0,
		Ops: []RecordedOp{
			{PC: 0, Instr: bytecode.Instruction{Opcode: bytecode.Iload, Operands: []int32{3}}},
			{PC: 2, Instr: bytecode.Instruction{Opcode: bytecode.Istore_1}},
		},
	}
	assert(t, tr.MaxLocal() == 3, "expected max local 3, got %d", tr.MaxLocal())
}

func TestTraceClosesWithFalseWhenLastOpIsNotABranch(t *testing.T) {
	tr := &Trace{
		EntryPC: 0,
		Ops: []RecordedOp{
			{PC: 0, Instr: bytecode.Instruction{Opcode: bytecode.Nop}},
		},
	}
	assert(t, !tr.ClosesWith(0), "a trace ending in a non-branch should not report ClosesWith")
}
