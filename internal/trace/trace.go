// Package trace implements the trace recorder: it accumulates one hot
// loop iteration's worth of executed instructions into a self-contained,
// linear Trace, performing branch flipping on every conditional branch
// it sees and enforcing the conditions under which recording must abort.
package trace

import "tracejit/internal/bytecode"

// RecordedOp is one (pc, instruction) pair recorded on the hot path.
// IsGuard is set for every conditional branch recorded: its taken
// direction continues the trace (or, for the closing op, closes it),
// and ExitPC holds the not-taken direction's PC - the result of branch
// flipping, which turns the loop's rarely-taken exit into the side exit
// a compiled guard bails out to.
type RecordedOp struct {
	PC      int
	Instr   bytecode.Instruction
	IsGuard bool
	ExitPC  int

	// TakenWasJump records, for a guard, whether the recorded iteration
	// continued the trace by taking the branch's literal jump (true) or
	// by falling through without jumping (false). The code generator
	// needs this to know whether the native guard must bail out when the
	// opcode's own condition evaluates false (TakenWasJump == true: the
	// jump direction is the one that keeps the trace going) or true
	// (TakenWasJump == false: not-jumping is what keeps the trace going).
	TakenWasJump bool
}

// Trace is the self-contained record of one hot loop: it begins at
// EntryPC, and its final recorded op either closes the loop (a backward
// branch back to EntryPC) or guards out to ExitPC.
type Trace struct {
	EntryPC int
	Ops     []RecordedOp
	ExitPC  int // -1 if the trace has no side exit at all (closes via a bare goto with no guard ever recorded)
}

// NoExit sentinels a trace whose only exit is the closing backward
// branch (no guard was ever recorded).
const NoExit = -1

// MaxLocal returns the highest local-variable index the trace reads or
// writes (-1 if none), used by the code generator to check that every
// local index the trace touches is bounded by the owning method's
// declared maxLocals.
func (t *Trace) MaxLocal() int {
	max := -1
	for _, op := range t.Ops {
		switch op.Instr.Opcode {
		case bytecode.Iload, bytecode.Lload, bytecode.Fload, bytecode.Dload,
			bytecode.Istore, bytecode.Lstore, bytecode.Fstore, bytecode.Dstore:
			if idx := int(op.Instr.Operands[0]); idx > max {
				max = idx
			}
		case bytecode.Iinc:
			if idx := int(op.Instr.Operands[0]); idx > max {
				max = idx
			}
		case bytecode.Iload_0, bytecode.Istore_0:
			if max < 0 {
				max = 0
			}
		case bytecode.Iload_1, bytecode.Istore_1:
			if max < 1 {
				max = 1
			}
		case bytecode.Iload_2, bytecode.Istore_2:
			if max < 2 {
				max = 2
			}
		case bytecode.Iload_3, bytecode.Istore_3:
			if max < 3 {
				max = 3
			}
		}
	}
	return max
}

// ClosesWith reports whether the trace's final recorded instruction is
// a branch whose target is entryPC.
func (t *Trace) ClosesWith(entryPC int) bool {
	if len(t.Ops) == 0 {
		return false
	}
	last := t.Ops[len(t.Ops)-1]
	if !last.Instr.Opcode.IsBranch() {
		return false
	}
	return last.Instr.BranchTarget(last.PC) == entryPC
}
