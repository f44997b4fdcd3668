package bytecode

import "github.com/pkg/errors"

// Instruction is a decoded (opcode, operand list) tuple. Operand values
// are integer literals or indices (branch offsets,
// constant-pool indices, local indices); all fit in int32 for this core's
// opcode subset.
type Instruction struct {
	Opcode   Opcode
	Operands []int32
}

// ErrTruncated signals a truncated instruction stream - a fatal error.
var ErrTruncated = errors.New("truncated instruction stream")

// ErrUnknownOpcode signals a byte that does not decode to any opcode this
// core recognizes - a fatal error.
var ErrUnknownOpcode = errors.New("unknown opcode")

// Decode reads one instruction from code at byte offset pc and returns it
// along with the byte length consumed. Branch/iinc/ldc
// operands are decoded per JVMS SE7 bit layout: iinc holds
// (localIndex, constDelta); branches hold the signed 16-bit (32-bit for
// goto_w) offset relative to the branch instruction's own pc; bipush/sipush hold a
// sign-extended immediate; ldc holds a constant-pool index.
func Decode(code []byte, pc int) (Instruction, int, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, 0, errors.Wrapf(ErrTruncated, "pc %d out of range (len %d)", pc, len(code))
	}

	op := Opcode(code[pc])
	if _, known := mnemonicOf[op]; !known {
		return Instruction{}, 0, errors.Wrapf(ErrUnknownOpcode, "opcode 0x%02x at pc %d", byte(op), pc)
	}

	n := op.NumOperandBytes()
	if pc+1+n > len(code) {
		return Instruction{}, 0, errors.Wrapf(ErrTruncated, "opcode %s at pc %d needs %d operand bytes", op, pc, n)
	}
	body := code[pc+1 : pc+1+n]

	var operands []int32
	switch op {
	case Bipush:
		operands = []int32{int32(int8(body[0]))}
	case Ldc:
		operands = []int32{int32(body[0])}
	case Iload, Lload, Fload, Dload, Istore, Lstore, Fstore, Dstore:
		operands = []int32{int32(body[0])}
	case Iinc:
		operands = []int32{int32(body[0]), int32(int8(body[1]))}
	case Invokestatic, Invokevirtual, Invokespecial:
		operands = []int32{int32(be16(body))}
	case Invokeinterface:
		operands = []int32{int32(be16(body))}
	case Sipush:
		operands = []int32{int32(int16(be16(body)))}
	case Goto_w:
		operands = []int32{int32(be32(body))}
	default:
		if op.IsBranch() {
			operands = []int32{int32(int16(be16(body)))}
		}
	}

	return Instruction{Opcode: op, Operands: operands}, 1 + n, nil
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// BranchTarget returns the absolute target PC of a branch instruction
// recorded at sourcePC, resolving its relative operand. The interpreter
// calls the profiler with the resulting (source_pc, target_pc) pair on
// every backward branch.
func (in Instruction) BranchTarget(sourcePC int) int {
	return sourcePC + int(in.Operands[0])
}
