// Package bytecode decodes the primitive-numeric subset of JVM SE7
// bytecode this core supports.
//
// The opcode table uses a byte-sized opcode type, a const block of named
// values, a string<->opcode map pair built once at init, and small
// predicate methods instead of a big switch scattered across callers.
package bytecode

// Opcode is a single JVM instruction's operation code. Values match the
// JVMS SE7 encoding so decoded programs can be dumped/compared against a
// reference disassembly.
type Opcode byte

const (
	Nop Opcode = 0x00

	// Constants
	Iconst_m1 Opcode = 0x02
	Iconst_0  Opcode = 0x03
	Iconst_1  Opcode = 0x04
	Iconst_2  Opcode = 0x05
	Iconst_3  Opcode = 0x06
	Iconst_4  Opcode = 0x07
	Iconst_5  Opcode = 0x08
	Lconst_0  Opcode = 0x09
	Lconst_1  Opcode = 0x0A
	Fconst_0  Opcode = 0x0B
	Fconst_1  Opcode = 0x0C
	Fconst_2  Opcode = 0x0D
	Dconst_0  Opcode = 0x0E
	Dconst_1  Opcode = 0x0F
	Bipush    Opcode = 0x10
	Sipush    Opcode = 0x11
	Ldc       Opcode = 0x12

	// Loads
	Iload Opcode = 0x15
	Lload Opcode = 0x16
	Fload Opcode = 0x17
	Dload Opcode = 0x18

	Iload_0 Opcode = 0x1A
	Iload_1 Opcode = 0x1B
	Iload_2 Opcode = 0x1C
	Iload_3 Opcode = 0x1D

	// Stores
	Istore Opcode = 0x36
	Lstore Opcode = 0x37
	Fstore Opcode = 0x38
	Dstore Opcode = 0x39

	Istore_0 Opcode = 0x3B
	Istore_1 Opcode = 0x3C
	Istore_2 Opcode = 0x3D
	Istore_3 Opcode = 0x3E

	// Arithmetic
	Iadd Opcode = 0x60
	Ladd Opcode = 0x61
	Fadd Opcode = 0x62
	Dadd Opcode = 0x63
	Isub Opcode = 0x64
	Lsub Opcode = 0x65
	Fsub Opcode = 0x66
	Dsub Opcode = 0x67
	Imul Opcode = 0x68
	Lmul Opcode = 0x69
	Fmul Opcode = 0x6A
	Dmul Opcode = 0x6B
	Idiv Opcode = 0x6C
	Ldiv Opcode = 0x6D
	Fdiv Opcode = 0x6E
	Ddiv Opcode = 0x6F
	Irem Opcode = 0x70
	Lrem Opcode = 0x71
	Frem Opcode = 0x72
	Drem Opcode = 0x73

	Iinc Opcode = 0x84

	// Comparisons that push a -1/0/1 int
	Lcmp  Opcode = 0x94
	Fcmpl Opcode = 0x95
	Fcmpg Opcode = 0x96
	Dcmpl Opcode = 0x97
	Dcmpg Opcode = 0x98

	// Branches
	Ifeq      Opcode = 0x99
	Ifne      Opcode = 0x9A
	Iflt      Opcode = 0x9B
	Ifge      Opcode = 0x9C
	Ifgt      Opcode = 0x9D
	Ifle      Opcode = 0x9E
	If_icmpeq Opcode = 0x9F
	If_icmpne Opcode = 0xA0
	If_icmplt Opcode = 0xA1
	If_icmpge Opcode = 0xA2
	If_icmpgt Opcode = 0xA3
	If_icmple Opcode = 0xA4
	Goto      Opcode = 0xA7

	// Control
	Ireturn Opcode = 0xAC
	Lreturn Opcode = 0xAD
	Freturn Opcode = 0xAE
	Dreturn Opcode = 0xAF
	Return  Opcode = 0xB1
	Goto_w  Opcode = 0xC8

	// Method call
	Invokestatic   Opcode = 0xB8
	Invokevirtual  Opcode = 0xB6
	Invokespecial  Opcode = 0xB7
	Invokeinterface Opcode = 0xB9

	// Exceptions (decode-recognized so the recorder can abort cleanly;
	// this core has no exception dispatch of its own)
	Athrow Opcode = 0xBF
)

var mnemonics = map[string]Opcode{
	"nop": Nop,

	"iconst_m1": Iconst_m1, "iconst_0": Iconst_0, "iconst_1": Iconst_1,
	"iconst_2": Iconst_2, "iconst_3": Iconst_3, "iconst_4": Iconst_4, "iconst_5": Iconst_5,
	"lconst_0": Lconst_0, "lconst_1": Lconst_1,
	"fconst_0": Fconst_0, "fconst_1": Fconst_1, "fconst_2": Fconst_2,
	"dconst_0": Dconst_0, "dconst_1": Dconst_1,
	"bipush": Bipush, "sipush": Sipush, "ldc": Ldc,

	"iload": Iload, "lload": Lload, "fload": Fload, "dload": Dload,
	"iload_0": Iload_0, "iload_1": Iload_1, "iload_2": Iload_2, "iload_3": Iload_3,

	"istore": Istore, "lstore": Lstore, "fstore": Fstore, "dstore": Dstore,
	"istore_0": Istore_0, "istore_1": Istore_1, "istore_2": Istore_2, "istore_3": Istore_3,

	"iadd": Iadd, "ladd": Ladd, "fadd": Fadd, "dadd": Dadd,
	"isub": Isub, "lsub": Lsub, "fsub": Fsub, "dsub": Dsub,
	"imul": Imul, "lmul": Lmul, "fmul": Fmul, "dmul": Dmul,
	"idiv": Idiv, "ldiv": Ldiv, "fdiv": Fdiv, "ddiv": Ddiv,
	"irem": Irem, "lrem": Lrem, "frem": Frem, "drem": Drem,

	"iinc": Iinc,

	"lcmp": Lcmp, "fcmpl": Fcmpl, "fcmpg": Fcmpg, "dcmpl": Dcmpl, "dcmpg": Dcmpg,

	"ifeq": Ifeq, "ifne": Ifne, "iflt": Iflt, "ifge": Ifge, "ifgt": Ifgt, "ifle": Ifle,
	"if_icmpeq": If_icmpeq, "if_icmpne": If_icmpne, "if_icmplt": If_icmplt,
	"if_icmpge": If_icmpge, "if_icmpgt": If_icmpgt, "if_icmple": If_icmple,
	"goto": Goto, "goto_w": Goto_w,

	"ireturn": Ireturn, "lreturn": Lreturn, "freturn": Freturn, "dreturn": Dreturn, "return": Return,

	"invokestatic": Invokestatic, "invokevirtual": Invokevirtual,
	"invokespecial": Invokespecial, "invokeinterface": Invokeinterface,

	"athrow": Athrow,
}

var mnemonicOf map[Opcode]string

func init() {
	mnemonicOf = make(map[Opcode]string, len(mnemonics))
	for name, op := range mnemonics {
		mnemonicOf[op] = name
	}
}

// Mnemonic looks up an opcode by name, used by the assembler when
// parsing a textual program.
func Mnemonic(name string) (Opcode, bool) {
	op, ok := mnemonics[name]
	return op, ok
}

// String renders an opcode for diagnostics and disassembly.
func (o Opcode) String() string {
	if s, ok := mnemonicOf[o]; ok {
		return s
	}
	return "?unknown?"
}

// IsBranch reports whether this opcode can ever be a backward branch;
// the profiler only watches these.
func (o Opcode) IsBranch() bool {
	switch o {
	case Ifeq, Ifne, Iflt, Ifge, Ifgt, Ifle,
		If_icmpeq, If_icmpne, If_icmplt, If_icmpge, If_icmpgt, If_icmple,
		Goto, Goto_w:
		return true
	default:
		return false
	}
}

// IsConditional reports whether the branch has a not-taken fallthrough
// side, as opposed to goto's unconditional jump. Used by trace
// recording's branch-flipping.
func (o Opcode) IsConditional() bool {
	return o.IsBranch() && o != Goto && o != Goto_w
}

// IsInvoke reports whether the opcode is any invoke-family instruction.
func (o Opcode) IsInvoke() bool {
	switch o {
	case Invokestatic, Invokevirtual, Invokespecial, Invokeinterface:
		return true
	default:
		return false
	}
}

// NumOperandBytes returns the number of operand bytes following the
// opcode byte in the bytecode stream, per JVMS SE7.
func (o Opcode) NumOperandBytes() int {
	switch o {
	case Bipush, Iload, Lload, Fload, Dload, Istore, Lstore, Fstore, Dstore, Ldc:
		return 1
	case Sipush,
		Ifeq, Ifne, Iflt, Ifge, Ifgt, Ifle,
		If_icmpeq, If_icmpne, If_icmplt, If_icmpge, If_icmpgt, If_icmple,
		Goto:
		return 2
	case Iinc:
		return 2
	case Invokestatic, Invokevirtual, Invokespecial:
		return 2
	case Invokeinterface:
		return 4
	case Goto_w:
		return 4
	default:
		return 0
	}
}
