package bytecode

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestDecodeSimpleOpcodes(t *testing.T) {
	code := []byte{byte(Iconst_1), byte(Iadd), byte(Return)}

	in, n, err := Decode(code, 0)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, in.Opcode == Iconst_1, "got %v", in.Opcode)
	assert(t, n == 1, "got len %d", n)

	in, n, err = Decode(code, 1)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, in.Opcode == Iadd, "got %v", in.Opcode)
	assert(t, n == 1, "got len %d", n)
}

func TestDecodeBipush(t *testing.T) {
	code := []byte{byte(Bipush), 0xFF} // -1 as signed byte
	in, n, err := Decode(code, 0)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, n == 2, "got len %d", n)
	assert(t, in.Operands[0] == -1, "got %d", in.Operands[0])
}

func TestDecodeIinc(t *testing.T) {
	code := []byte{byte(Iinc), 3, 0xFE} // local 3, delta -2
	in, n, err := Decode(code, 0)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, n == 3, "got len %d", n)
	assert(t, in.Operands[0] == 3, "got local %d", in.Operands[0])
	assert(t, in.Operands[1] == -2, "got delta %d", in.Operands[1])
}

func TestDecodeBackwardBranch(t *testing.T) {
	// if_icmplt at pc=10 jumping back to pc=2: offset = -8
	code := make([]byte, 13)
	code[10] = byte(If_icmplt)
	code[11] = 0xFF
	code[12] = 0xF8 // -8 as big-endian int16

	in, n, err := Decode(code, 10)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, n == 3, "got len %d", n)
	target := in.BranchTarget(10)
	assert(t, target == 2, "got target %d", target)
	assert(t, target < 10, "expected backward branch")
}

func TestDecodeUnknownOpcode(t *testing.T) {
	code := []byte{0xFE}
	_, _, err := Decode(code, 0)
	assert(t, err != nil, "expected error for unknown opcode")
}

func TestDecodeTruncated(t *testing.T) {
	code := []byte{byte(Bipush)} // missing operand byte
	_, _, err := Decode(code, 0)
	assert(t, err != nil, "expected truncation error")
}
