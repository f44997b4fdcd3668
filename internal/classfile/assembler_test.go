package classfile

import (
	"testing"

	"tracejit/internal/bytecode"
	"tracejit/internal/constpool"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestAssembleSimpleMethod(t *testing.T) {
	src := `
class demo

method add static args=2 locals=2 stack=2
  iload_0
  iload_1
  iadd
  ireturn
end
`
	class, err := Assemble(src)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, class.Name == "demo", "got class name %q", class.Name)

	m, ok := class.MethodByName("add")
	assert(t, ok, "expected method add")
	assert(t, m.NumArgs == 2, "got NumArgs %d", m.NumArgs)
	assert(t, m.MaxLocals == 2, "got MaxLocals %d", m.MaxLocals)
	assert(t, m.Flags&AccStatic != 0, "expected static flag")

	in, n, err := m.DecodeAt(0)
	assert(t, err == nil, "decode: %v", err)
	assert(t, in.Opcode == bytecode.Iload_0, "got %v", in.Opcode)
	assert(t, n == 1, "got len %d", n)
}

func TestAssembleResolvesBackwardBranchLabel(t *testing.T) {
	src := `
method loop static args=1 locals=1 stack=2
loop:
  iload_0
  ifeq done
  goto loop
done:
  return
end
`
	class, err := Assemble(src)
	assert(t, err == nil, "unexpected error: %v", err)
	m, _ := class.MethodByName("loop")

	// goto loop is the third instruction: iload_0 (1) + ifeq (3) = pc 4
	in, _, err := m.DecodeAt(4)
	assert(t, err == nil, "decode: %v", err)
	assert(t, in.Opcode == bytecode.Goto, "got %v", in.Opcode)
	target := in.BranchTarget(4)
	assert(t, target == 0, "goto loop should target pc 0, got %d", target)
}

func TestAssemblePoolEntriesAndMethodRef(t *testing.T) {
	src := `
pool
  int32 42
  float64 2.5
  method callee
end

method callee static args=0 locals=0 stack=1
  iconst_0
  ireturn
end

method caller static args=0 locals=0 stack=1
  ldc 0
  ireturn
end
`
	class, err := Assemble(src)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, class.Pool.Len() == 3, "expected 3 pool entries, got %d", class.Pool.Len())

	e0, err := class.Pool.At(0)
	assert(t, err == nil, "pool[0]: %v", err)
	assert(t, e0.Kind == constpool.KindInt32, "expected int32 entry")

	e2, err := class.Pool.At(2)
	assert(t, err == nil, "pool[2]: %v", err)
	assert(t, e2.Kind == constpool.KindMethodRef, "expected method-ref entry")
	assert(t, e2.MethodIndex == 0, "expected callee at method index 0, got %d", e2.MethodIndex)
}

func TestAssembleUnknownMnemonicErrors(t *testing.T) {
	src := `
method bad static args=0 locals=0 stack=1
  frobnicate
end
`
	_, err := Assemble(src)
	assert(t, err != nil, "expected an error for an unknown mnemonic")
}

func TestAssembleMissingEndErrors(t *testing.T) {
	src := `
method bad static args=0 locals=0 stack=1
  return
`
	_, err := Assemble(src)
	assert(t, err != nil, "expected an error for a method block missing 'end'")
}

func TestAssembleIincOperandPair(t *testing.T) {
	src := `
method bump static args=1 locals=1 stack=0
  iinc 0,1
  return
end
`
	class, err := Assemble(src)
	assert(t, err == nil, "unexpected error: %v", err)
	m, _ := class.MethodByName("bump")
	in, n, err := m.DecodeAt(0)
	assert(t, err == nil, "decode: %v", err)
	assert(t, n == 3, "got len %d", n)
	assert(t, in.Operands[0] == 0, "got index %d", in.Operands[0])
	assert(t, in.Operands[1] == 1, "got delta %d", in.Operands[1])
}
