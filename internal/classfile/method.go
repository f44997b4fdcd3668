// Package classfile stands in for a class-file loader and constant pool:
// it provides, per method, its bytecode as a dense byte array (decoded
// one instruction at a time on each fetch, not pre-decoded),
// maxLocals/maxStack, and access flags, without parsing real .class
// bytes. internal/classfile/assembler.go supplies a minimal textual
// loader so the core has something concrete to run end-to-end.
package classfile

import (
	"tracejit/internal/bytecode"
	"tracejit/internal/constpool"
)

// AccessFlags mirrors the subset of JVMS access_flags this core cares
// about: whether invoking the method should be treated as a native call,
// which forces any trace attempting to record through it to abort.
type AccessFlags uint16

const (
	AccNative AccessFlags = 0x0100
	AccStatic AccessFlags = 0x0008
)

// Method is an immutable record: a dense, array-indexed instruction
// sequence - never hash-keyed, to keep decoder fetch O(1) without
// hashing - its max locals and max stack, and its index in the owning
// class's method table.
type Method struct {
	Name      string
	Index     int
	NumArgs   int // argument count; this core has no descriptor parser, so invokestatic needs it named directly
	MaxLocals int
	MaxStack  int
	Flags     AccessFlags
	Code      []byte // raw bytecode, decoded lazily at each PC by bytecode.Decode
}

// IsNative reports whether this method has no bytecode body - invoking
// one aborts any trace recording in progress.
func (m *Method) IsNative() bool { return m.Flags&AccNative != 0 }

// DecodeAt decodes the instruction at byte-PC pc, returning it and the
// byte length consumed.
func (m *Method) DecodeAt(pc int) (bytecode.Instruction, int, error) {
	return bytecode.Decode(m.Code, pc)
}

// Len returns the bytecode length in bytes, used by the interpreter to
// detect fallthrough past the end of a method.
func (m *Method) Len() int { return len(m.Code) }

// Class is the minimal loaded-unit this core consumes: a named set of
// methods plus a constant pool.
type Class struct {
	Name    string
	Methods []*Method
	Pool    *constpool.Pool
}

// MethodByName finds a method by name - a stand-in for a real class
// loader's symbol resolution.
func (c *Class) MethodByName(name string) (*Method, bool) {
	for _, m := range c.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}
