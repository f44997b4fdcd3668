// Package frame implements the runtime activation record: a
// tagged-union Value and a Frame holding locals, an operand stack, the
// active method, and the PC.
package frame

import "math"

// Kind tags which of the four primitive types a Value currently holds.
type Kind uint8

const (
	KindInt32 Kind = iota
	KindInt64
	KindFloat32
	KindFloat64
)

// Value is a tagged union over {int32, int64, float32, float64}. The
// payload is always stored as the raw bits of the widest member
// (uint64) so a Value round-trips through the handoff shim's flat
// 8-byte-per-slot ABI without any further conversion.
type Value struct {
	kind Kind
	bits uint64
}

func Int32(v int32) Value   { return Value{kind: KindInt32, bits: uint64(uint32(v))} }
func Int64(v int64) Value   { return Value{kind: KindInt64, bits: uint64(v)} }
func Float32(v float32) Value {
	return Value{kind: KindFloat32, bits: uint64(math.Float32bits(v))}
}
func Float64(v float64) Value {
	return Value{kind: KindFloat64, bits: math.Float64bits(v)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Int32() int32 { return int32(uint32(v.bits)) }
func (v Value) Int64() int64 { return int64(v.bits) }
func (v Value) Float32() float32 {
	return math.Float32frombits(uint32(v.bits))
}
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }

// Bits returns the raw 64-bit payload, used by the handoff shim to copy a
// Value into and out of the flat locals array verbatim.
func (v Value) Bits() uint64 { return v.bits }

// FromBits reconstructs a Value of the given kind from raw bits - the
// other half of the handoff shim's round trip.
func FromBits(kind Kind, bits uint64) Value {
	return Value{kind: kind, bits: bits}
}

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	default:
		return "unknown"
	}
}
