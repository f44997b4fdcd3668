package constpool

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestPoolAtReturnsStoredEntry(t *testing.T) {
	p := New([]Entry{
		{Kind: KindInt32, Bits: 42},
		{Kind: KindMethodRef, MethodName: "callee", MethodIndex: 3},
	})
	assert(t, p.Len() == 2, "expected pool length 2, got %d", p.Len())

	e, err := p.At(1)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, e.Kind == KindMethodRef, "expected KindMethodRef")
	assert(t, e.MethodIndex == 3, "expected method index 3, got %d", e.MethodIndex)
}

func TestPoolAtOutOfRange(t *testing.T) {
	p := New([]Entry{{Kind: KindInt32, Bits: 1}})
	_, err := p.At(5)
	assert(t, err != nil, "expected an out-of-range error")

	_, err = p.At(-1)
	assert(t, err != nil, "expected an out-of-range error for a negative index")
}

func TestEmptyPool(t *testing.T) {
	p := New(nil)
	assert(t, p.Len() == 0, "expected an empty pool to have length 0")
	_, err := p.At(0)
	assert(t, err != nil, "expected an error indexing into an empty pool")
}
