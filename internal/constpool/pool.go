// Package constpool models the constant-pool slice this core reads from:
// literal int/long/float/double values by index, and method references
// for invokestatic resolution. Real constant-pool parsing (UTF-8
// entries, class refs, etc.) is out of scope; this is the minimal slice
// the core actually needs.
package constpool

import "github.com/pkg/errors"

// Kind tags the literal type stored at a constant-pool index, mirroring
// frame.Kind so a lookup can build a frame.Value directly.
type Kind uint8

const (
	KindInt32 Kind = iota
	KindInt64
	KindFloat32
	KindFloat64
	KindMethodRef
)

// Entry is one constant-pool slot.
type Entry struct {
	Kind Kind
	Bits uint64 // literal payload, or unused for KindMethodRef

	// MethodName/MethodIndex are populated for KindMethodRef entries,
	// resolving an invokestatic's constant-pool index to a callee.
	MethodName  string
	MethodIndex int
}

// ErrPoolIndexRange reports an out-of-range constant-pool index, a fatal
// loader error.
var ErrPoolIndexRange = errors.New("constant pool index out of range")

// Pool is a dense, index-addressed constant pool.
type Pool struct {
	entries []Entry
}

func New(entries []Entry) *Pool {
	return &Pool{entries: entries}
}

func (p *Pool) At(index int) (Entry, error) {
	if index < 0 || index >= len(p.entries) {
		return Entry{}, errors.Wrapf(ErrPoolIndexRange, "index %d (pool size %d)", index, len(p.entries))
	}
	return p.entries[index], nil
}

func (p *Pool) Len() int { return len(p.entries) }
