// Package nativemem manages the writable-then-executable memory pages
// the code generator's compiled blobs live in. Allocation is grounded
// on the same approach go-interpreter/wagon's native backend uses for
// its own JIT pages: github.com/edsrzf/mmap-go for the mapping itself,
// golang.org/x/sys/unix for the Mprotect call that performs the one-way
// write->execute transition.
package nativemem

import "github.com/pkg/errors"

// ErrUnsupportedPlatform is returned when the host OS has no Allocate
// implementation wired up; this core targets amd64 on unix platforms
// only.
var ErrUnsupportedPlatform = errors.New("nativemem: unsupported platform")

// Region owns one write-then-execute memory mapping holding a single
// compiled trace's native code.
type Region struct {
	addr uintptr
	size int
	rel  func() error
}

// Addr is the address of the region's first byte - the CompiledTrace's
// relocation-resolved entry address once code-gen has placed the entry
// point there.
func (r *Region) Addr() uintptr { return r.addr }

// Release unmaps the region. Called by the JIT cache at teardown, or
// immediately if an install loses the "first install wins" race.
func (r *Region) Release() error {
	if r.rel == nil {
		return nil
	}
	return r.rel()
}
