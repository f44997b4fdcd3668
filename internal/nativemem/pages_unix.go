//go:build unix

package nativemem

import (
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Allocate writes code into a fresh anonymous page mapped RDWR, then
// mprotects it to READ|EXEC. The page is never simultaneously writable
// and executable: the mapping exists as RDWR-only up until the single
// Mprotect call below, which is also the only place PROT_EXEC is ever
// granted.
func Allocate(code []byte) (*Region, error) {
	if len(code) == 0 {
		return nil, errors.New("nativemem: empty code buffer")
	}

	m, err := mmap.MapRegion(nil, len(code), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrap(err, "nativemem: mmap RDWR region")
	}

	copy(m, code)

	if err := unix.Mprotect(m, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		m.Unmap()
		return nil, errors.Wrap(err, "nativemem: mprotect to R-X")
	}

	return &Region{
		addr: uintptr(unsafe.Pointer(&m[0])),
		size: len(m),
		rel:  m.Unmap,
	}, nil
}
