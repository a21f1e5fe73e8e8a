package alloc

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	PageSize = 4096
	pageMask = PageSize - 1

	slabPages = 64
)

var ErrBadMapSize = errors.New("alloc: map size must be a multiple of the page size")

// Provider obtains and releases whole pages from the OS. Implementations
// must hand out zero-initialized, PageSize-aligned memory.
type Provider interface {
	// AcquirePage returns one zeroed page of PageSize bytes. Pages from
	// AcquirePage are never released.
	AcquirePage() (uintptr, error)
	// Map returns a zeroed mapping of size bytes; size must be a multiple
	// of PageSize.
	Map(size uintptr) (uintptr, error)
	// Unmap releases a mapping previously returned by Map. base and size
	// must match the original call exactly.
	Unmap(base, size uintptr) error
}

// osProvider maps anonymous memory. Single pages are carved PageSize at a
// time out of a slab mapping to cut down on mmap calls; alignment holds
// because the slab base and the carve stride are both page multiples.
type osProvider struct {
	slab []byte
}

// NewOSProvider returns the mmap-backed Provider used by New.
func NewOSProvider() Provider {
	return &osProvider{}
}

func (o *osProvider) AcquirePage() (uintptr, error) {
	if len(o.slab) == 0 {
		mem, err := unix.Mmap(-1, 0, slabPages*PageSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return 0, err
		}
		o.slab = mem
	}
	base := uintptr(unsafe.Pointer(&o.slab[0]))
	o.slab = o.slab[PageSize:]
	return base, nil
}

func (o *osProvider) Map(size uintptr) (uintptr, error) {
	if size == 0 || size&pageMask != 0 {
		return 0, ErrBadMapSize
	}
	mem, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&mem[0])), nil
}

func (o *osProvider) Unmap(base, size uintptr) error {
	return unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(base)), size))
}
