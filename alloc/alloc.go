// Package alloc implements a segregated-fit allocator over anonymous
// memory mappings. Requests up to 1024 bytes are rounded up to a
// power-of-two size class and served from 4KB pages sliced into equal
// slots; anything larger gets a dedicated mapping that is returned to the
// OS on free. No tag is stored next to user data: a small pointer's owning
// page is recovered by masking the pointer down to its page boundary, and
// large blocks are recognized by a tagged header just before the user
// pointer.
//
// Pages backing small objects are never unmapped, free slots are never
// coalesced, and an Allocator is not safe for concurrent use.
package alloc

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

// Allocator owns one page chain and free list per size class plus the set
// of outstanding large mappings. Independent Allocators share nothing.
type Allocator struct {
	prov      Provider
	classes   [numClasses]uintptr
	pages     map[uintptr]*pageHeader
	larges    map[uintptr]struct{}
	largeHead uintptr
}

// New returns an Allocator backed by anonymous OS mappings.
func New() *Allocator {
	return NewWithProvider(NewOSProvider())
}

// NewWithProvider returns an Allocator drawing pages from p.
func NewWithProvider(p Provider) *Allocator {
	return &Allocator{
		prov:   p,
		pages:  make(map[uintptr]*pageHeader),
		larges: make(map[uintptr]struct{}),
	}
}

// Alloc returns at least n usable bytes, or nil when n is not positive or
// the OS refuses memory. Small results are aligned to their slot size,
// large ones to 64 bytes.
func (a *Allocator) Alloc(n int) unsafe.Pointer {
	if n <= 0 {
		return nil
	}
	if ci := classIndex(n); ci >= 0 {
		return a.allocSmall(ci)
	}
	return a.allocLarge(n)
}

// Free returns p's memory to the allocator. nil and unrecognized pointers
// are ignored. Large blocks are checked first (their registry makes a
// second Free of the same block a no-op), then the small-page registry.
// Freeing the same small slot twice is not detected.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if a.freeLarge(p) {
		return
	}
	if h, base := a.ownerOf(p); h != nil {
		a.freeSmall(h, base, p)
	}
}

// Calloc allocates count*size bytes of zeroed memory. It returns nil when
// either argument is not positive or the product overflows.
func (a *Allocator) Calloc(count, size int) unsafe.Pointer {
	if count <= 0 || size <= 0 {
		return nil
	}
	total := count * size
	if total/count != size {
		return nil
	}
	p := a.Alloc(total)
	if p == nil {
		return nil
	}
	// Recycled slots are dirty even though fresh mappings are zeroed.
	b := unsafe.Slice((*byte)(p), total)
	for i := range b {
		b[i] = 0
	}
	return p
}

// Realloc resizes p to n bytes, moving the contents when the backing
// storage cannot hold them. Realloc(nil, n) is Alloc(n); Realloc(p, 0)
// frees p and returns nil. The pointer comes back unchanged exactly when
// the new size lands in the old size class (small) or still fits the
// mapped capacity without dropping below the large threshold (large). A
// pointer the allocator does not recognize is treated as a fresh Alloc(n).
func (a *Allocator) Realloc(p unsafe.Pointer, n int) unsafe.Pointer {
	if p == nil {
		return a.Alloc(n)
	}
	if n <= 0 {
		a.Free(p)
		return nil
	}
	ci := classIndex(n)
	if old, ok := a.sizeLarge(p); ok {
		if ci < 0 && n <= old {
			return p
		}
		return a.move(p, old, n)
	}
	if h, _ := a.ownerOf(p); h != nil {
		if ci >= 0 && classSize(ci) == int(h.objSize) {
			return p
		}
		return a.move(p, int(h.objSize), n)
	}
	return a.Alloc(n)
}

// move allocates n fresh bytes, copies min(old, n) bytes from p and frees p.
func (a *Allocator) move(p unsafe.Pointer, old, n int) unsafe.Pointer {
	np := a.Alloc(n)
	if np == nil {
		return nil
	}
	if old > n {
		old = n
	}
	copy(unsafe.Slice((*byte)(np), n), unsafe.Slice((*byte)(p), old))
	a.Free(p)
	return np
}

// SizeOf reports the usable capacity behind p: the slot size for small
// objects, the mapped size minus the header for large blocks.
func (a *Allocator) SizeOf(p unsafe.Pointer) (int, bool) {
	if p == nil {
		return 0, false
	}
	if n, ok := a.sizeLarge(p); ok {
		return n, true
	}
	if h, _ := a.ownerOf(p); h != nil {
		return int(h.objSize), true
	}
	return 0, false
}

// View points the pointer out wraps at p: given out of type **T, *out is
// set to (*T)(p).
func View(p unsafe.Pointer, out interface{}) {
	*(*unsafe.Pointer)(reflect2.PtrOf(out)) = p
}
