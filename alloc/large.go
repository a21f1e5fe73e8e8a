package alloc

import "unsafe"

const (
	largeMagic = 0xb16b10c5a11c47ed

	// The user pointer is base+largeHeaderSize, so large payloads are
	// 64-byte aligned.
	largeHeaderSize = 64
)

// largeHeader sits at the base of every dedicated mapping. next and prev
// link headers (by base address) for enumeration only; free relies on the
// base registry plus the magic tag.
type largeHeader struct {
	magic uint64
	total uintptr
	next  uintptr
	prev  uintptr
}

func lhdr(base uintptr) *largeHeader {
	return (*largeHeader)(unsafe.Pointer(base))
}

// allocLarge maps n+largeHeaderSize bytes rounded up to a page multiple
// and returns the address just past the header.
func (a *Allocator) allocLarge(n int) unsafe.Pointer {
	total := (uintptr(n) + largeHeaderSize + pageMask) &^ uintptr(pageMask)
	base, err := a.prov.Map(total)
	if err != nil {
		return nil
	}
	h := lhdr(base)
	h.magic = largeMagic
	h.total = total
	h.next = a.largeHead
	h.prev = 0
	if a.largeHead != 0 {
		lhdr(a.largeHead).prev = base
	}
	a.largeHead = base
	a.larges[base] = struct{}{}
	return unsafe.Pointer(base + largeHeaderSize)
}

// freeLarge releases p's mapping and reports whether p was a recognized
// large block. The magic check stays even with the registry hit: a header
// that lost its tag is corrupt and must not be trusted for the unmap size.
func (a *Allocator) freeLarge(p unsafe.Pointer) bool {
	base := uintptr(p) - largeHeaderSize
	if _, ok := a.larges[base]; !ok {
		return false
	}
	h := lhdr(base)
	if h.magic != largeMagic {
		return false
	}
	if h.prev != 0 {
		lhdr(h.prev).next = h.next
	} else {
		a.largeHead = h.next
	}
	if h.next != 0 {
		lhdr(h.next).prev = h.prev
	}
	delete(a.larges, base)
	total := h.total
	_ = a.prov.Unmap(base, total)
	return true
}

// sizeLarge reports the usable capacity of p's mapping, validated the same
// way as freeLarge.
func (a *Allocator) sizeLarge(p unsafe.Pointer) (int, bool) {
	base := uintptr(p) - largeHeaderSize
	if _, ok := a.larges[base]; !ok {
		return 0, false
	}
	h := lhdr(base)
	if h.magic != largeMagic {
		return 0, false
	}
	return int(h.total - largeHeaderSize), true
}
