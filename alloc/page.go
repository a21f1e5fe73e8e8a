package alloc

import "unsafe"

const (
	pageMagic = 0x51ab9a6e

	// Slots start at headerSize, so every slot is naturally aligned for
	// its class up to 64 bytes.
	headerSize = 64
)

// pageHeader sits at the start of every small-object page. The rest of the
// page is sliced into nslots equal slots of objSize bytes. Free slots form
// an intrusive list: the first four bytes of a free slot hold the
// page-relative offset of the next free slot. No slot lives at offset 0
// (the header does), so 0 terminates the list.
type pageHeader struct {
	magic   uint32
	class   uint32
	objSize uint32
	nslots  uint32
	nfree   uint32
	freeOff uint32
	next    uintptr
}

func pageBase(p unsafe.Pointer) uintptr {
	return uintptr(p) &^ uintptr(pageMask)
}

func hdr(base uintptr) *pageHeader {
	return (*pageHeader)(unsafe.Pointer(base))
}

// allocSmall pops a free slot of class ci, mapping a fresh page when no
// page in the class chain has one left.
func (a *Allocator) allocSmall(ci int) unsafe.Pointer {
	base := a.classes[ci]
	for base != 0 && hdr(base).nfree == 0 {
		base = hdr(base).next
	}
	if base == 0 {
		var err error
		if base, err = a.newPage(ci); err != nil {
			return nil
		}
	}
	h := hdr(base)
	slot := base + uintptr(h.freeOff)
	h.freeOff = *(*uint32)(unsafe.Pointer(slot))
	h.nfree--
	return unsafe.Pointer(slot)
}

// newPage acquires a page, stamps its header for class ci, chains every
// slot into the free list and prepends the page to the class chain.
func (a *Allocator) newPage(ci int) (uintptr, error) {
	base, err := a.prov.AcquirePage()
	if err != nil {
		return 0, err
	}
	size := classSize(ci)
	h := hdr(base)
	h.magic = pageMagic
	h.class = uint32(ci)
	h.objSize = uint32(size)
	h.nslots = uint32((PageSize - headerSize) / size)
	h.nfree = h.nslots

	var next uint32
	for off := headerSize + (int(h.nslots)-1)*size; off >= headerSize; off -= size {
		*(*uint32)(unsafe.Pointer(base + uintptr(off))) = next
		next = uint32(off)
	}
	h.freeOff = next

	h.next = a.classes[ci]
	a.classes[ci] = base
	a.pages[base] = h
	return base, nil
}

// freeSmall pushes the slot at p back onto its page's free list. The
// caller must have validated p with ownerOf.
func (a *Allocator) freeSmall(h *pageHeader, base uintptr, p unsafe.Pointer) {
	*(*uint32)(unsafe.Pointer(p)) = h.freeOff
	h.freeOff = uint32(uintptr(p) - base)
	h.nfree++
}

// ownerOf reports the live small-object page containing p. The page base
// registry makes the lookup exact; the discriminant and the slot-boundary
// checks reject interior and stale pointers.
func (a *Allocator) ownerOf(p unsafe.Pointer) (*pageHeader, uintptr) {
	base := pageBase(p)
	h, ok := a.pages[base]
	if !ok || h.magic != pageMagic {
		return nil, 0
	}
	off := uintptr(p) - base
	if off < headerSize || off >= headerSize+uintptr(h.nslots)*uintptr(h.objSize) {
		return nil, 0
	}
	if (off-headerSize)%uintptr(h.objSize) != 0 {
		return nil, 0
	}
	return h, base
}
