package alloc

// ClassStats describes one size class.
type ClassStats struct {
	Size  int `json:"size"`
	Pages int `json:"pages"`
	Slots int `json:"slots"`
	Free  int `json:"free"`
}

// Stats is a point-in-time snapshot of an Allocator.
type Stats struct {
	Classes     []ClassStats `json:"classes"`
	SmallPages  int          `json:"small_pages"`
	LargeBlocks int          `json:"large_blocks"`
	LargeBytes  int          `json:"large_bytes"`
}

// Stats walks the page chains and the large-block list. LargeBytes counts
// mapped bytes, headers included.
func (a *Allocator) Stats() Stats {
	st := Stats{Classes: make([]ClassStats, numClasses)}
	for ci := range a.classes {
		cs := &st.Classes[ci]
		cs.Size = classSize(ci)
		for base := a.classes[ci]; base != 0; base = hdr(base).next {
			h := hdr(base)
			cs.Pages++
			cs.Slots += int(h.nslots)
			cs.Free += int(h.nfree)
		}
		st.SmallPages += cs.Pages
	}
	for base := a.largeHead; base != 0; base = lhdr(base).next {
		st.LargeBlocks++
		st.LargeBytes += int(lhdr(base).total)
	}
	return st
}
