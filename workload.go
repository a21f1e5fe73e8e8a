package main

import (
	"math/rand"
	"unsafe"

	"github.com/funny-falcon/segalloc/alloc"
)

// ChurnReport summarizes one churn run. Bad counts spans whose fill byte
// came back changed; it must stay zero.
type ChurnReport struct {
	Ops      int `json:"ops"`
	Allocs   int `json:"allocs"`
	Frees    int `json:"frees"`
	Reallocs int `json:"reallocs"`
	Failed   int `json:"failed"`
	Bad      int `json:"bad"`
}

type span struct {
	p   unsafe.Pointer
	n   int
	tag byte
}

func fill(p unsafe.Pointer, n int, tag byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = tag
	}
}

func intact(sp span) bool {
	b := unsafe.Slice((*byte)(sp.p), sp.n)
	for _, c := range b {
		if c != sp.tag {
			return false
		}
	}
	return true
}

// runChurn drives a seeded mix of Alloc, Calloc, Free and Realloc against
// the allocator, tagging every span and verifying the tag before the span
// is released or moved. Sizes cross the small/large boundary on purpose.
func (s *Server) runChurn(ops int, seed int64) ChurnReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	rnd := rand.New(rand.NewSource(seed))
	rep := ChurnReport{Ops: ops}
	var live []span

	newSize := func() int { return rnd.Intn(3*alloc.PageSize) + 1 }

	for i := 0; i < ops; i++ {
		switch r := rnd.Intn(10); {
		case r < 3 && len(live) > 0:
			k := rnd.Intn(len(live))
			if !intact(live[k]) {
				rep.Bad++
			}
			s.al.Free(live[k].p)
			rep.Frees++
			live[k] = live[len(live)-1]
			live = live[:len(live)-1]
		case r < 5 && len(live) > 0:
			k := rnd.Intn(len(live))
			if !intact(live[k]) {
				rep.Bad++
			}
			n := newSize()
			np := s.al.Realloc(live[k].p, n)
			rep.Reallocs++
			if np == nil {
				// the old span survives a failed move
				rep.Failed++
				s.al.Free(live[k].p)
				rep.Frees++
				live[k] = live[len(live)-1]
				live = live[:len(live)-1]
				break
			}
			keep := live[k].n
			if n < keep {
				keep = n
			}
			sp := span{p: np, n: keep, tag: live[k].tag}
			if !intact(sp) {
				rep.Bad++
			}
			fill(np, n, sp.tag)
			live[k] = span{p: np, n: n, tag: sp.tag}
		default:
			n := newSize()
			tag := byte(rnd.Intn(255) + 1)
			var p unsafe.Pointer
			if r == 9 {
				p = s.al.Calloc(1, n)
			} else {
				p = s.al.Alloc(n)
			}
			rep.Allocs++
			if p == nil {
				rep.Failed++
				break
			}
			fill(p, n, tag)
			live = append(live, span{p: p, n: n, tag: tag})
		}
	}

	for _, sp := range live {
		if !intact(sp) {
			rep.Bad++
		}
		s.al.Free(sp.p)
		rep.Frees++
	}
	return rep
}
