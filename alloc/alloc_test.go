package alloc_test

import (
	"errors"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/funny-falcon/segalloc/alloc"
)

func fill(p unsafe.Pointer, n int, c byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = c
	}
}

func check(t *testing.T, p unsafe.Pointer, n int, c byte) {
	t.Helper()
	b := unsafe.Slice((*byte)(p), n)
	for i, got := range b {
		require.Equal(t, c, got, "byte %d", i)
	}
}

func TestAllocZero(t *testing.T) {
	a := alloc.New()
	require.Nil(t, a.Alloc(0))
	require.Nil(t, a.Alloc(-1))
}

func TestSmallCapacity(t *testing.T) {
	a := alloc.New()
	for s := 1; s <= 1024; s++ {
		p := a.Alloc(s)
		require.NotNil(t, p)
		capa, ok := a.SizeOf(p)
		require.True(t, ok)
		require.GreaterOrEqual(t, capa, s)
		// the slot lies entirely within one page
		off := int(uintptr(p) & (alloc.PageSize - 1))
		require.LessOrEqual(t, off+capa, alloc.PageSize)
		fill(p, capa, 0xa5)
		check(t, p, capa, 0xa5)
		a.Free(p)
	}
}

func TestLargeCapacity(t *testing.T) {
	a := alloc.New()
	for _, s := range []int{1025, 2000, 4096, 5000, 100000} {
		p := a.Alloc(s)
		require.NotNil(t, p)
		capa, ok := a.SizeOf(p)
		require.True(t, ok)
		require.GreaterOrEqual(t, capa, s)
		fill(p, capa, 0x5a)
		check(t, p, capa, 0x5a)

		st := a.Stats()
		require.Equal(t, 1, st.LargeBlocks)
		require.Zero(t, st.LargeBytes%alloc.PageSize)
		a.Free(p)
		require.Zero(t, a.Stats().LargeBlocks)
	}
}

func TestDistinctNeighbors(t *testing.T) {
	a := alloc.New()
	p := a.Alloc(10)
	q := a.Alloc(10)
	require.NotNil(t, p)
	require.NotNil(t, q)
	require.NotEqual(t, p, q)

	fill(p, 10, 1)
	fill(q, 10, 2)
	check(t, p, 10, 1)
	check(t, q, 10, 2)
}

func TestNoAliasing(t *testing.T) {
	a := alloc.New()
	rnd := rand.New(rand.NewSource(1))

	live := map[unsafe.Pointer]bool{}
	var ptrs []unsafe.Pointer
	for i := 0; i < 2000; i++ {
		if len(ptrs) > 0 && rnd.Intn(3) == 0 {
			k := rnd.Intn(len(ptrs))
			a.Free(ptrs[k])
			delete(live, ptrs[k])
			ptrs[k] = ptrs[len(ptrs)-1]
			ptrs = ptrs[:len(ptrs)-1]
			continue
		}
		p := a.Alloc(rnd.Intn(1024) + 1)
		require.NotNil(t, p)
		require.False(t, live[p], "live pointer handed out twice")
		live[p] = true
		ptrs = append(ptrs, p)
	}
}

func TestCalloc(t *testing.T) {
	a := alloc.New()

	require.Nil(t, a.Calloc(0, 8))
	require.Nil(t, a.Calloc(8, 0))
	require.Nil(t, a.Calloc(1<<32, 1<<32))

	// dirty a slot, free it, then calloc must still hand out zeros
	p := a.Alloc(16)
	fill(p, 16, 0xff)
	a.Free(p)

	q := a.Calloc(2, 8)
	require.NotNil(t, q)
	check(t, q, 16, 0)
	a.Free(q)

	q = a.Calloc(3, 1000)
	require.NotNil(t, q)
	check(t, q, 3000, 0)
	a.Free(q)
}

func TestReallocNil(t *testing.T) {
	a := alloc.New()
	p := a.Realloc(nil, 50)
	require.NotNil(t, p)
	capa, ok := a.SizeOf(p)
	require.True(t, ok)
	require.GreaterOrEqual(t, capa, 50)
}

func TestReallocZero(t *testing.T) {
	a := alloc.New()
	p := a.Alloc(8)
	require.NotNil(t, p)
	before := a.Stats().Classes[0].Free

	require.Nil(t, a.Realloc(p, 0))
	require.Equal(t, before+1, a.Stats().Classes[0].Free)
}

func TestReallocTransitions(t *testing.T) {
	a := alloc.New()

	// small, same class: in place
	p := a.Alloc(100)
	fill(p, 100, 3)
	q := a.Realloc(p, 120)
	require.Equal(t, p, q)
	check(t, q, 100, 3)

	// small, different class: moved, content preserved
	p = a.Alloc(16)
	fill(p, 16, 4)
	q = a.Realloc(p, 200)
	require.NotEqual(t, p, q)
	check(t, q, 16, 4)

	// small to large
	p = a.Alloc(1000)
	fill(p, 1000, 5)
	q = a.Realloc(p, 5000)
	check(t, q, 1000, 5)
	capa, _ := a.SizeOf(q)
	require.GreaterOrEqual(t, capa, 5000)

	// large to large, growing
	fill(q, 5000, 6)
	p = a.Realloc(q, 100000)
	check(t, p, 5000, 6)

	// large to large, shrinking within capacity: in place
	q = a.Realloc(p, 50000)
	require.Equal(t, p, q)
	check(t, q, 5000, 6)

	// large to small
	fill(q, 100, 7)
	p = a.Realloc(q, 100)
	check(t, p, 100, 7)
	capa, _ = a.SizeOf(p)
	require.Equal(t, 128, capa)
}

func TestReallocUnknownPointer(t *testing.T) {
	a := alloc.New()
	var local [64]byte
	p := a.Realloc(unsafe.Pointer(&local[0]), 40)
	require.NotNil(t, p)
	capa, ok := a.SizeOf(p)
	require.True(t, ok)
	require.GreaterOrEqual(t, capa, 40)
}

func TestFreeUnknownPointer(t *testing.T) {
	a := alloc.New()
	a.Free(nil)
	var local [64]byte
	a.Free(unsafe.Pointer(&local[0]))

	p := a.Alloc(10)
	require.NotNil(t, p)
	fill(p, 10, 9)
	check(t, p, 10, 9)
}

func TestDoubleFreeLarge(t *testing.T) {
	a := alloc.New()
	p := a.Alloc(2000)
	require.NotNil(t, p)
	a.Free(p)
	a.Free(p)
	require.Zero(t, a.Stats().LargeBlocks)

	q := a.Alloc(2000)
	require.NotNil(t, q)
	fill(q, 2000, 8)
	check(t, q, 2000, 8)
	a.Free(q)
}

func TestStats(t *testing.T) {
	a := alloc.New()
	st := a.Stats()
	require.Zero(t, st.SmallPages)
	require.Zero(t, st.LargeBlocks)

	p := a.Alloc(10)
	st = a.Stats()
	cs := st.Classes[1]
	require.Equal(t, 16, cs.Size)
	require.Equal(t, 1, cs.Pages)
	require.Equal(t, cs.Slots-1, cs.Free)

	q := a.Alloc(3000)
	st = a.Stats()
	require.Equal(t, 1, st.LargeBlocks)
	require.Equal(t, alloc.PageSize, st.LargeBytes)

	a.Free(p)
	a.Free(q)
	st = a.Stats()
	require.Equal(t, st.Classes[1].Slots, st.Classes[1].Free)
	require.Zero(t, st.LargeBlocks)
	// small pages stay mapped
	require.Equal(t, 1, st.SmallPages)
}

type point struct {
	X, Y int32
}

func TestView(t *testing.T) {
	a := alloc.New()
	p := a.Alloc(8)
	require.NotNil(t, p)

	var pt *point
	alloc.View(p, &pt)
	require.Equal(t, p, unsafe.Pointer(pt))
	pt.X, pt.Y = 7, 9

	var pt2 *point
	alloc.View(p, &pt2)
	require.Equal(t, int32(7), pt2.X)
	require.Equal(t, int32(9), pt2.Y)
}

var errNoMem = errors.New("no memory")

type failingProvider struct{}

func (failingProvider) AcquirePage() (uintptr, error) { return 0, errNoMem }
func (failingProvider) Map(uintptr) (uintptr, error)  { return 0, errNoMem }
func (failingProvider) Unmap(uintptr, uintptr) error  { return nil }

type flakyProvider struct {
	alloc.Provider
	fail int
}

func (f *flakyProvider) AcquirePage() (uintptr, error) {
	if f.fail > 0 {
		f.fail--
		return 0, errNoMem
	}
	return f.Provider.AcquirePage()
}

func TestProviderFailure(t *testing.T) {
	a := alloc.NewWithProvider(failingProvider{})
	require.Nil(t, a.Alloc(10))
	require.Nil(t, a.Alloc(5000))
	require.Nil(t, a.Calloc(4, 4))

	// the allocator stays usable once the provider recovers
	f := &flakyProvider{Provider: alloc.NewOSProvider(), fail: 1}
	a = alloc.NewWithProvider(f)
	require.Nil(t, a.Alloc(10))
	p := a.Alloc(10)
	require.NotNil(t, p)
	fill(p, 10, 1)
	check(t, p, 10, 1)
}

func TestChurn(t *testing.T) {
	a := alloc.New()
	rnd := rand.New(rand.NewSource(42))

	type span struct {
		p   unsafe.Pointer
		n   int
		tag byte
	}
	var live []span

	for i := 0; i < 5000; i++ {
		if len(live) > 0 && rnd.Intn(3) == 0 {
			k := rnd.Intn(len(live))
			check(t, live[k].p, live[k].n, live[k].tag)
			a.Free(live[k].p)
			live[k] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		n := rnd.Intn(3*alloc.PageSize) + 1
		tag := byte(rnd.Intn(255) + 1)
		p := a.Alloc(n)
		require.NotNil(t, p)
		fill(p, n, tag)
		live = append(live, span{p, n, tag})
	}
	for _, sp := range live {
		check(t, sp.p, sp.n, sp.tag)
		a.Free(sp.p)
	}

	st := a.Stats()
	require.Zero(t, st.LargeBlocks)
	for _, cs := range st.Classes {
		require.Equal(t, cs.Slots, cs.Free)
	}
}
