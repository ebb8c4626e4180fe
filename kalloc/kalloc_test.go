package kalloc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kpool/pkg/types"
)

const testPage = 4096

func newTestAllocator(t testing.TB, pages, ncpu int) *Allocator {
	t.Helper()
	a, err := New(Arena{Start: 0x80000000, End: 0x80000000 + PA(pages*testPage)}, &Config{
		PageSize: testPage,
		NCPU:     ncpu,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		fe, ok := r.(*types.FatalError)
		require.True(t, ok, "expected *types.FatalError panic, got %v", r)
		require.ErrorIs(t, fe, target)
	}()
	fn()
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		arena Arena
		cfg   Config
	}{
		{"page size not power of two", Arena{0, 0x10000}, Config{PageSize: 3000, NCPU: 1}},
		{"zero page size", Arena{0, 0x10000}, Config{PageSize: 0, NCPU: 1}},
		{"negative cpus", Arena{0, 0x10000}, Config{PageSize: 4096, NCPU: -1}},
		{"empty arena", Arena{0x2000, 0x2000}, Config{PageSize: 4096, NCPU: 1}},
		{"inverted arena", Arena{0x8000, 0x2000}, Config{PageSize: 4096, NCPU: 1}},
		{"less than a page", Arena{0x1000, 0x1800}, Config{PageSize: 4096, NCPU: 1}},
		{"unknown backing", Arena{0, 0x10000}, Config{PageSize: 4096, NCPU: 1, Backing: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.arena, &tt.cfg)
			require.ErrorIs(t, err, types.ErrConfig)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(Arena{Start: 0, End: 64 * 4096}, nil)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 4096, a.PageSize())
	require.Equal(t, 64, a.Pages())
	require.GreaterOrEqual(t, a.NCPU(), 1)
	require.LessOrEqual(t, a.NCPU(), MaxCPU)
	require.NoError(t, a.Verify())
}

func TestNew_RoundsStartUp(t *testing.T) {
	a, err := New(Arena{Start: 0x1001, End: 0x1001 + 10*testPage}, &Config{PageSize: testPage, NCPU: 2})
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, Arena{Start: 0x2000, End: 0xb000}, a.Arena())
	require.Equal(t, 9, a.Pages())
}

func TestOwnership(t *testing.T) {
	// 10 pages over 4 regions of 10240 bytes.
	a := newTestAllocator(t, 10, 4)
	require.Equal(t, []int{3, 2, 3, 2}, a.Stats().Free)

	base := a.Arena().Start
	require.Equal(t, 0, a.Owner(base))
	require.Equal(t, 1, a.Owner(base+3*testPage))
	require.Equal(t, 3, a.Owner(base+9*testPage))
}

func TestOwnership_LastRegionAbsorbsRemainder(t *testing.T) {
	// Ten 1-byte pages over 3 regions of 3 bytes: page 9 falls past the
	// third region and is clamped into it.
	a, err := New(Arena{Start: 100, End: 110}, &Config{PageSize: 1, NCPU: 3})
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 2, a.Owner(109))
	require.Equal(t, []int{3, 3, 4}, a.Stats().Free)
	require.NoError(t, a.Verify())
}

func TestAlloc_PrefersOwnShard(t *testing.T) {
	a := newTestAllocator(t, 8, 2)

	for i := 0; i < 4; i++ {
		pa, err := a.Alloc(1)
		require.NoError(t, err)
		require.Equal(t, 1, a.Owner(pa))
	}
	require.Zero(t, a.Stats().Steals)
}

func TestAlloc_JunkFill(t *testing.T) {
	a := newTestAllocator(t, 4, 1)

	pa, err := a.Alloc(0)
	require.NoError(t, err)
	p := a.Page(pa)
	require.Len(t, p, testPage)
	require.Equal(t, bytes.Repeat([]byte{JunkAlloc}, testPage), p)

	copy(p, "dangling")
	i, err := a.index(pa)
	require.NoError(t, err)
	a.Free(pa)
	require.Equal(t, bytes.Repeat([]byte{JunkFree}, testPage), a.page(i))
}

func TestAlloc_Steals(t *testing.T) {
	a := newTestAllocator(t, 4, 2)

	own := make([]PA, 0, 2)
	for i := 0; i < 2; i++ {
		pa, err := a.Alloc(0)
		require.NoError(t, err)
		own = append(own, pa)
	}
	require.Equal(t, []int{0, 2}, a.Stats().Free)

	stolen, err := a.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, 1, a.Owner(stolen))
	require.EqualValues(t, 1, a.Stats().Steals)

	// Freed pages go home, not to the freeing CPU.
	a.Free(stolen)
	require.Equal(t, []int{0, 2}, a.Stats().Free)
	a.Free(own[0])
	require.Equal(t, []int{1, 2}, a.Stats().Free)
	require.NoError(t, a.Verify())
}

func TestAlloc_OutOfMemoryIsRecoverable(t *testing.T) {
	a := newTestAllocator(t, 6, 3)

	var pages []PA
	for {
		pa, err := a.Alloc(len(pages))
		if errors.Is(err, types.ErrNoMemory) {
			break
		}
		require.NoError(t, err)
		pages = append(pages, pa)
	}
	require.Len(t, pages, 6)
	require.EqualValues(t, 6, a.Stats().Allocated)

	seen := make(map[PA]bool)
	for _, pa := range pages {
		require.False(t, seen[pa], "page %#x handed out twice", pa)
		seen[pa] = true
	}

	a.Free(pages[2])
	pa, err := a.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, pages[2], pa)
	require.NoError(t, a.Verify())
}

func TestAlloc_CPUWraps(t *testing.T) {
	a := newTestAllocator(t, 4, 2)

	pa, err := a.Alloc(3)
	require.NoError(t, err)
	require.Equal(t, 1, a.Owner(pa))

	pa, err = a.Alloc(-2)
	require.NoError(t, err)
	require.Equal(t, 0, a.Owner(pa))
}

func TestFree_BadAddress(t *testing.T) {
	a := newTestAllocator(t, 4, 2)
	pa, err := a.Alloc(0)
	require.NoError(t, err)
	end := a.Arena().End

	requireFatal(t, types.ErrBadFree, func() { a.Free(pa + 1) })
	requireFatal(t, types.ErrBadFree, func() { a.Free(a.Arena().Start - testPage) })
	requireFatal(t, types.ErrBadFree, func() { a.Free(end) })
	requireFatal(t, types.ErrBadFree, func() { a.Page(end + testPage) })
	require.NoError(t, a.Verify())
}

func TestFree_DoubleFree(t *testing.T) {
	a := newTestAllocator(t, 4, 2)
	pa, err := a.Alloc(1)
	require.NoError(t, err)
	a.Free(pa)

	requireFatal(t, types.ErrDoubleFree, func() { a.Free(pa) })
	requireFatal(t, types.ErrBadFree, func() { a.Page(pa) })
	require.NoError(t, a.Verify())
}

func TestCustomAbort(t *testing.T) {
	var got *types.FatalError
	a, err := New(Arena{Start: 0, End: 4 * testPage}, &Config{
		PageSize: testPage,
		NCPU:     1,
		Abort:    func(fe *types.FatalError) { got = fe },
	})
	require.NoError(t, err)
	defer a.Close()

	a.Free(3)
	require.NotNil(t, got)
	require.Equal(t, "kfree", got.Op)
	require.ErrorIs(t, got, types.ErrBadFree)
	require.NoError(t, a.Verify())
}

func TestBackingMmap(t *testing.T) {
	a, err := New(Arena{Start: 0x100000, End: 0x100000 + 32*testPage}, &Config{
		PageSize: testPage,
		NCPU:     4,
		Backing:  BackingMmap,
	})
	require.NoError(t, err)

	pa, err := a.Alloc(2)
	require.NoError(t, err)
	copy(a.Page(pa), "mapped")
	require.Equal(t, "mapped", string(a.Page(pa)[:6]))
	a.Free(pa)
	require.NoError(t, a.Verify())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestLockStats(t *testing.T) {
	a := newTestAllocator(t, 8, 2)
	_, err := a.Alloc(1)
	require.NoError(t, err)

	st := a.LockStats()
	require.Len(t, st, 2)
	require.Equal(t, "kmem.1", st[1].Name)
	require.Positive(t, st[1].Acquires)
}

func TestBacking_String(t *testing.T) {
	require.Equal(t, "heap", BackingHeap.String())
	require.Equal(t, "mmap", BackingMmap.String())
	require.Equal(t, "Backing(7)", Backing(7).String())
}
