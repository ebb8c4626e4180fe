package kalloc

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each goroutine stamps its pages with its id and a sequence number and
// checks the stamp before freeing, so a page handed to two owners shows up.
func TestConcurrentStress(t *testing.T) {
	ops := 20000
	if testing.Short() {
		ops = 2000
	}
	const (
		workers = 8
		maxHeld = 6
	)
	// Fewer pages than workers*maxHeld forces stealing and ErrNoMemory.
	a := newTestAllocator(t, 32, 4)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(id), 42))
			type held struct {
				pa  PA
				seq uint32
			}
			var mine []held
			var seq uint32

			check := func(h held) {
				p := a.Page(h.pa)
				assert.Equal(t, id, binary.LittleEndian.Uint32(p[0:]), "page %#x owner", h.pa)
				assert.Equal(t, h.seq, binary.LittleEndian.Uint32(p[4:]), "page %#x seq", h.pa)
			}

			for i := 0; i < ops; i++ {
				if len(mine) < maxHeld && rng.IntN(2) == 0 {
					pa, err := a.Alloc(int(id))
					if err != nil {
						continue
					}
					seq++
					p := a.Page(pa)
					assert.Equal(t, JunkAlloc, p[len(p)-1])
					binary.LittleEndian.PutUint32(p[0:], id)
					binary.LittleEndian.PutUint32(p[4:], seq)
					mine = append(mine, held{pa, seq})
					continue
				}
				if len(mine) == 0 {
					continue
				}
				k := rng.IntN(len(mine))
				check(mine[k])
				a.Free(mine[k].pa)
				mine[k] = mine[len(mine)-1]
				mine = mine[:len(mine)-1]
			}
			for _, h := range mine {
				check(h)
				a.Free(h.pa)
			}
		}(uint32(w))
	}
	wg.Wait()

	require.NoError(t, a.Verify())
	st := a.Stats()
	require.Zero(t, st.Allocated)
	total := 0
	for _, n := range st.Free {
		total += n
	}
	require.Equal(t, 32, total)
	require.Equal(t, []int{8, 8, 8, 8}, st.Free)
}

func BenchmarkAllocFree(b *testing.B) {
	a := newTestAllocator(b, 64, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pa, err := a.Alloc(0)
		if err != nil {
			b.Fatal(err)
		}
		a.Free(pa)
	}
}

func BenchmarkAllocFreeParallel(b *testing.B) {
	a := newTestAllocator(b, 1024, MaxCPU)
	var mu sync.Mutex
	next := 0
	b.RunParallel(func(pb *testing.PB) {
		mu.Lock()
		cpu := next
		next++
		mu.Unlock()
		for pb.Next() {
			pa, err := a.Alloc(cpu)
			if err != nil {
				continue
			}
			a.Free(pa)
		}
	})
}
