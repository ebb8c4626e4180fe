package bcache

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutualExclusion(t *testing.T) {
	c, d := newTestCache(t, 8, 3)

	const (
		workers = 8
		iters   = 500
	)
	var inside atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				b := c.Read(testDev, 0)
				assert.EqualValues(t, 1, inside.Add(1), "two holders of one buffer")
				data := b.Data()
				binary.LittleEndian.PutUint32(data, binary.LittleEndian.Uint32(data)+1)
				inside.Add(-1)
				c.Release(b)
			}
		}()
	}
	wg.Wait()

	b := c.Read(testDev, 0)
	require.EqualValues(t, workers*iters, binary.LittleEndian.Uint32(b.Data()))
	c.Write(b)
	c.Release(b)
	require.EqualValues(t, workers*iters, binary.LittleEndian.Uint32(d.Peek(testDev, 0)))
	require.EqualValues(t, 1, d.Reads(testDev, 0))
}

// Goroutines hammer a working set larger than the pool, each holding at
// most one buffer. Every block carries its own number so a buffer holding
// the wrong block shows up as a mismatch.
func TestConcurrentStress(t *testing.T) {
	iters := 5000
	if testing.Short() {
		iters = 500
	}
	const (
		workers = 4
		nblocks = 64
	)
	c, d := newTestCache(t, 30, 13)

	for blk := uint32(0); blk < nblocks; blk++ {
		b := c.Get(testDev, blk)
		binary.LittleEndian.PutUint32(b.Data(), blk)
		c.Write(b)
		c.Release(b)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			for i := 0; i < iters; i++ {
				blk := rng.Uint32N(nblocks)
				b := c.Read(testDev, blk)
				got := binary.LittleEndian.Uint32(b.Data())
				assert.Equal(t, blk, got, "buffer for block %d holds block %d", blk, got)
				if rng.IntN(4) == 0 {
					c.Write(b)
				}
				c.Release(b)
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	require.NoError(t, c.Verify())
	for blk := uint32(0); blk < nblocks; blk++ {
		refs, ok := c.Resident(testDev, blk)
		if ok {
			require.Zero(t, refs, "block %d still referenced", blk)
		}
		require.EqualValues(t, blk, binary.LittleEndian.Uint32(d.Peek(testDev, blk)))
	}

	st := c.Stats()
	require.GreaterOrEqual(t, st.Hits+st.Misses, uint64(nblocks+workers*iters))
	require.LessOrEqual(t, st.Reads, st.Misses)
}

func BenchmarkReadHit(b *testing.B) {
	c, _ := newTestCache(b, 30, 13)
	readRelease(c, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		readRelease(c, 1)
	}
}

func BenchmarkReadParallel(b *testing.B) {
	c, _ := newTestCache(b, 30, 13)
	var next atomic.Uint32
	b.RunParallel(func(pb *testing.PB) {
		// One block per goroutine, spread over the buckets.
		blk := next.Add(1) % 13
		for pb.Next() {
			readRelease(c, blk)
		}
	})
}
