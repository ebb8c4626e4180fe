package bcache

import (
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/kpool/internal/lock"
)

type cacheStats struct {
	hits     atomic.Uint64
	misses   atomic.Uint64
	recycles atomic.Uint64
	reads    atomic.Uint64
	writes   atomic.Uint64
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Recycles uint64 `json:"recycles"`
	Reads    uint64 `json:"disk_reads"`
	Writes   uint64 `json:"disk_writes"`
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.stats.hits.Load(),
		Misses:   c.stats.misses.Load(),
		Recycles: c.stats.recycles.Load(),
		Reads:    c.stats.reads.Load(),
		Writes:   c.stats.writes.Load(),
	}
}

// LockStats returns the contention counters of every bucket lock.
func (c *Cache) LockStats() []lock.Stats {
	out := make([]lock.Stats, len(c.buckets))
	for s := range c.buckets {
		out[s] = c.buckets[s].lock.Stats()
	}
	return out
}

// Verify checks the bucket lists: every buffer on exactly one list, on the
// bucket it records, no negative reference counts, and no block cached in
// two buffers. Buckets are locked one at a time, so the result is
// only exact when no other goroutine is using the cache.
func (c *Cache) Verify() error {
	seen := make([]int, len(c.bufs))
	type key struct{ dev, blockno uint32 }
	resident := make(map[key]int)

	for s := range c.buckets {
		bk := &c.buckets[s]
		bk.lock.Lock()
		var err error
		c.lru.each(s, func(i int) bool {
			b := &c.bufs[i]
			seen[i]++
			switch {
			case b.bucket != s:
				err = fmt.Errorf("bcache: buffer %d on bucket %d records bucket %d", i, s, b.bucket)
			case b.refcnt < 0:
				err = fmt.Errorf("bcache: buffer %d has refcnt %d", i, b.refcnt)
			case b.dev != NoDev && c.home(b.blockno) != s:
				err = fmt.Errorf("bcache: block %d/%d on bucket %d, home is %d", b.dev, b.blockno, s, c.home(b.blockno))
			case b.dev != NoDev:
				k := key{b.dev, b.blockno}
				if prev, dup := resident[k]; dup {
					err = fmt.Errorf("bcache: block %d/%d resident in buffers %d and %d", b.dev, b.blockno, prev, i)
				}
				resident[k] = i
			}
			return err == nil
		})
		bk.lock.Unlock()
		if err != nil {
			return err
		}
	}

	for i, n := range seen {
		if n != 1 {
			return fmt.Errorf("bcache: buffer %d on %d lists", i, n)
		}
	}
	return nil
}

// Resident reports whether (dev, blockno) is cached and its reference count.
func (c *Cache) Resident(dev, blockno uint32) (refcnt int, ok bool) {
	s := c.home(blockno)
	bk := &c.buckets[s]
	bk.lock.Lock()
	defer bk.lock.Unlock()
	if i, found := c.lookup(s, dev, blockno); found {
		return c.bufs[i].refcnt, true
	}
	return 0, false
}
