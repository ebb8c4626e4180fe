package kalloc

import (
	"fmt"

	"github.com/joshuapare/kpool/internal/lock"
)

// Stats is a snapshot of allocator state.
type Stats struct {
	PageSize  int    `json:"page_size"`
	Pages     int    `json:"pages"`
	Allocated int64  `json:"allocated"`
	Steals    uint64 `json:"steals"`
	Free      []int  `json:"free"` // per shard
}

// Stats returns the page counts. Shards are read one at a time, so under
// concurrent use the per-shard figures need not sum with Allocated.
func (a *Allocator) Stats() Stats {
	st := Stats{
		PageSize:  a.pageSize,
		Pages:     a.npages,
		Allocated: a.allocated.Load(),
		Steals:    a.steals.Load(),
		Free:      make([]int, len(a.shards)),
	}
	for s := range a.shards {
		sh := &a.shards[s]
		sh.lock.Lock()
		st.Free[s] = sh.nfree
		sh.lock.Unlock()
	}
	return st
}

// LockStats returns the contention counters of every shard lock.
func (a *Allocator) LockStats() []lock.Stats {
	out := make([]lock.Stats, len(a.shards))
	for s := range a.shards {
		out[s] = a.shards[s].lock.Stats()
	}
	return out
}

// Verify walks every freelist and checks that each free page is on its
// owner's list exactly once and that free plus allocated pages account for
// the whole arena. It is only exact when no other goroutine is using the
// allocator.
func (a *Allocator) Verify() error {
	seen := make([]bool, a.npages)
	total := 0
	for s := range a.shards {
		sh := &a.shards[s]
		sh.lock.Lock()
		n := 0
		var err error
		for i := sh.head; i != none; i = a.next[i] {
			switch {
			case seen[i]:
				err = fmt.Errorf("kalloc: page %d linked twice", i)
			case !a.isFree[i]:
				err = fmt.Errorf("kalloc: allocated page %d on freelist %d", i, s)
			case a.Owner(a.addr(int(i))) != s:
				err = fmt.Errorf("kalloc: page %d on freelist %d, owner is %d", i, s, a.Owner(a.addr(int(i))))
			}
			if err != nil {
				break
			}
			seen[i] = true
			n++
		}
		if err == nil && n != sh.nfree {
			err = fmt.Errorf("kalloc: freelist %d has %d pages, counted %d", s, n, sh.nfree)
		}
		sh.lock.Unlock()
		if err != nil {
			return err
		}
		total += n
	}

	for i, free := range a.isFree {
		if free && !seen[i] {
			return fmt.Errorf("kalloc: free page %d on no freelist", i)
		}
	}
	if alloc := a.allocated.Load(); int64(total)+alloc != int64(a.npages) {
		return fmt.Errorf("kalloc: %d free + %d allocated != %d pages", total, alloc, a.npages)
	}
	return nil
}
