package kalloc

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/joshuapare/kpool/internal/buf"
	"github.com/joshuapare/kpool/internal/lock"
	"github.com/joshuapare/kpool/internal/logger"
	"github.com/joshuapare/kpool/internal/mmfile"
	"github.com/joshuapare/kpool/pkg/types"
)

// PA is a physical address inside the arena.
type PA uint64

// Page fill patterns.
const (
	JunkAlloc byte = 0x05
	JunkFree  byte = 0x01
)

// MaxCPU caps the default shard count.
const MaxCPU = 8

// Backing selects where page memory comes from.
type Backing uint8

const (
	// BackingHeap keeps pages in a Go byte slice.
	BackingHeap Backing = iota
	// BackingMmap keeps pages in a private anonymous mapping, outside the Go heap.
	BackingMmap
)

func (b Backing) String() string {
	switch b {
	case BackingHeap:
		return "heap"
	case BackingMmap:
		return "mmap"
	default:
		return "Backing(" + strconv.Itoa(int(b)) + ")"
	}
}

// Arena is the half-open physical address range [Start, End) to manage.
type Arena struct {
	Start PA
	End   PA
}

// Config controls allocator geometry.
type Config struct {
	PageSize int // Bytes per page; a power of two
	NCPU     int // Shards; 0 means runtime.NumCPU() capped at MaxCPU
	Backing  Backing

	// Logger receives steal records at debug level. Nil means logger.L.
	Logger *slog.Logger

	// Abort receives fatal errors. Nil means types.PanicAbort.
	Abort types.AbortFunc
}

// DefaultConfig uses 4 KiB pages on the heap.
var DefaultConfig = Config{
	PageSize: 4096,
	Backing:  BackingHeap,
}

const none int32 = -1

type shard struct {
	lock  lock.Spin
	head  int32 // first free page index, or none
	nfree int
}

// Allocator hands out pages from per-CPU freelists.
type Allocator struct {
	start      PA
	pageSize   int
	npages     int
	regionSize uint64

	mem     []byte
	release func() error

	// Freelist links and free flags, indexed by page. Both are guarded by
	// the lock of the page's owner shard.
	next   []int32
	isFree []bool

	shards []shard

	allocated atomic.Int64
	steals    atomic.Uint64

	log   *slog.Logger
	abort types.AbortFunc
}

// New builds an allocator over arena and frees every page into its owner's
// freelist. A nil cfg means DefaultConfig.
func New(arena Arena, cfg *Config) (*Allocator, error) {
	if cfg == nil {
		cfg = &DefaultConfig
	}
	ps := cfg.PageSize
	if ps <= 0 || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("kalloc: %w: page size %d is not a power of two", types.ErrConfig, ps)
	}
	ncpu := cfg.NCPU
	if ncpu == 0 {
		ncpu = min(runtime.NumCPU(), MaxCPU)
	}
	if ncpu < 0 {
		return nil, fmt.Errorf("kalloc: %w: %d cpus", types.ErrConfig, ncpu)
	}

	start := roundUp(arena.Start, PA(ps))
	if start < arena.Start || arena.End <= start {
		return nil, fmt.Errorf("kalloc: %w: empty arena [%#x, %#x)", types.ErrConfig, uint64(arena.Start), uint64(arena.End))
	}
	npages64 := uint64(arena.End-start) / uint64(ps)
	if npages64 == 0 {
		return nil, fmt.Errorf("kalloc: %w: arena holds no whole page", types.ErrConfig)
	}
	if npages64 > uint64(^uint32(0)>>1) {
		return nil, fmt.Errorf("kalloc: %w: arena of %d pages too large", types.ErrConfig, npages64)
	}
	size, ok := buf.MulOverflowSafe(int(npages64), ps)
	if !ok {
		return nil, fmt.Errorf("kalloc: %w: arena of %d pages too large", types.ErrConfig, npages64)
	}
	npages := int(npages64)

	a := &Allocator{
		start:    start,
		pageSize: ps,
		npages:   npages,
		next:     make([]int32, npages),
		isFree:   make([]bool, npages),
		shards:   make([]shard, ncpu),
		log:      logger.Or(cfg.Logger),
		abort:    cfg.Abort,
	}
	if a.abort == nil {
		a.abort = types.PanicAbort
	}

	// Truncating division; owner() clamps the tail into the last region.
	a.regionSize = uint64(size) / uint64(ncpu)
	if a.regionSize == 0 {
		a.regionSize = 1
	}

	switch cfg.Backing {
	case BackingHeap:
		a.mem = make([]byte, size)
		a.release = func() error { return nil }
	case BackingMmap:
		mem, release, err := mmfile.Anon(size)
		if err != nil {
			return nil, fmt.Errorf("kalloc: %w", err)
		}
		a.mem, a.release = mem, release
	default:
		return nil, fmt.Errorf("kalloc: %w: backing %v", types.ErrConfig, cfg.Backing)
	}

	for s := range a.shards {
		a.shards[s].lock.Init("kmem." + strconv.Itoa(s))
		a.shards[s].head = none
	}
	for i := 0; i < npages; i++ {
		a.Free(a.addr(i))
	}
	a.allocated.Store(0)

	a.log.Debug("kalloc: init", "start", uint64(start), "pages", npages, "ncpu", ncpu, "backing", cfg.Backing)
	return a, nil
}

func roundUp(pa, align PA) PA {
	return (pa + align - 1) &^ (align - 1)
}

// Arena returns the page-aligned range actually managed.
func (a *Allocator) Arena() Arena {
	return Arena{Start: a.start, End: a.addr(a.npages)}
}

// PageSize returns the page size in bytes.
func (a *Allocator) PageSize() int { return a.pageSize }

// Pages returns the number of pages in the arena.
func (a *Allocator) Pages() int { return a.npages }

// NCPU returns the number of shards.
func (a *Allocator) NCPU() int { return len(a.shards) }

func (a *Allocator) addr(i int) PA {
	return a.start + PA(i)*PA(a.pageSize)
}

// Owner returns the shard that pa's page belongs to.
func (a *Allocator) Owner(pa PA) int {
	s := uint64(pa-a.start) / a.regionSize
	if last := uint64(len(a.shards) - 1); s > last {
		return int(last)
	}
	return int(s)
}

// index validates pa and returns its page index.
func (a *Allocator) index(pa PA) (int, error) {
	if pa < a.start || pa >= a.addr(a.npages) {
		return 0, badAddr(pa, "outside arena")
	}
	off := uint64(pa - a.start)
	if off%uint64(a.pageSize) != 0 {
		return 0, badAddr(pa, "not page aligned")
	}
	return int(off / uint64(a.pageSize)), nil
}

func (a *Allocator) page(i int) []byte {
	p, _ := buf.Block(a.mem, 0, i, a.pageSize)
	return p
}

// Alloc returns a page, preferring cpu's own freelist. cpu is taken modulo
// NCPU. When every freelist is empty it returns types.ErrNoMemory.
func (a *Allocator) Alloc(cpu int) (PA, error) {
	n := len(a.shards)
	cpu %= n
	if cpu < 0 {
		cpu += n
	}

	i, ok := a.pop(cpu)
	if !ok {
		for s := 0; s < n && !ok; s++ {
			if s == cpu {
				continue
			}
			if i, ok = a.pop(s); ok {
				a.steals.Add(1)
				a.log.Debug("kalloc: steal", "cpu", cpu, "from", s)
			}
		}
	}
	if !ok {
		return 0, types.ErrNoMemory
	}

	a.allocated.Add(1)
	buf.Fill(a.page(i), JunkAlloc)
	return a.addr(i), nil
}

func (a *Allocator) pop(s int) (int, bool) {
	sh := &a.shards[s]
	sh.lock.Lock()
	i := sh.head
	if i == none {
		sh.lock.Unlock()
		return 0, false
	}
	sh.head = a.next[i]
	sh.nfree--
	a.isFree[i] = false
	sh.lock.Unlock()
	return int(i), true
}

// Free returns pa to its owner's freelist. pa must be a page address
// returned by Alloc and not freed since.
func (a *Allocator) Free(pa PA) {
	i, err := a.index(pa)
	if err != nil {
		a.fatal("kfree", err)
		return
	}

	sh := &a.shards[a.Owner(pa)]
	sh.lock.Lock()
	if a.isFree[i] {
		sh.lock.Unlock()
		a.fatal("kfree", fmt.Errorf("%w: %#x", types.ErrDoubleFree, uint64(pa)))
		return
	}
	// Claim the page so a racing Free of the same address fails.
	a.isFree[i] = true
	sh.lock.Unlock()

	buf.Fill(a.page(i), JunkFree)

	sh.lock.Lock()
	a.next[i] = sh.head
	sh.head = int32(i)
	sh.nfree++
	sh.lock.Unlock()
	a.allocated.Add(-1)
}

// Page returns the memory of an allocated page.
func (a *Allocator) Page(pa PA) []byte {
	i, err := a.index(pa)
	if err != nil {
		a.fatal("kpage", err)
		return nil
	}
	sh := &a.shards[a.Owner(pa)]
	sh.lock.Lock()
	free := a.isFree[i]
	sh.lock.Unlock()
	if free {
		a.fatal("kpage", badAddr(pa, "is free"))
		return nil
	}
	return a.page(i)
}

// Close releases the arena's backing memory. The allocator must not be used
// afterwards.
func (a *Allocator) Close() error {
	if a.release == nil {
		return nil
	}
	err := a.release()
	a.release = nil
	a.mem = nil
	return err
}
