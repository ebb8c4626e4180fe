package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kpool/bcache"
	"github.com/joshuapare/kpool/disk"
	"github.com/joshuapare/kpool/internal/lock"
	"github.com/joshuapare/kpool/internal/logger"
	"github.com/joshuapare/kpool/kalloc"
	"github.com/joshuapare/kpool/pkg/types"
)

const stressDev = 1

var (
	stressWorkers int
	stressOps     int
	stressNBuf    int
	stressNBucket int
	stressBlocks  int
	stressPages   int
	stressNCPU    int
	stressMmap    bool
	stressImage   string
	stressSeed    uint64
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressWorkers, "workers", 4, "Concurrent workers")
	cmd.Flags().IntVar(&stressOps, "ops", 10000, "Operations per worker")
	cmd.Flags().IntVar(&stressNBuf, "nbuf", bcache.DefaultConfig.NBuf, "Cache buffers")
	cmd.Flags().IntVar(&stressNBucket, "nbucket", bcache.DefaultConfig.NBucket, "Cache buckets")
	cmd.Flags().IntVar(&stressBlocks, "blocks", 64, "Working set of distinct blocks")
	cmd.Flags().IntVar(&stressPages, "pages", 256, "Pages in the allocator arena")
	cmd.Flags().IntVar(&stressNCPU, "ncpu", 4, "Allocator shards")
	cmd.Flags().BoolVar(&stressMmap, "mmap", false, "Back the page arena with an anonymous mapping")
	cmd.Flags().StringVar(&stressImage, "image", "", "Serve blocks from this image instead of a RAM disk")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 1, "Random seed")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a randomized concurrent workload and check consistency",
		Long: `The stress command runs workers that mix buffer cache reads, updates and
write-backs with page allocations and frees. Every block and page carries a
stamp that is checked on each access, and both structures are verified
afterwards. Lock contention per shard is reported at the end.

Example:
  kpoolctl stress
  kpoolctl stress --workers 8 --ops 50000 --nbucket 1
  kpoolctl stress --image fs.img --mmap --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context())
		},
	}
}

type stressReport struct {
	Workers    int           `json:"workers"`
	Ops        int           `json:"ops_per_worker"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Updates    uint64        `json:"block_updates"`
	Cache      bcache.Stats  `json:"cache"`
	CacheLocks []lock.Stats  `json:"cache_locks"`
	Alloc      kalloc.Stats  `json:"alloc"`
	AllocLocks []lock.Stats  `json:"alloc_locks"`
	OOM        uint64        `json:"alloc_out_of_memory"`
}

func openStressDisk() (disk.Driver, func() error, error) {
	if stressImage == "" {
		d, err := disk.NewMem(&disk.MemConfig{BlockSize: disk.DefaultMemConfig.BlockSize, NBlocks: stressBlocks})
		return d, func() error { return nil }, err
	}
	img, err := disk.OpenFile(stressImage, &disk.FileOptions{Dev: stressDev})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}
	if img.NBlocks() < stressBlocks {
		img.Close()
		return nil, nil, fmt.Errorf("image has %d blocks, need %d", img.NBlocks(), stressBlocks)
	}
	closer := func() error {
		ferr := img.Flush(context.Background(), disk.FlushAuto)
		return errors.Join(ferr, img.Close())
	}
	return img, closer, nil
}

func runStress(ctx context.Context) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if stressWorkers <= 0 || stressOps < 0 || stressBlocks <= 0 {
		return fmt.Errorf("workers and blocks must be positive")
	}
	// Each worker holds at most one buffer; leave headroom for recycling.
	if stressWorkers >= stressNBuf {
		return fmt.Errorf("need more buffers (%d) than workers (%d)", stressNBuf, stressWorkers)
	}

	drv, closeDisk, err := openStressDisk()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeDisk(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close disk: %w", cerr)
		}
	}()

	cache, err := bcache.New(drv, &bcache.Config{
		NBuf:    stressNBuf,
		NBucket: stressNBucket,
		Logger:  logger.L,
	})
	if err != nil {
		return err
	}

	backing := kalloc.BackingHeap
	if stressMmap {
		backing = kalloc.BackingMmap
	}
	const pageSize = 4096
	const arenaStart = 0x80000000
	alloc, err := kalloc.New(kalloc.Arena{Start: arenaStart, End: arenaStart + kalloc.PA(stressPages*pageSize)}, &kalloc.Config{
		PageSize: pageSize,
		NCPU:     stressNCPU,
		Backing:  backing,
		Logger:   logger.L,
	})
	if err != nil {
		return err
	}
	defer alloc.Close()

	printVerbose("Stamping %d blocks\n", stressBlocks)
	for blk := 0; blk < stressBlocks; blk++ {
		b := cache.Get(stressDev, uint32(blk))
		data := b.Data()
		clear(data)
		binary.LittleEndian.PutUint32(data, uint32(blk))
		cache.Write(b)
		cache.Release(b)
	}

	w := &stressWorld{cache: cache, alloc: alloc}
	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, stressWorkers)
	for id := 0; id < stressWorkers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs[id] = w.run(ctx, id)
		}(id)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if err := w.verify(); err != nil {
		return err
	}

	rep := stressReport{
		Workers:    stressWorkers,
		Ops:        stressOps,
		Elapsed:    elapsed,
		Updates:    w.updates.Load(),
		Cache:      cache.Stats(),
		CacheLocks: cache.LockStats(),
		Alloc:      alloc.Stats(),
		AllocLocks: alloc.LockStats(),
		OOM:        w.oom.Load(),
	}
	logger.L.Info("stress: done", "workers", rep.Workers, "ops", rep.Ops, "elapsed", elapsed,
		"hits", rep.Cache.Hits, "misses", rep.Cache.Misses, "steals", rep.Alloc.Steals)

	if jsonOut {
		return printJSON(rep)
	}
	printStressReport(rep)
	return nil
}

// stressWorld is the state shared by all workers.
type stressWorld struct {
	cache *bcache.Cache
	alloc *kalloc.Allocator

	updates atomic.Uint64
	oom     atomic.Uint64
}

type heldPage struct {
	pa  kalloc.PA
	seq uint32
}

// run executes one worker. Fatal errors from either structure are turned
// into an error for this worker.
func (w *stressWorld) run(ctx context.Context, id int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var fe *types.FatalError
			if e, ok := r.(error); ok && errors.As(e, &fe) {
				err = fmt.Errorf("worker %d: %w", id, fe)
				return
			}
			panic(r)
		}
	}()

	rng := rand.New(rand.NewPCG(stressSeed, uint64(id)))
	var pages []heldPage
	var seq uint32

	for i := 0; i < stressOps; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		switch op := rng.IntN(10); {
		case op < 6:
			if err := w.touchBlock(rng); err != nil {
				return fmt.Errorf("worker %d: %w", id, err)
			}
		case op < 8 && len(pages) < 8:
			pa, err := w.alloc.Alloc(id)
			if errors.Is(err, types.ErrNoMemory) {
				w.oom.Add(1)
				continue
			}
			if err != nil {
				return err
			}
			seq++
			p := w.alloc.Page(pa)
			binary.LittleEndian.PutUint32(p[0:], uint32(id))
			binary.LittleEndian.PutUint32(p[4:], seq)
			pages = append(pages, heldPage{pa, seq})
		case len(pages) > 0:
			k := rng.IntN(len(pages))
			if err := w.freePage(id, pages[k]); err != nil {
				return err
			}
			pages[k] = pages[len(pages)-1]
			pages = pages[:len(pages)-1]
		}
	}
	for _, h := range pages {
		if err := w.freePage(id, h); err != nil {
			return err
		}
	}
	return nil
}

// touchBlock reads a random block, checks its stamp and bumps its update
// counter, writing it back some of the time.
func (w *stressWorld) touchBlock(rng *rand.Rand) error {
	blk := rng.Uint32N(uint32(stressBlocks))
	b := w.cache.Read(stressDev, blk)
	defer w.cache.Release(b)

	data := b.Data()
	if got := binary.LittleEndian.Uint32(data); got != blk {
		return fmt.Errorf("buffer for block %d holds block %d", blk, got)
	}
	binary.LittleEndian.PutUint32(data[4:], binary.LittleEndian.Uint32(data[4:])+1)
	w.updates.Add(1)
	// Write back so recycling the buffer does not lose the update.
	w.cache.Write(b)
	return nil
}

func (w *stressWorld) freePage(id int, h heldPage) error {
	p := w.alloc.Page(h.pa)
	if gotID, gotSeq := binary.LittleEndian.Uint32(p[0:]), binary.LittleEndian.Uint32(p[4:]); gotID != uint32(id) || gotSeq != h.seq {
		return fmt.Errorf("worker %d: page %#x stamped %d/%d, want %d/%d", id, uint64(h.pa), gotID, gotSeq, id, h.seq)
	}
	w.alloc.Free(h.pa)
	return nil
}

// verify checks both structures once the workers are done, and that no
// block update was lost.
func (w *stressWorld) verify() error {
	if err := w.cache.Verify(); err != nil {
		return err
	}
	if err := w.alloc.Verify(); err != nil {
		return err
	}
	if n := w.alloc.Stats().Allocated; n != 0 {
		return fmt.Errorf("kalloc: %d pages still allocated", n)
	}

	var total uint64
	for blk := 0; blk < stressBlocks; blk++ {
		b := w.cache.Read(stressDev, uint32(blk))
		total += uint64(binary.LittleEndian.Uint32(b.Data()[4:]))
		w.cache.Release(b)
	}
	if want := w.updates.Load(); total != want {
		return fmt.Errorf("bcache: %d block updates recorded, %d performed", total, want)
	}
	return nil
}

func printStressReport(rep stressReport) {
	lookups := rep.Cache.Hits + rep.Cache.Misses
	printInfo("\nStress: %d workers x %s ops in %s\n", rep.Workers, formatNumber(rep.Ops), rep.Elapsed.Round(time.Millisecond))
	printInfo("%s\n\n", strings.Repeat("=", 40))

	printInfo("Buffer cache:\n")
	printInfo("  Lookups: %s (%.1f%% hits)\n", formatNumber(lookups), percent(rep.Cache.Hits, lookups))
	printInfo("  Recycled: %s\n", formatNumber(rep.Cache.Recycles))
	printInfo("  Disk reads: %s, writes: %s\n", formatNumber(rep.Cache.Reads), formatNumber(rep.Cache.Writes))
	printInfo("  Block updates: %s\n\n", formatNumber(rep.Updates))

	printInfo("Page allocator:\n")
	printInfo("  Pages: %s of %s\n", formatNumber(rep.Alloc.Pages), formatBytes(int64(rep.Alloc.PageSize)))
	printInfo("  Steals: %s\n", formatNumber(rep.Alloc.Steals))
	printInfo("  Out of memory: %s\n\n", formatNumber(rep.OOM))

	printLockTable("Cache locks", rep.CacheLocks)
	printLockTable("Allocator locks", rep.AllocLocks)
}

// printLockTable lists locks by contended spins, busiest first.
func printLockTable(title string, stats []lock.Stats) {
	sorted := append([]lock.Stats(nil), stats...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Spins > sorted[j].Spins })

	printInfo("%s:\n", title)
	for _, s := range sorted {
		printInfo("  %-12s acquires %12s  spins %12s\n", s.Name, formatNumber(s.Acquires), formatNumber(s.Spins))
	}
	printInfo("\n")
}
