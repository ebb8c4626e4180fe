package bcache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/joshuapare/kpool/disk"
	"github.com/joshuapare/kpool/internal/lock"
	"github.com/joshuapare/kpool/internal/logger"
	"github.com/joshuapare/kpool/pkg/types"
)

// NoDev tags a buffer that caches no block.
const NoDev = ^uint32(0)

// Config sizes the cache.
type Config struct {
	NBuf    int // Buffers in the pool
	NBucket int // Independently locked buckets

	// Logger receives debug records for recycling and an error record before
	// every abort. Nil means logger.L.
	Logger *slog.Logger

	// Abort receives fatal errors. Nil means types.PanicAbort.
	Abort types.AbortFunc
}

// DefaultConfig is a 30-buffer pool over 13 buckets.
var DefaultConfig = Config{
	NBuf:    30,
	NBucket: 13,
}

type buffer struct {
	dev     uint32
	blockno uint32
	valid   bool   // data holds the block's contents
	refcnt  int    // guarded by the lock of bucket
	bucket  int    // list the buffer is on
	lock    *lock.Sleep
	data    []byte
}

type bucket struct {
	lock lock.Spin
}

// Cache is a fixed pool of block buffers sharded into LRU buckets.
type Cache struct {
	drv       disk.Driver
	blockSize int

	bufs    []buffer
	buckets []bucket
	lru     links

	tokens atomic.Uint64

	log   *slog.Logger
	abort types.AbortFunc
	stats cacheStats
}

// New creates a cache over drv. A nil cfg means DefaultConfig.
func New(drv disk.Driver, cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = &DefaultConfig
	}
	if drv == nil {
		return nil, fmt.Errorf("bcache: %w: nil driver", types.ErrConfig)
	}
	if cfg.NBuf <= 0 || cfg.NBucket <= 0 {
		return nil, fmt.Errorf("bcache: %w: %d buffers, %d buckets", types.ErrConfig, cfg.NBuf, cfg.NBucket)
	}
	bs := drv.BlockSize()
	if bs <= 0 {
		return nil, fmt.Errorf("bcache: %w: block size %d", types.ErrConfig, bs)
	}

	c := &Cache{
		drv:       drv,
		blockSize: bs,
		bufs:      make([]buffer, cfg.NBuf),
		buckets:   make([]bucket, cfg.NBucket),
		lru:       newLinks(cfg.NBuf, cfg.NBucket),
		log:       logger.Or(cfg.Logger),
		abort:     cfg.Abort,
	}
	if c.abort == nil {
		c.abort = types.PanicAbort
	}

	for s := range c.buckets {
		c.buckets[s].lock.Init("bcache." + strconv.Itoa(s))
	}

	// One contiguous payload arena; each buffer gets a capacity-clipped window.
	arena := make([]byte, cfg.NBuf*bs)
	for i := range c.bufs {
		b := &c.bufs[i]
		b.dev = NoDev
		b.lock = lock.NewSleep("buffer")
		b.data = arena[i*bs : (i+1)*bs : (i+1)*bs]
		b.bucket = i % cfg.NBucket
		c.lru.pushFront(b.bucket, i)
	}
	return c, nil
}

// BlockSize returns the payload size of every buffer.
func (c *Cache) BlockSize() int { return c.blockSize }

// NBuf returns the pool size.
func (c *Cache) NBuf() int { return len(c.bufs) }

func (c *Cache) home(blockno uint32) int {
	return int(blockno % uint32(len(c.buckets)))
}

// Get returns the locked buffer for (dev, blockno), recycling an unreferenced
// buffer on a miss. The contents are only meaningful if Valid reports true.
// Get suspends while another caller holds the buffer.
//
// A miss takes the least recently used free buffer of the first bucket
// that has one, scanning bucket indexes in ascending order and skipping the
// home bucket (blockno % NBucket). Unlike a pure skip-home scan, the home
// bucket's own free buffers are tried last before the pool is declared
// exhausted, so ErrNoBuffers means every buffer is referenced.
func (c *Cache) Get(dev, blockno uint32) *Buf {
	b, _ := c.get(context.Background(), dev, blockno)
	return b
}

// GetContext is Get with a cancellable wait for the buffer's lock. On
// cancellation the reference is dropped and ctx.Err() returned.
func (c *Cache) GetContext(ctx context.Context, dev, blockno uint32) (*Buf, error) {
	return c.get(ctx, dev, blockno)
}

func (c *Cache) get(ctx context.Context, dev, blockno uint32) (*Buf, error) {
	if dev == NoDev {
		c.fatal("bget", fmt.Errorf("%w: device id %#x is reserved", types.ErrConfig, dev))
		return nil, types.ErrConfig
	}
	s := c.home(blockno)
	home := &c.buckets[s]

	home.lock.Lock()
	if i, ok := c.lookup(s, dev, blockno); ok {
		c.bufs[i].refcnt++
		home.lock.Unlock()
		c.stats.hits.Add(1)
		return c.lockBuf(ctx, i)
	}
	home.lock.Unlock()
	c.stats.misses.Add(1)

	// Not cached. Recycle the least recently used unreferenced buffer of
	// the first other bucket that has one.
	for j := range c.buckets {
		if j == s {
			continue
		}
		if i, ok := c.steal(j); ok {
			return c.install(ctx, s, i, dev, blockno)
		}
	}

	if b, ok, err := c.recycleHome(ctx, s, dev, blockno); ok {
		return b, err
	}

	c.fatal("bget", fmt.Errorf("%w for block %d/%d", types.ErrNoBuffers, dev, blockno))
	return nil, types.ErrNoBuffers
}

// recycleHome is the last resort of a miss: the home bucket's own least
// recently used free buffer. The key is looked up again first, since a
// concurrent miss may have installed it while the other buckets were
// scanned. ok is false when bucket s has no free buffer either.
func (c *Cache) recycleHome(ctx context.Context, s int, dev, blockno uint32) (*Buf, bool, error) {
	home := &c.buckets[s]
	home.lock.Lock()
	if i, ok := c.lookup(s, dev, blockno); ok {
		c.bufs[i].refcnt++
		home.lock.Unlock()
		c.stats.hits.Add(1)
		b, err := c.lockBuf(ctx, i)
		return b, true, err
	}
	i, ok := c.lruFree(s)
	if !ok {
		home.lock.Unlock()
		return nil, false, nil
	}
	c.retag(i, dev, blockno)
	c.lru.moveFront(s, i)
	home.lock.Unlock()
	c.stats.recycles.Add(1)
	c.log.Debug("bcache: recycle", "dev", dev, "blockno", blockno, "from", s, "to", s)
	b, err := c.lockBuf(ctx, i)
	return b, true, err
}

// lookup finds (dev, blockno) in bucket s. Caller holds s's lock.
func (c *Cache) lookup(s int, dev, blockno uint32) (int, bool) {
	found := -1
	c.lru.each(s, func(i int) bool {
		b := &c.bufs[i]
		if b.dev == dev && b.blockno == blockno {
			found = i
			return false
		}
		return true
	})
	return found, found >= 0
}

// lruFree finds the least recently used unreferenced buffer of bucket s.
// Caller holds s's lock.
func (c *Cache) lruFree(s int) (int, bool) {
	found := -1
	c.lru.eachLRU(s, func(i int) bool {
		if c.bufs[i].refcnt == 0 {
			found = i
			return false
		}
		return true
	})
	return found, found >= 0
}

// steal unlinks an unreferenced buffer from bucket j. The buffer is on no
// list afterwards and belongs to the caller alone.
func (c *Cache) steal(j int) (int, bool) {
	bk := &c.buckets[j]
	bk.lock.Lock()
	i, ok := c.lruFree(j)
	if ok {
		c.lru.unlink(i)
	}
	bk.lock.Unlock()
	return i, ok
}

// install puts the stolen buffer i into bucket s as (dev, blockno). If a
// concurrent miss already installed the block, i is parked untagged at the
// cold end of s and the existing buffer is used instead.
func (c *Cache) install(ctx context.Context, s, i int, dev, blockno uint32) (*Buf, error) {
	from := c.bufs[i].bucket
	home := &c.buckets[s]

	home.lock.Lock()
	if k, ok := c.lookup(s, dev, blockno); ok {
		c.bufs[k].refcnt++
		parked := &c.bufs[i]
		parked.dev, parked.blockno, parked.valid = NoDev, 0, false
		parked.bucket = s
		c.lru.pushBack(s, i)
		home.lock.Unlock()
		c.stats.hits.Add(1)
		return c.lockBuf(ctx, k)
	}
	c.retag(i, dev, blockno)
	c.bufs[i].bucket = s
	c.lru.pushFront(s, i)
	home.lock.Unlock()

	c.stats.recycles.Add(1)
	c.log.Debug("bcache: recycle", "dev", dev, "blockno", blockno, "from", from, "to", s)
	return c.lockBuf(ctx, i)
}

// retag points buffer i at a new block with one reference.
func (c *Cache) retag(i int, dev, blockno uint32) {
	b := &c.bufs[i]
	b.dev = dev
	b.blockno = blockno
	b.valid = false
	b.refcnt = 1
}

// lockBuf takes buffer i's sleep lock for a fresh holder token. The caller
// already holds a reference.
func (c *Cache) lockBuf(ctx context.Context, i int) (*Buf, error) {
	token := c.tokens.Add(1)
	if err := c.bufs[i].lock.LockContext(ctx, token); err != nil {
		c.unref(i)
		return nil, err
	}
	return &Buf{c: c, idx: i, token: token}, nil
}

// Read returns a locked buffer holding the contents of (dev, blockno),
// reading from disk only if the buffer is not already valid.
func (c *Cache) Read(dev, blockno uint32) *Buf {
	b, _ := c.ReadContext(context.Background(), dev, blockno)
	return b
}

// ReadContext is Read with a cancellable wait for the buffer's lock.
func (c *Cache) ReadContext(ctx context.Context, dev, blockno uint32) (*Buf, error) {
	b, err := c.get(ctx, dev, blockno)
	if err != nil {
		return nil, err
	}
	buf := &c.bufs[b.idx]
	if !buf.valid {
		if err := c.drv.ReadBlock(dev, blockno, buf.data); err != nil {
			// Give the buffer back so the block stays usable if the
			// abort handler returns.
			buf.lock.Unlock(b.token)
			c.unref(b.idx)
			err = ioError(dev, blockno, err)
			c.fatal("bread", err)
			return nil, err
		}
		c.stats.reads.Add(1)
		buf.valid = true
	}
	return b, nil
}

// Write writes b's contents to disk. The caller must hold b.
func (c *Cache) Write(b *Buf) {
	if !c.holding(b) {
		c.fatal("bwrite", types.ErrNotHeld)
		return
	}
	buf := &c.bufs[b.idx]
	if err := c.drv.WriteBlock(buf.dev, buf.blockno, buf.data); err != nil {
		c.fatal("bwrite", ioError(buf.dev, buf.blockno, err))
		return
	}
	c.stats.writes.Add(1)
}

// Release unlocks b and drops its reference. When no references remain the
// buffer becomes the most recently used in its bucket.
func (c *Cache) Release(b *Buf) {
	if !c.holding(b) {
		c.fatal("brelse", types.ErrNotHeld)
		return
	}
	c.bufs[b.idx].lock.Unlock(b.token)
	c.unref(b.idx)
}

func (c *Cache) unref(i int) {
	buf := &c.bufs[i]
	bk := &c.buckets[buf.bucket]
	bk.lock.Lock()
	buf.refcnt--
	if buf.refcnt == 0 {
		c.lru.moveFront(buf.bucket, i)
	}
	bk.lock.Unlock()
}

// Pin takes an extra reference on b so it stays resident after Release.
// b must currently be referenced.
func (c *Cache) Pin(b *Buf) {
	buf := &c.bufs[b.idx]
	bk := &c.buckets[buf.bucket]
	bk.lock.Lock()
	buf.refcnt++
	bk.lock.Unlock()
}

// Unpin drops a reference taken by Pin.
func (c *Cache) Unpin(b *Buf) {
	buf := &c.bufs[b.idx]
	bk := &c.buckets[buf.bucket]
	bk.lock.Lock()
	if buf.refcnt == 0 {
		bk.lock.Unlock()
		c.fatal("bunpin", fmt.Errorf("%w: block %d/%d", types.ErrRefUnderflow, buf.dev, buf.blockno))
		return
	}
	buf.refcnt--
	bk.lock.Unlock()
}

func (c *Cache) holding(b *Buf) bool {
	return b != nil && b.c == c && c.bufs[b.idx].lock.Holding(b.token)
}
