// Package bcache provides a sharded disk-block buffer cache.
//
// # Overview
//
// The cache holds a fixed pool of block-sized buffers. Each buffer caches one
// (device, block number) pair and carries a sleep lock that serializes access
// to its contents. Callers get a locked buffer, use it, and release it:
//
//	b := c.Read(dev, blockno)
//	copy(b.Data()[off:], payload)
//	c.Write(b)
//	c.Release(b)
//
// Do not use a Buf after Release; every accessor checks that the caller still
// holds the buffer and aborts otherwise.
//
// # Sharding
//
// Buffers live in NBucket independently locked buckets, each a circular LRU
// list with the most recently released buffer at the front. A block's home
// bucket is blockno % NBucket. A lookup only takes its home bucket's lock.
//
// On a miss the cache recycles an unreferenced buffer: it scans the other
// buckets in ascending order, each from its least recently used end, moves
// the first unreferenced buffer it finds into the home bucket, and re-tags
// it. The home bucket itself is scanned last. Recency is therefore per bucket
// only; there is no global LRU order.
//
// At most one bucket lock is held at any instant, and a buffer's sleep lock
// is only taken after its bucket lock is released, so a long disk transfer
// never blocks bookkeeping on unrelated blocks.
//
// # Reference Counts
//
// A buffer with a nonzero reference count is never recycled. Get and Read
// take a reference, Release drops it. Pin and Unpin adjust the count without
// touching the lock, keeping a block resident across releases.
//
// # Fatal Conditions
//
// Pool exhaustion, writing or releasing a buffer the caller does not hold,
// and disk I/O errors are invariant violations. They are reported to
// Config.Abort as *types.FatalError, which panics by default.
package bcache
