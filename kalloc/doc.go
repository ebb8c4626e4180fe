// Package kalloc is a physical page allocator with one freelist per CPU.
//
// An Allocator manages an arena of physical addresses [Start, End). The
// arena is cut into NCPU contiguous regions of (End-Start)/NCPU bytes, and
// the last region absorbs whatever the integer division left over. Every
// page belongs to exactly one region for its whole life, and a freed page
// always returns to its owner's freelist, whichever CPU frees it.
//
// Alloc(cpu) pops from that CPU's freelist. When it is empty the other
// freelists are tried in ascending order, one pop attempt each, so a drained
// CPU borrows pages rather than failing. Only when every freelist is empty
// does Alloc return types.ErrNoMemory.
//
// Allocated pages are filled with JunkAlloc and freed pages with JunkFree,
// which makes reads of uninitialized or dangling pages easy to spot.
//
// Freeing a misaligned or foreign address, or a page that is already free,
// is an invariant violation reported through Config.Abort (a panic with a
// *types.FatalError by default).
//
// Each shard is guarded by its own spin lock; no operation holds two shard
// locks or blocks for anything but a spin lock.
package kalloc
