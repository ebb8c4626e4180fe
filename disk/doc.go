// Package disk provides the block device drivers the buffer cache reads
// from and writes to.
//
// # Driver Interface
//
// A Driver transfers one fixed-size block synchronously:
//
//   - ReadBlock(dev, blockno, p): fill p with the block's contents
//   - WriteBlock(dev, blockno, p): persist p as the block's contents
//
// When either call returns nil the transfer is complete. Drivers never retry.
//
// # Implementations
//
// Mem: a RAM disk serving any number of device ids, with per-block I/O
// counters and error injection for tests and the stress command.
//
// File: a single-device disk image memory-mapped read-write. The image
// starts with a 4KB header page followed by the blocks:
//
//	0x0000  magic "KPDI"
//	0x0004  version (1)
//	0x0008  block size
//	0x000C  block count
//	0x1000  block 0
//
// Writes land in the mapping and are tracked as dirty ranges; they are
// pushed to stable storage immediately (WriteThrough) or by Flush.
package disk
