package disk

import (
	"sort"
	"sync"
)

// FlushMode controls durability of File.Flush.
type FlushMode int

const (
	// FlushAuto msyncs dirty blocks and the header, then fdatasyncs.
	FlushAuto FlushMode = iota

	// FlushDataOnly only msyncs dirty blocks. The caller syncs later.
	FlushDataOnly

	// FlushFull is FlushAuto with F_FULLFSYNC on macOS.
	FlushFull
)

// Range is a dirty byte range of the image (absolute offsets).
type Range struct {
	Off int64
	Len int64
}

// dirtySet accumulates written ranges until they are flushed.
type dirtySet struct {
	mu       sync.Mutex
	ranges   []Range
	pageSize int64
}

func newDirtySet(pageSize int64) *dirtySet {
	return &dirtySet{
		ranges:   make([]Range, 0, 64),
		pageSize: pageSize,
	}
}

func (d *dirtySet) add(off, length int64) {
	d.mu.Lock()
	d.ranges = append(d.ranges, Range{Off: off, Len: length})
	d.mu.Unlock()
}

// take returns the coalesced ranges and clears the set.
func (d *dirtySet) take() []Range {
	d.mu.Lock()
	ranges := d.ranges
	d.ranges = make([]Range, 0, cap(ranges))
	d.mu.Unlock()
	return coalesce(ranges, d.pageSize)
}

// restore puts ranges back after a failed flush.
func (d *dirtySet) restore(ranges []Range) {
	d.mu.Lock()
	d.ranges = append(d.ranges, ranges...)
	d.mu.Unlock()
}

func (d *dirtySet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ranges)
}

// coalesce page-aligns ranges, sorts them, and merges overlapping or
// adjacent ones.
func coalesce(ranges []Range, pageSize int64) []Range {
	if len(ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(ranges))
	for i, r := range ranges {
		start := (r.Off / pageSize) * pageSize
		end := r.Off + r.Len
		if end%pageSize != 0 {
			end = ((end / pageSize) + 1) * pageSize
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			if end := next.Off + next.Len; end > current.Off+current.Len {
				current.Len = end - current.Off
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}
