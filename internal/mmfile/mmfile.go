// Package mmfile provides platform-specific helpers for backing arenas and
// disk images with memory mappings.
//
// On Unix, Open maps the file MAP_SHARED read-write so stores into Bytes()
// reach the page cache directly, and Flush/Sync push them to stable storage
// with msync and fdatasync. Elsewhere the file is read into memory and
// Flush writes ranges back explicitly.
package mmfile

import (
	"errors"
	"os"
)

// ErrClosed is returned by operations on a closed mapping.
var ErrClosed = errors.New("mmfile: mapping closed")

// Mapping is a read-write view of an entire file.
type Mapping struct {
	f    *os.File
	data []byte
}

// Bytes returns the mapped contents. The slice is invalid after Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Len returns the mapped length.
func (m *Mapping) Len() int { return len(m.data) }

// Flush makes data[off:off+n] durable in the page cache. The range is widened
// to page boundaries and clipped to the mapping.
func (m *Mapping) Flush(off, n int) error {
	if m.data == nil {
		return ErrClosed
	}
	start, end := pageRange(off, n, len(m.data))
	if start >= end {
		return nil
	}
	return m.flushRange(start, end)
}

// Sync forces written data to stable storage. full requests the strongest
// guarantee the platform offers (F_FULLFSYNC on macOS).
func (m *Mapping) Sync(full bool) error {
	if m.f == nil {
		return ErrClosed
	}
	return fdatasync(m.f, full)
}

func pageRange(off, n, limit int) (int, int) {
	ps := os.Getpagesize()
	if off < 0 {
		off = 0
	}
	end := off + n
	if end > limit {
		end = limit
	}
	start := (off / ps) * ps
	if end%ps != 0 {
		end = ((end / ps) + 1) * ps
		if end > limit {
			end = limit
		}
	}
	return start, end
}
