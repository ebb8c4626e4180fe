//go:build linux || freebsd

package mmfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// flushRange msyncs a page-aligned sub-slice of the mapping.
func (m *Mapping) flushRange(start, end int) error {
	return unix.Msync(m.data[start:end], unix.MS_SYNC)
}

// fdatasync ignores full; fdatasync is sufficient on Linux and FreeBSD.
func fdatasync(f *os.File, _ bool) error {
	return unix.Fdatasync(int(f.Fd()))
}
