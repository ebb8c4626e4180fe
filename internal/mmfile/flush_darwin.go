//go:build darwin

package mmfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// flushRange syncs the whole mapping. macOS msync requires the original
// mmap address, so sub-slices cannot be passed; the kernel only writes the
// dirty pages anyway.
func (m *Mapping) flushRange(_, _ int) error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

// fdatasync uses F_FULLFSYNC when full is set, fsync otherwise.
func fdatasync(f *os.File, full bool) error {
	if full {
		_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
		return err
	}
	return unix.Fsync(int(f.Fd()))
}
