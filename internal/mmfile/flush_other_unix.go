//go:build unix && !linux && !freebsd && !darwin

package mmfile

import (
	"os"

	"golang.org/x/sys/unix"
)

func (m *Mapping) flushRange(_, _ int) error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

func fdatasync(f *os.File, _ bool) error {
	return unix.Fsync(int(f.Fd()))
}
