//go:build windows

package mmfile

import (
	"os"

	"golang.org/x/sys/windows"
)

// fdatasync uses FlushFileBuffers, which covers data and metadata. full is ignored.
func fdatasync(f *os.File, _ bool) error {
	return windows.FlushFileBuffers(windows.Handle(f.Fd()))
}
