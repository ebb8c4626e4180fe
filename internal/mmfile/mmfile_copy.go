//go:build !unix

package mmfile

import (
	"fmt"
	"io"
	"os"
)

// Open reads the whole file into memory where mmap is not used. Flush writes
// ranges back to the file.
func Open(path string) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("mmfile: empty file: %s", path)
	}
	data := make([]byte, st.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, err
	}
	return &Mapping{f: f, data: data}, nil
}

// Close closes the file. Closing twice is a no-op.
func (m *Mapping) Close() error {
	m.data = nil
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

func (m *Mapping) flushRange(start, end int) error {
	_, err := m.f.WriteAt(m.data[start:end], int64(start))
	return err
}

// Anon allocates size bytes from the Go heap.
func Anon(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("mmfile: invalid anonymous mapping size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}
