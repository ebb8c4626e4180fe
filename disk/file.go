package disk

import (
	"context"
	"fmt"
	"os"

	"github.com/joshuapare/kpool/internal/buf"
	"github.com/joshuapare/kpool/internal/mmfile"
)

const (
	// HeaderSize is the size of the image header page.
	HeaderSize = 0x1000

	imageMagic   = 0x4944504b // "KPDI" little-endian
	imageVersion = 1

	offMagic     = 0x0
	offVersion   = 0x4
	offBlockSize = 0x8
	offNBlocks   = 0xC
)

// File is a disk image served as a single device.
type File struct {
	m         *mmfile.Mapping
	dev       uint32
	blockSize int
	nblocks   int

	writeThrough bool
	dirty        *dirtySet
}

// FileOptions configures OpenFile.
type FileOptions struct {
	// Dev is the device id the image answers to.
	Dev uint32
	// WriteThrough msyncs every block as it is written. Otherwise writes
	// stay dirty until Flush.
	WriteThrough bool
}

// CreateFile writes an empty image of nblocks blocks of blockSize bytes.
// An existing file at path is truncated.
func CreateFile(path string, blockSize, nblocks int) error {
	if blockSize <= 0 || nblocks <= 0 {
		return fmt.Errorf("%w: block size %d, blocks %d", ErrFormat, blockSize, nblocks)
	}
	body, ok := buf.MulOverflowSafe(blockSize, nblocks)
	if !ok {
		return fmt.Errorf("%w: image too large", ErrFormat)
	}
	size, ok := buf.AddOverflowSafe(HeaderSize, body)
	if !ok {
		return fmt.Errorf("%w: image too large", ErrFormat)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	hdr := make([]byte, HeaderSize)
	buf.PutU32LE(hdr[offMagic:], imageMagic)
	buf.PutU32LE(hdr[offVersion:], imageVersion)
	buf.PutU32LE(hdr[offBlockSize:], uint32(blockSize))
	buf.PutU32LE(hdr[offNBlocks:], uint32(nblocks))
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// OpenFile maps an image created by CreateFile. A nil opts serves device 0
// with write-through enabled.
func OpenFile(path string, opts *FileOptions) (*File, error) {
	if opts == nil {
		opts = &FileOptions{WriteThrough: true}
	}
	m, err := mmfile.Open(path)
	if err != nil {
		return nil, err
	}
	data := m.Bytes()
	if len(data) < HeaderSize || buf.U32LE(data[offMagic:]) != imageMagic {
		m.Close()
		return nil, fmt.Errorf("%w: %s: bad magic", ErrFormat, path)
	}
	if v := buf.U32LE(data[offVersion:]); v != imageVersion {
		m.Close()
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrFormat, path, v)
	}
	bs := int(buf.U32LE(data[offBlockSize:]))
	nb := int(buf.U32LE(data[offNBlocks:]))
	if bs <= 0 || nb <= 0 {
		m.Close()
		return nil, fmt.Errorf("%w: %s: block size %d, blocks %d", ErrFormat, path, bs, nb)
	}
	if _, ok := buf.Block(data, HeaderSize, nb-1, bs); !ok {
		m.Close()
		return nil, fmt.Errorf("%w: %s: image shorter than %d blocks", ErrFormat, path, nb)
	}

	return &File{
		m:            m,
		dev:          opts.Dev,
		blockSize:    bs,
		nblocks:      nb,
		writeThrough: opts.WriteThrough,
		dirty:        newDirtySet(int64(os.Getpagesize())),
	}, nil
}

// BlockSize implements Driver.
func (f *File) BlockSize() int { return f.blockSize }

// NBlocks returns the number of blocks in the image.
func (f *File) NBlocks() int { return f.nblocks }

// Dev returns the device id the image answers to.
func (f *File) Dev() uint32 { return f.dev }

// ReadBlock implements Driver.
func (f *File) ReadBlock(dev, blockno uint32, p []byte) error {
	blk, _, err := f.block(dev, blockno, p)
	if err != nil {
		return err
	}
	copy(p, blk)
	return nil
}

// WriteBlock implements Driver.
func (f *File) WriteBlock(dev, blockno uint32, p []byte) error {
	blk, off, err := f.block(dev, blockno, p)
	if err != nil {
		return err
	}
	copy(blk, p)
	if f.writeThrough {
		return f.m.Flush(off, f.blockSize)
	}
	f.dirty.add(int64(off), int64(f.blockSize))
	return nil
}

// Dirty reports how many writes are waiting for Flush.
func (f *File) Dirty() int { return f.dirty.len() }

// Flush pushes dirty blocks to stable storage according to mode.
//
// The context is checked between ranges; if cancelled, the unflushed ranges
// stay dirty and ctx.Err() is returned.
func (f *File) Flush(ctx context.Context, mode FlushMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ranges := f.dirty.take()
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			f.dirty.restore(ranges[i:])
			return err
		}
		if err := f.m.Flush(int(r.Off), int(r.Len)); err != nil {
			f.dirty.restore(ranges[i:])
			return fmt.Errorf("disk: flush [%d,+%d): %w", r.Off, r.Len, err)
		}
	}

	if mode == FlushDataOnly {
		return nil
	}
	if err := f.m.Flush(0, HeaderSize); err != nil {
		return fmt.Errorf("disk: flush header: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.m.Sync(mode == FlushFull)
}

// Close unmaps the image. Dirty blocks not yet flushed reach the file on
// Unix through the shared mapping but are not synced.
func (f *File) Close() error {
	return f.m.Close()
}

func (f *File) block(dev, blockno uint32, p []byte) ([]byte, int, error) {
	if dev != f.dev {
		return nil, 0, fmt.Errorf("%w: %d", ErrNoDevice, dev)
	}
	if err := checkTransfer(p, f.blockSize, blockno, f.nblocks); err != nil {
		return nil, 0, err
	}
	off := HeaderSize + int(blockno)*f.blockSize
	blk, ok := buf.Block(f.m.Bytes(), HeaderSize, int(blockno), f.blockSize)
	if !ok {
		return nil, 0, fmt.Errorf("%w: block %d", ErrRange, blockno)
	}
	return blk, off, nil
}
