package disk

import (
	"errors"
	"fmt"
)

var (
	// ErrRange indicates a block number beyond the end of the device.
	ErrRange = errors.New("disk: block out of range")

	// ErrNoDevice indicates a device id the driver does not serve.
	ErrNoDevice = errors.New("disk: no such device")

	// ErrSize indicates a transfer buffer whose length is not the block size.
	ErrSize = errors.New("disk: transfer size mismatch")

	// ErrFormat indicates a disk image with a bad header.
	ErrFormat = errors.New("disk: bad image header")
)

// Driver is a synchronous block device.
type Driver interface {
	// BlockSize is the fixed transfer size in bytes.
	BlockSize() int

	// ReadBlock fills p with block blockno of device dev.
	ReadBlock(dev, blockno uint32, p []byte) error

	// WriteBlock persists p as block blockno of device dev.
	WriteBlock(dev, blockno uint32, p []byte) error
}

// Key names one block on one device.
type Key struct {
	Dev     uint32
	Blockno uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Dev, k.Blockno)
}

func checkTransfer(p []byte, blockSize int, blockno uint32, nblocks int) error {
	if len(p) != blockSize {
		return fmt.Errorf("%w: got %d bytes, block size %d", ErrSize, len(p), blockSize)
	}
	if int64(blockno) >= int64(nblocks) {
		return fmt.Errorf("%w: block %d of %d", ErrRange, blockno, nblocks)
	}
	return nil
}
