package bcache

import "github.com/joshuapare/kpool/pkg/types"

// Buf is a caller's hold on one cached block, valid from Get or Read until
// Release.
type Buf struct {
	c     *Cache
	idx   int
	token uint64
}

// Dev returns the device id of the cached block. Only the holder may call
// it; a released buffer may already cache another block.
func (b *Buf) Dev() uint32 {
	if !b.check("bdev") {
		return NoDev
	}
	return b.c.bufs[b.idx].dev
}

// Blockno returns the block number of the cached block. Only the holder may
// call it.
func (b *Buf) Blockno() uint32 {
	if !b.check("bblockno") {
		return 0
	}
	return b.c.bufs[b.idx].blockno
}

// Valid reports whether Data holds the block's contents. Only the holder may
// call it.
func (b *Buf) Valid() bool {
	if !b.check("bvalid") {
		return false
	}
	return b.c.bufs[b.idx].valid
}

// Data returns the block payload. Only the holder may call it.
func (b *Buf) Data() []byte {
	if !b.check("bdata") {
		return nil
	}
	return b.c.bufs[b.idx].data
}

func (b *Buf) check(op string) bool {
	if !b.c.holding(b) {
		b.c.fatal(op, types.ErrNotHeld)
		return false
	}
	return true
}

// Held reports whether the caller still holds b.
func (b *Buf) Held() bool { return b.c.holding(b) }
