package disk

import (
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/joshuapare/kpool/internal/buf"
)

// MemConfig sizes a RAM disk.
type MemConfig struct {
	BlockSize int           // Bytes per block
	NBlocks   int           // Blocks per device
	Delay     time.Duration // Simulated latency per transfer; zero for none
}

// DefaultMemConfig matches the buffer cache's default block size.
var DefaultMemConfig = MemConfig{
	BlockSize: 1024,
	NBlocks:   2000,
}

// Mem is a RAM disk. Device storage is created on first touch, so any device
// id is valid. Safe for concurrent use on distinct blocks.
type Mem struct {
	cfg MemConfig

	devs   *xsync.MapOf[uint32, []byte]
	reads  *xsync.MapOf[Key, *xsync.Counter]
	writes *xsync.MapOf[Key, *xsync.Counter]
	faults *xsync.MapOf[Key, error]

	totalReads  *xsync.Counter
	totalWrites *xsync.Counter
}

// NewMem creates a RAM disk. A nil config means DefaultMemConfig.
func NewMem(cfg *MemConfig) (*Mem, error) {
	if cfg == nil {
		cfg = &DefaultMemConfig
	}
	if cfg.BlockSize <= 0 || cfg.NBlocks <= 0 {
		return nil, fmt.Errorf("disk: invalid mem config: block size %d, blocks %d", cfg.BlockSize, cfg.NBlocks)
	}
	if _, ok := buf.MulOverflowSafe(cfg.BlockSize, cfg.NBlocks); !ok {
		return nil, fmt.Errorf("disk: mem device too large: %d x %d", cfg.BlockSize, cfg.NBlocks)
	}
	return &Mem{
		cfg:         *cfg,
		devs:        xsync.NewMapOf[uint32, []byte](),
		reads:       xsync.NewMapOf[Key, *xsync.Counter](),
		writes:      xsync.NewMapOf[Key, *xsync.Counter](),
		faults:      xsync.NewMapOf[Key, error](),
		totalReads:  xsync.NewCounter(),
		totalWrites: xsync.NewCounter(),
	}, nil
}

// BlockSize implements Driver.
func (m *Mem) BlockSize() int { return m.cfg.BlockSize }

// NBlocks returns the number of blocks per device.
func (m *Mem) NBlocks() int { return m.cfg.NBlocks }

// ReadBlock implements Driver.
func (m *Mem) ReadBlock(dev, blockno uint32, p []byte) error {
	blk, err := m.block(dev, blockno, p)
	if err != nil {
		return err
	}
	count(m.reads, Key{dev, blockno})
	m.totalReads.Inc()
	copy(p, blk)
	return nil
}

// WriteBlock implements Driver.
func (m *Mem) WriteBlock(dev, blockno uint32, p []byte) error {
	blk, err := m.block(dev, blockno, p)
	if err != nil {
		return err
	}
	count(m.writes, Key{dev, blockno})
	m.totalWrites.Inc()
	copy(blk, p)
	return nil
}

// Reads returns how many times the block was read.
func (m *Mem) Reads(dev, blockno uint32) int64 {
	if c, ok := m.reads.Load(Key{dev, blockno}); ok {
		return c.Value()
	}
	return 0
}

// Writes returns how many times the block was written.
func (m *Mem) Writes(dev, blockno uint32) int64 {
	if c, ok := m.writes.Load(Key{dev, blockno}); ok {
		return c.Value()
	}
	return 0
}

// TotalReads returns the number of reads across all blocks.
func (m *Mem) TotalReads() int64 { return m.totalReads.Value() }

// TotalWrites returns the number of writes across all blocks.
func (m *Mem) TotalWrites() int64 { return m.totalWrites.Value() }

// InjectFault makes every transfer of the block fail with err until
// ClearFault is called.
func (m *Mem) InjectFault(dev, blockno uint32, err error) {
	m.faults.Store(Key{dev, blockno}, err)
}

// ClearFault removes an injected fault.
func (m *Mem) ClearFault(dev, blockno uint32) {
	m.faults.Delete(Key{dev, blockno})
}

// Peek returns a copy of the stored block without counting a read.
func (m *Mem) Peek(dev, blockno uint32) []byte {
	out := make([]byte, m.cfg.BlockSize)
	if blk, err := m.block(dev, blockno, out); err == nil {
		copy(out, blk)
	}
	return out
}

func (m *Mem) block(dev, blockno uint32, p []byte) ([]byte, error) {
	if err := checkTransfer(p, m.cfg.BlockSize, blockno, m.cfg.NBlocks); err != nil {
		return nil, err
	}
	if err, ok := m.faults.Load(Key{dev, blockno}); ok {
		return nil, fmt.Errorf("disk: block %d/%d: %w", dev, blockno, err)
	}
	if m.cfg.Delay > 0 {
		time.Sleep(m.cfg.Delay)
	}
	data, _ := m.devs.LoadOrCompute(dev, func() []byte {
		return make([]byte, m.cfg.BlockSize*m.cfg.NBlocks)
	})
	blk, ok := buf.Block(data, 0, int(blockno), m.cfg.BlockSize)
	if !ok {
		return nil, fmt.Errorf("%w: block %d", ErrRange, blockno)
	}
	return blk, nil
}

func count(m *xsync.MapOf[Key, *xsync.Counter], k Key) {
	c, _ := m.LoadOrCompute(k, xsync.NewCounter)
	c.Inc()
}
