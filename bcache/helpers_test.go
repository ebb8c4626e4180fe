package bcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kpool/disk"
	"github.com/joshuapare/kpool/pkg/types"
)

const testDev = 1

// newTestCache builds a cache of nbuf 64-byte buffers over a RAM disk.
func newTestCache(t testing.TB, nbuf, nbucket int) (*Cache, *disk.Mem) {
	t.Helper()
	d, err := disk.NewMem(&disk.MemConfig{BlockSize: 64, NBlocks: 512})
	require.NoError(t, err)
	c, err := New(d, &Config{NBuf: nbuf, NBucket: nbucket})
	require.NoError(t, err)
	return c, d
}

// requireFatal runs fn and requires it to abort with an error matching target.
func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		fe, ok := r.(*types.FatalError)
		require.True(t, ok, "expected *types.FatalError panic, got %v", r)
		require.ErrorIs(t, fe, target)
	}()
	fn()
}

// readRelease reads blockno and releases it immediately.
func readRelease(c *Cache, blockno uint32) {
	c.Release(c.Read(testDev, blockno))
}
