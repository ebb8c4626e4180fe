package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Two workers bump a shared counter under the lock; no increment may be lost.
func TestSpin_Counter(t *testing.T) {
	var (
		l     = NewSpin("count")
		count int
		wg    sync.WaitGroup
	)

	const perWorker = 1000
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				l.Lock()
				count++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 2*perWorker, count)
	st := l.Stats()
	require.Equal(t, "count", st.Name)
	require.Equal(t, uint64(2*perWorker), st.Acquires)
}

func TestSpin_TryLock(t *testing.T) {
	l := NewSpin("try")
	require.True(t, l.TryLock())
	require.True(t, l.Locked())
	require.False(t, l.TryLock())
	l.Unlock()
	require.False(t, l.Locked())
}

func TestSpin_UnlockUnlockedPanics(t *testing.T) {
	l := NewSpin("bad")
	require.Panics(t, func() { l.Unlock() })
}
