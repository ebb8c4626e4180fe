package lock

import (
	"context"
	"sync/atomic"
)

// Sleep is a blocking lock owned by a token. Token 0 means "no holder" and
// must not be used by callers.
type Sleep struct {
	name   string
	sem    chan struct{}
	holder atomic.Uint64
}

// NewSleep returns an unlocked sleep lock labelled name.
func NewSleep(name string) *Sleep {
	return &Sleep{
		name: name,
		sem:  make(chan struct{}, 1),
	}
}

// Name returns the debug label.
func (l *Sleep) Name() string { return l.name }

// Lock blocks until the lock is free, then records id as the holder.
func (l *Sleep) Lock(id uint64) {
	l.sem <- struct{}{}
	l.holder.Store(id)
}

// LockContext is Lock with cancellation. It returns ctx.Err() without the
// lock if ctx is done before the lock becomes free.
func (l *Sleep) LockContext(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l.sem <- struct{}{}:
		l.holder.Store(id)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the lock held by id. It panics if id is not the holder.
func (l *Sleep) Unlock(id uint64) {
	if id == 0 || !l.holder.CompareAndSwap(id, 0) {
		panic("lock: release of sleep lock " + l.name + " by non-holder")
	}
	<-l.sem
}

// Holding reports whether id holds the lock.
func (l *Sleep) Holding(id uint64) bool {
	return id != 0 && l.holder.Load() == id
}
