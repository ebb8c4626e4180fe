package lock

import (
	"runtime"
	"sync/atomic"
)

// Spin is a non-reentrant spin lock. The zero value is an unlocked lock with
// an empty name; use Init or NewSpin to give it a debug label.
type Spin struct {
	name   string
	locked atomic.Uint32

	acquires atomic.Uint64
	spins    atomic.Uint64
}

// Stats is a snapshot of a lock's contention counters.
type Stats struct {
	Name     string `json:"name"`
	Acquires uint64 `json:"acquires"`
	Spins    uint64 `json:"spins"` // failed test-and-set attempts
}

// NewSpin returns an unlocked spin lock labelled name.
func NewSpin(name string) *Spin {
	l := &Spin{}
	l.Init(name)
	return l
}

// Init labels an unlocked lock. It must not be called while the lock is in use.
func (l *Spin) Init(name string) {
	l.name = name
}

// Name returns the debug label.
func (l *Spin) Name() string { return l.name }

// Lock acquires the lock, spinning until it is available. Locking a lock the
// caller already holds never returns.
func (l *Spin) Lock() {
	l.acquires.Add(1)
	for !l.locked.CompareAndSwap(0, 1) {
		l.spins.Add(1)
		runtime.Gosched()
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Spin) TryLock() bool {
	if l.locked.CompareAndSwap(0, 1) {
		l.acquires.Add(1)
		return true
	}
	return false
}

// Unlock releases the lock. Releasing an unlocked lock panics.
func (l *Spin) Unlock() {
	if !l.locked.CompareAndSwap(1, 0) {
		panic("lock: release of unlocked spin lock " + l.name)
	}
}

// Locked reports whether some caller currently holds the lock.
func (l *Spin) Locked() bool {
	return l.locked.Load() == 1
}

// Stats returns the lock's counters.
func (l *Spin) Stats() Stats {
	return Stats{
		Name:     l.name,
		Acquires: l.acquires.Load(),
		Spins:    l.spins.Load(),
	}
}
