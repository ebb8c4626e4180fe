// Package lock provides the two locking primitives the resource managers are
// built on.
//
// Spin is a non-reentrant test-and-set lock. It never parks the goroutine in
// the runtime's sense; a contended Lock yields the processor and retries. It
// guards short critical sections such as list surgery and reference counts,
// and records how often callers had to retry so shard contention can be
// measured.
//
// Sleep is a blocking lock whose holder is identified by a caller-chosen
// token. Holding(token) answers "does this caller hold the lock", which a
// plain sync.Mutex cannot. LockContext lets a waiter give up when its context
// is cancelled.
package lock
