package types

import (
	"errors"
	"fmt"
)

// Fatal sentinels. They reach callers wrapped in *FatalError.
var (
	// ErrNoBuffers indicates every buffer in the cache is referenced.
	ErrNoBuffers = errors.New("bcache: no buffers")

	// ErrNotHeld indicates a buffer operation by a caller that does not hold its lock.
	ErrNotHeld = errors.New("bcache: buffer lock not held")

	// ErrRefUnderflow indicates an unpin of a buffer whose reference count is zero.
	ErrRefUnderflow = errors.New("bcache: reference count underflow")

	// ErrIO indicates the disk driver failed a block transfer.
	ErrIO = errors.New("disk: i/o failure")

	// ErrBadFree indicates a misaligned or out-of-arena page address.
	ErrBadFree = errors.New("kalloc: bad page address")

	// ErrDoubleFree indicates a free of a page that is already on a freelist.
	ErrDoubleFree = errors.New("kalloc: page already free")
)

// Recoverable sentinels.
var (
	// ErrNoMemory indicates every allocator shard is empty.
	ErrNoMemory = errors.New("kalloc: out of memory")

	// ErrConfig indicates a constructor was given unusable parameters.
	ErrConfig = errors.New("invalid configuration")
)

// FatalError reports an invariant violation detected by operation Op.
type FatalError struct {
	Op  string
	Err error
}

// Fatal builds a FatalError for op.
func Fatal(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("panic: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// AbortFunc receives fatal errors. Implementations must not return normally
// if the caller is to be stopped; the default implementation panics.
type AbortFunc func(*FatalError)

// PanicAbort is the default AbortFunc.
func PanicAbort(e *FatalError) {
	panic(e)
}
