// Package types defines the error taxonomy shared by the kpool resource
// managers.
//
// Errors fall into two tiers:
//
//   - Recoverable: returned as ordinary error values the caller is expected
//     to act on. ErrNoMemory from the page allocator is the canonical case.
//   - Fatal: invariant violations such as buffer pool exhaustion, writing a
//     block without holding its lock, or freeing an address the allocator
//     never handed out. These are reported as *FatalError through an abort
//     hook, which panics by default.
//
// Use errors.Is against the sentinels in either tier:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        if fe, ok := r.(*types.FatalError); ok && errors.Is(fe, types.ErrNoBuffers) {
//	            // pool exhausted
//	        }
//	    }
//	}()
//
// This package has no dependencies beyond the standard library.
package types
