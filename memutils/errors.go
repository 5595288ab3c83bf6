package memutils

import "github.com/cockroachdb/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")
	// ErrOutOfMemory is returned when the heap provider refuses to grow the heap far enough to
	// satisfy a request
	ErrOutOfMemory error = errors.New("out of memory")
	// ErrInvalidSize is returned when a request size is negative or otherwise unusable
	ErrInvalidSize error = errors.New("invalid size")
	// ErrNotAllocated is returned when an address that does not begin a live allocation is
	// passed where one is required
	ErrNotAllocated error = errors.New("address is not a live allocation")
	// ErrNotInitialized is returned when a heap is used before Init or after Destroy
	ErrNotInitialized error = errors.New("heap is not initialized")
	// ErrCorruptHeap marks errors produced by heap consistency checks
	ErrCorruptHeap error = errors.New("heap is corrupt")
)
