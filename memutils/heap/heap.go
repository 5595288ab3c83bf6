// Package heap provides the growth primitive the allocator sits on: a single contiguous
// byte region that only ever grows by appending at its high end, up to a fixed maximum.
//
// Addresses handed out by a Provider are offsets from the start of the region, so the
// lowest heap byte is always at offset 0.
package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segheap/memutils"
)

const (
	// DefaultMaxSize is the reservation used when no maximum is specified. It is equal to 20Mb.
	DefaultMaxSize int = 20 * 1024 * 1024

	// maxRegionSize is the largest region a 32-bit boundary tag can describe
	maxRegionSize int64 = 1<<32 - 8

	regionAlignment int = 8
)

//go:generate mockgen -source heap.go -destination ../../malloc/mocks/mock_provider.go -package mocks

// Provider hands the allocator a contiguous, monotonically growing byte region
type Provider interface {
	// Extend appends n bytes to the region and returns the offset of the first new byte. It
	// fails atomically with an error wrapping memutils.ErrOutOfMemory if n is negative or the
	// region would grow past MaxSize.
	Extend(n int) (int, error)
	// Lo returns the offset of the first heap byte
	Lo() int
	// Hi returns the offset of the last heap byte, or Lo()-1 when the heap is empty
	Hi() int
	// Size returns the number of bytes currently in the heap
	Size() int
	// MaxSize returns the number of bytes the heap may grow to
	MaxSize() int
	// PageSize returns the page size of the system
	PageSize() int
	// Bytes returns the live region. The backing array never moves, so a slice taken before
	// a call to Extend still aliases the same memory afterward.
	Bytes() []byte
	// Reset empties the heap without releasing the reservation
	Reset()
}

// Region is a Provider over memory reserved up front, either from the Go heap or from an
// anonymous mapping
type Region struct {
	mem    []byte
	brk    int
	mapped bool
}

var _ Provider = &Region{}

func checkMaxSize(maxSize int) (int, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	if maxSize < 0 || int64(maxSize) > maxRegionSize {
		return 0, errors.Wrapf(memutils.ErrInvalidSize, "heap maximum size %d is outside (0, %d]", maxSize, maxRegionSize)
	}
	return memutils.AlignUp(maxSize, regionAlignment), nil
}

// New reserves maxSize bytes from the Go heap. A maxSize of 0 reserves DefaultMaxSize.
func New(maxSize int) (*Region, error) {
	maxSize, err := checkMaxSize(maxSize)
	if err != nil {
		return nil, err
	}

	return &Region{mem: make([]byte, maxSize)}, nil
}

// NewMapped reserves maxSize bytes, rounded up to a whole number of pages, outside the Go heap
// with an anonymous private mapping where the platform supports one. Regions created this way
// must be closed.
func NewMapped(maxSize int) (*Region, error) {
	maxSize, err := checkMaxSize(maxSize)
	if err != nil {
		return nil, err
	}

	memutils.DebugCheckPow2(pageSize(), "pageSize")
	if paged := memutils.AlignUp(maxSize, pageSize()); int64(paged) <= maxRegionSize {
		maxSize = paged
	}

	mem, mapped, err := mapRegion(maxSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map a %d byte heap region", maxSize)
	}

	return &Region{mem: mem, mapped: mapped}, nil
}

func (r *Region) Extend(n int) (int, error) {
	if r.mem == nil {
		return -1, errors.New("heap region is closed")
	}
	if n < 0 {
		return -1, errors.Wrapf(memutils.ErrOutOfMemory, "cannot extend the heap by %d bytes", n)
	}
	if n > len(r.mem)-r.brk {
		return -1, errors.Wrapf(memutils.ErrOutOfMemory,
			"extending a %d byte heap by %d bytes would exceed the maximum of %d bytes", r.brk, n, len(r.mem))
	}

	oldBrk := r.brk
	r.brk += n
	return oldBrk, nil
}

func (r *Region) Lo() int { return 0 }

func (r *Region) Hi() int { return r.brk - 1 }

func (r *Region) Size() int { return r.brk }

func (r *Region) MaxSize() int { return len(r.mem) }

func (r *Region) PageSize() int { return pageSize() }

func (r *Region) Bytes() []byte {
	return r.mem[:r.brk:r.brk]
}

func (r *Region) Reset() {
	r.brk = 0
}

// Close releases the reservation. The region cannot be extended afterward.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}

	mem := r.mem
	r.mem = nil
	r.brk = 0

	if r.mapped {
		return unmapRegion(mem)
	}
	return nil
}
