package layout

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/heap"
)

// Arena reads and writes boundary tags inside a heap.Provider's region. It holds no block
// state of its own; everything it knows is read back from the tags.
//
// The Arena caches the provider's byte slice, so Sync must be called after the region is
// extended or reset.
type Arena struct {
	provider heap.Provider
	mem      []byte
}

// NewArena returns an Arena over provider's current region
func NewArena(provider heap.Provider) *Arena {
	a := &Arena{provider: provider}
	a.Sync()
	return a
}

// Sync refreshes the cached view of the heap region
func (a *Arena) Sync() {
	a.mem = a.provider.Bytes()
}

func (a *Arena) Provider() heap.Provider { return a.provider }

// Len returns the number of heap bytes in the cached view
func (a *Arena) Len() int { return len(a.mem) }

func (a *Arena) word(offset int) Word {
	return Word(binary.LittleEndian.Uint32(a.mem[offset:]))
}

func (a *Arena) putWord(offset int, w Word) {
	binary.LittleEndian.PutUint32(a.mem[offset:], uint32(w))
}

func (a *Arena) link(offset int) Ptr {
	return Ptr(binary.LittleEndian.Uint64(a.mem[offset:]))
}

func (a *Arena) putLink(offset int, p Ptr) {
	binary.LittleEndian.PutUint64(a.mem[offset:], uint64(p))
}

// Header returns the boundary tag in front of the payload at p
func (a *Arena) Header(p Ptr) Word {
	return a.word(int(p) - WordSize)
}

// Footer returns the boundary tag at the end of the block at p
func (a *Arena) Footer(p Ptr) Word {
	return a.word(int(p) + a.Header(p).Size() - DoubleWord)
}

func (a *Arena) Size(p Ptr) int {
	return a.Header(p).Size()
}

func (a *Arena) IsAllocated(p Ptr) bool {
	return a.Header(p).Allocated()
}

// Format writes matching header and footer tags for a block of size bytes at p
func (a *Arena) Format(p Ptr, size int, allocated bool) {
	w := Pack(size, allocated)
	a.putWord(int(p)-WordSize, w)
	a.putWord(int(p)+size-DoubleWord, w)
}

// WriteEpilogue writes the zero-sized epilogue header in front of p, which must be the end
// of the heap
func (a *Arena) WriteEpilogue(p Ptr) {
	a.putWord(int(p)-WordSize, Pack(0, true))
}

// WriteSentinels lays out the alignment pad, prologue and epilogue at the start of a heap
// that is exactly InitialSize bytes long
func (a *Arena) WriteSentinels() {
	a.putWord(0, 0)
	a.Format(Prologue, DoubleWord, true)
	a.WriteEpilogue(FirstBlock)
}

// Contains reports whether p is an aligned payload offset inside the heap's real blocks.
// It does not prove that p begins a block.
func (a *Arena) Contains(p Ptr) bool {
	return p >= FirstBlock && int(p) < len(a.mem) && memutils.IsAligned(p, Alignment)
}

// Next returns the block physically after p, or Nil if p is the last block before the
// epilogue
func (a *Arena) Next(p Ptr) Ptr {
	next := p + Ptr(a.Size(p))
	if int(next) >= len(a.mem) || a.Header(next).Size() == 0 {
		return Nil
	}
	return next
}

// Prev returns the block physically before p, or Nil if p is the first block after the
// prologue
func (a *Arena) Prev(p Ptr) Ptr {
	if p <= FirstBlock {
		return Nil
	}
	prev := p - Ptr(a.word(int(p)-DoubleWord).Size())
	if prev < FirstBlock {
		return Nil
	}
	return prev
}

// IsLast reports whether the block at p is the last block before the epilogue
func (a *Arena) IsLast(p Ptr) bool {
	return int(p)+a.Size(p) == len(a.mem)
}

// Move copies n payload bytes from src to dst. The ranges may overlap.
func (a *Arena) Move(dst, src Ptr, n int) {
	copy(a.mem[dst:int(dst)+n], a.mem[src:int(src)+n])
}

// Zero clears n bytes starting at p
func (a *Arena) Zero(p Ptr, n int) {
	region := a.mem[p : int(p)+n]
	for i := range region {
		region[i] = 0
	}
}

// Walk calls visit once for every block between the prologue and epilogue, in address
// order. It stops at the first error returned by visit, and returns an error if the tags
// do not describe a chain that ends exactly at the epilogue.
func (a *Arena) Walk(visit func(p Ptr, size int, allocated bool) error) error {
	if len(a.mem) < InitialSize {
		return errors.Errorf("heap of %d bytes is too small to hold its sentinels", len(a.mem))
	}

	p := FirstBlock
	for {
		header := a.Header(p)
		if header.Size() == 0 {
			if !header.Allocated() {
				return errors.Errorf("epilogue at offset %d is not marked allocated", p)
			}
			if int(p) != len(a.mem) {
				return errors.Errorf("epilogue at offset %d is not at the end of the %d byte heap", p, len(a.mem))
			}
			return nil
		}

		if int(p)+header.Size() > len(a.mem) {
			return errors.Errorf("block at offset %d with size %d runs past the end of the %d byte heap", p, header.Size(), len(a.mem))
		}

		err := visit(p, header.Size(), header.Allocated())
		if err != nil {
			return err
		}

		p += Ptr(header.Size())
	}
}

// ValidateSentinels checks the prologue tags
func (a *Arena) ValidateSentinels() error {
	if len(a.mem) < InitialSize {
		return errors.Errorf("heap of %d bytes is too small to hold its sentinels", len(a.mem))
	}

	prologue := Pack(DoubleWord, true)
	if a.Header(Prologue) != prologue {
		return errors.Errorf("prologue header is %s, expected %s", a.Header(Prologue), prologue)
	}
	if a.Footer(Prologue) != prologue {
		return errors.Errorf("prologue footer is %s, expected %s", a.Footer(Prologue), prologue)
	}

	return nil
}

// ValidateBlock checks the tags of a single block: alignment, minimum size, and agreement
// between header and footer
func (a *Arena) ValidateBlock(p Ptr) error {
	if !memutils.IsAligned(p, Alignment) {
		return errors.Errorf("block at offset %d is not %d-byte aligned", p, Alignment)
	}

	header := a.Header(p)
	if header.Size()%Alignment != 0 {
		return errors.Errorf("block at offset %d has size %d, which is not a multiple of %d", p, header.Size(), Alignment)
	}
	if header.Size() < MinBlockSize {
		return errors.Errorf("block at offset %d has size %d, below the minimum of %d", p, header.Size(), MinBlockSize)
	}

	footer := a.Footer(p)
	if header != footer {
		return errors.Errorf("block at offset %d has header %s but footer %s", p, header, footer)
	}

	return nil
}
