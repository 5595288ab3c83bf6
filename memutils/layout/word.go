// Package layout encodes boundary-tagged blocks inside a heap.Provider region.
//
// Every block starts with a header word and ends with a footer word, both holding the
// block's total size with the allocation flag packed into the low bit. A block is addressed
// by its payload offset (Ptr), which always sits one word past its header and is 8-byte
// aligned:
//
//	| pad | prologue hdr | prologue ftr | block ... | block ... | epilogue hdr |
//	0     4              8              16
//
// Free blocks additionally carry two links at the start of their payload, threading them
// onto a free list. See FreeBlock.
package layout

import "fmt"

const (
	// WordSize is the size in bytes of a header or footer
	WordSize = 4
	// DoubleWord is the size in bytes of a header and footer pair, and the payload alignment
	DoubleWord = 2 * WordSize
	// Alignment is the unit every block size and payload offset is a multiple of
	Alignment = DoubleWord
	// Overhead is the boundary tag cost of a block
	Overhead = 2 * WordSize
	// LinkSize is the size in bytes of a single free list link
	LinkSize = 8
	// MinBlockSize is the smallest block that can hold its tags and both free list links
	MinBlockSize = Overhead + 2*LinkSize
	// InitialSize is the space taken by the alignment pad, prologue and epilogue
	InitialSize = 4 * WordSize

	allocatedBit Word = 1
	flagMask     Word = Alignment - 1
)

// Word is a packed boundary tag
type Word uint32

// Pack combines a block size and allocation flag into a boundary tag
func Pack(size int, allocated bool) Word {
	w := Word(size) &^ flagMask
	if allocated {
		w |= allocatedBit
	}
	return w
}

func (w Word) Size() int { return int(w &^ flagMask) }

func (w Word) Allocated() bool { return w&allocatedBit != 0 }

func (w Word) String() string {
	if w.Allocated() {
		return fmt.Sprintf("%d/a", w.Size())
	}
	return fmt.Sprintf("%d/f", w.Size())
}

// Ptr is the payload offset of a block within the heap region
type Ptr int

const (
	// Nil is the Ptr that refers to no block. Offset 0 holds the alignment pad.
	Nil Ptr = 0
	// Prologue is the payload offset of the prologue sentinel
	Prologue Ptr = DoubleWord
	// FirstBlock is the payload offset of the first real block
	FirstBlock Ptr = Prologue + DoubleWord
)
