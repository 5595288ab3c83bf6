// Package freelist indexes the free blocks of a boundary-tagged heap by size class.
//
// Each size class is an intrusive doubly linked list threaded through the payloads of its
// free blocks (see layout.FreeBlock), so the index itself only stores one head per class.
// Lists are kept in insertion order, most recently freed first.
//
// The index is not thread safe.
package freelist

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/segheap/memutils/layout"
)

// Index holds one free list per size class over the free blocks of an Arena
type Index struct {
	arena *layout.Arena

	heads       [NumClasses]layout.Ptr
	isFreeClass uint32
	blockCount  int
	freeBytes   int
}

// New returns an empty index over arena
func New(arena *layout.Arena) *Index {
	return &Index{arena: arena}
}

func (x *Index) freeBlock(p layout.Ptr) layout.FreeBlock {
	block, ok := x.arena.Free(p)
	if !ok {
		panic(fmt.Sprintf("block at offset %d is in the free list but is not free", p))
	}
	return block
}

// Insert pushes the free block at p onto the head of its size class
func (x *Index) Insert(p layout.Ptr) {
	block, ok := x.arena.Free(p)
	if !ok {
		panic(fmt.Sprintf("cannot insert the allocated block at offset %d", p))
	}

	class := ClassOf(block.Size())
	head := x.heads[class]

	block.SetPrevFree(layout.Nil)
	block.SetNextFree(head)
	if head != layout.Nil {
		x.freeBlock(head).SetPrevFree(p)
	}

	x.heads[class] = p
	x.isFreeClass |= 1 << class
	x.blockCount++
	x.freeBytes += block.Size()
}

// Remove unlinks the free block at p. Its size class is recomputed from its current
// header, so it must be removed before that header changes.
func (x *Index) Remove(p layout.Ptr) {
	block := x.freeBlock(p)
	prev, next := block.PrevFree(), block.NextFree()

	if next != layout.Nil {
		x.freeBlock(next).SetPrevFree(prev)
	}
	if prev != layout.Nil {
		x.freeBlock(prev).SetNextFree(next)
	} else {
		class := ClassOf(block.Size())
		if x.heads[class] != p {
			panic(fmt.Sprintf("block at offset %d was not in the free list at the expected location", p))
		}

		x.heads[class] = next
		if next == layout.Nil {
			x.isFreeClass &^= 1 << class
		}
	}

	block.SetPrevFree(layout.Nil)
	block.SetNextFree(layout.Nil)
	x.blockCount--
	x.freeBytes -= block.Size()
}

// FindBestFit returns the free block whose size exceeds needed by the least, or layout.Nil
// if no free block is large enough. An exact fit is returned as soon as it is seen.
func (x *Index) FindBestFit(needed int) layout.Ptr {
	best := layout.Nil
	bestSlack := math.MaxInt

	// Skip the classes below the one needed could live in, and any empty ones
	classes := x.isFreeClass &^ (1<<ClassOf(needed) - 1)
	for classes != 0 {
		class := bits.TrailingZeros32(classes)
		classes &= classes - 1

		for p := x.heads[class]; p != layout.Nil; {
			block := x.freeBlock(p)
			size := block.Size()

			if size >= needed {
				slack := size - needed
				if slack == 0 {
					return p
				}
				if slack < bestSlack {
					best, bestSlack = p, slack
				}
			}

			p = block.NextFree()
		}

		// Classes are disjoint ascending ranges, so nothing in a later class can fit
		// tighter than a block found here
		if best != layout.Nil {
			return best
		}
	}

	return best
}

// Clear forgets every free block. The blocks' tags and links are left as they are.
func (x *Index) Clear() {
	x.heads = [NumClasses]layout.Ptr{}
	x.isFreeClass = 0
	x.blockCount = 0
	x.freeBytes = 0
}

// Len returns the number of free blocks in the index
func (x *Index) Len() int { return x.blockCount }

// FreeBytes returns the total size of the free blocks in the index
func (x *Index) FreeBytes() int { return x.freeBytes }

// ClassLen returns the number of free blocks in one size class
func (x *Index) ClassLen(class int) int {
	count := 0
	for p := x.heads[class]; p != layout.Nil; p = x.freeBlock(p).NextFree() {
		count++
	}
	return count
}

// Visit calls visit for every free block, class by class in ascending order and in list
// order within a class. It stops at the first error returned by visit.
func (x *Index) Visit(visit func(class int, p layout.Ptr) error) error {
	for class := 0; class < NumClasses; class++ {
		for p := x.heads[class]; p != layout.Nil; p = x.freeBlock(p).NextFree() {
			err := visit(class, p)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Validate checks the integrity of every size class list: membership, back references,
// class placement, and the cached counters
func (x *Index) Validate() error {
	var blockCount, freeBytes int

	for class := 0; class < NumClasses; class++ {
		head := x.heads[class]
		if (head != layout.Nil) != (x.isFreeClass&(1<<class) != 0) {
			return errors.Errorf("size class %d has head %d but its free bit is %t", class, head, x.isFreeClass&(1<<class) != 0)
		}

		prev := layout.Nil
		for p := head; p != layout.Nil; {
			if !x.arena.Contains(p) {
				return errors.Errorf("size class %d links to offset %d, which is outside the heap", class, p)
			}

			block, ok := x.arena.Free(p)
			if !ok {
				return errors.Errorf("block at offset %d is in the free list but is not free", p)
			}
			if block.PrevFree() != prev {
				return errors.Errorf("block at offset %d lists the block at offset %d as its previous block, expected %d", p, block.PrevFree(), prev)
			}
			if ClassOf(block.Size()) != class {
				return errors.Errorf("block at offset %d with size %d is in size class %d, expected %d", p, block.Size(), class, ClassOf(block.Size()))
			}

			blockCount++
			freeBytes += block.Size()
			if blockCount > x.blockCount {
				return errors.Errorf("free lists hold more than the %d blocks the index has counted", x.blockCount)
			}

			prev = p
			p = block.NextFree()
		}
	}

	if blockCount != x.blockCount {
		return errors.Errorf("the index has counted %d free blocks, but the free lists hold %d", x.blockCount, blockCount)
	}

	if freeBytes != x.freeBytes {
		return errors.Errorf("the index has counted %d free bytes, but the free lists hold %d", x.freeBytes, freeBytes)
	}

	return nil
}
