package malloc

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/freelist"
	"github.com/vkngwrapper/segheap/memutils/layout"
)

var _ memutils.Validatable = &Allocator{}

// Validate walks the whole heap and the free lists and returns an error marked with
// memutils.ErrCorruptHeap describing the first inconsistency it finds. It checks that:
//
//   - the prologue and epilogue are intact and the block chain ends at the epilogue
//   - every block is aligned, at least the minimum size, and has matching tags
//   - no two physically adjacent blocks are both free
//   - the free lists hold exactly the free blocks of the heap, each in its own size class
//   - every allocated block is a live allocation no larger than its capacity needs
//
// A heap that was never initialized, or was destroyed, returns memutils.ErrNotInitialized.
func (a *Allocator) Validate() error {
	if !a.initialized {
		return memutils.ErrNotInitialized
	}

	err := a.validate()
	if err != nil {
		return errors.Mark(err, memutils.ErrCorruptHeap)
	}
	return nil
}

func (a *Allocator) validate() error {
	if a.arena.Len() != a.provider.Size() {
		return errors.Newf("arena views %d bytes but the heap holds %d", a.arena.Len(), a.provider.Size())
	}

	err := a.arena.ValidateSentinels()
	if err != nil {
		return err
	}

	physicalFree := swiss.NewMap[layout.Ptr, int](uint32(a.index.Len() + 1))
	allocationCount := 0
	prevFree := false

	err = a.arena.Walk(func(p layout.Ptr, size int, allocated bool) error {
		err := a.arena.ValidateBlock(p)
		if err != nil {
			return err
		}

		if allocated {
			requested, live := a.requested.Get(p)
			if !live {
				return errors.Newf("allocated block at %d is not a live allocation", p)
			}
			if neededSize(requested) > size {
				return errors.Newf("allocated block at %d with size %d is too small for its %d requested bytes", p, size, requested)
			}

			allocationCount++
			prevFree = false
			return nil
		}

		if prevFree {
			return errors.Newf("free block at %d follows another free block", p)
		}
		prevFree = true
		physicalFree.Put(p, size)
		return nil
	})
	if err != nil {
		return err
	}

	err = a.index.Validate()
	if err != nil {
		return err
	}

	if a.index.Len() != physicalFree.Count() {
		return errors.Newf("free lists hold %d blocks but the heap holds %d free blocks", a.index.Len(), physicalFree.Count())
	}

	err = a.index.Visit(func(class int, p layout.Ptr) error {
		size, ok := physicalFree.Get(p)
		if !ok {
			return errors.Newf("free list entry %d in size class %d does not begin a block", p, class)
		}
		if freelist.ClassOf(size) != class {
			return errors.Newf("free block at %d with size %d is in size class %d", p, size, class)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if allocationCount != a.requested.Count() {
		return errors.Newf("heap holds %d allocated blocks but %d allocations are live", allocationCount, a.requested.Count())
	}

	return nil
}
