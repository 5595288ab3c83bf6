// Package malloc is a segregated-fit heap allocator over a single growable byte region.
//
// Every block carries a boundary tag at each end, free blocks are indexed by size class, and
// requests are served by best fit. Freed blocks are immediately coalesced with free physical
// neighbors, so no two adjacent blocks are ever both free between operations.
//
// Addresses handed out by the Allocator are layout.Ptr payload offsets into the heap region.
// The Allocator is not safe for concurrent use.
package malloc

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/freelist"
	"github.com/vkngwrapper/segheap/memutils/heap"
	"github.com/vkngwrapper/segheap/memutils/layout"
	"golang.org/x/exp/slog"
)

type Allocator struct {
	logger   *slog.Logger
	provider heap.Provider
	arena    *layout.Arena
	index    *freelist.Index

	// requested maps the payload of every live allocation to the size its caller asked for
	requested *swiss.Map[layout.Ptr, int]

	chunkSize   int
	createFlags CreateFlags

	initialized bool
}

// Init lays out the heap sentinels and the first chunk-sized free block. The provider must be
// empty: a provider that was used before must be Reset first.
func (a *Allocator) Init() error {
	a.logger.Debug("Allocator::Init")

	a.initialized = false
	if a.provider.Size() != 0 {
		return errors.Newf("cannot initialize a heap over a provider that already holds %d bytes", a.provider.Size())
	}

	a.index.Clear()
	if a.requested.Count() > 0 {
		a.requested = swiss.NewMap[layout.Ptr, int](initialRegistryCapacity)
	}

	_, err := a.provider.Extend(layout.InitialSize)
	if err != nil {
		return errors.Wrap(err, "failed to reserve the heap sentinels")
	}
	a.arena.Sync()
	a.arena.WriteSentinels()

	_, err = a.extendHeap(a.chunkSize)
	if err != nil {
		return err
	}

	a.initialized = true
	a.debugValidate()
	return nil
}

// extendHeap grows the heap by size bytes, turns the new space into a free block, merges it
// with a free block at the old end of the heap, and indexes the result
func (a *Allocator) extendHeap(size int) (layout.Ptr, error) {
	start, err := a.provider.Extend(size)
	if err != nil {
		return layout.Nil, errors.Wrapf(err, "failed to extend the heap by %d bytes", size)
	}
	a.arena.Sync()

	// The old epilogue header becomes the new block's header
	p := layout.Ptr(start)
	a.arena.Format(p, size, false)
	a.arena.WriteEpilogue(p + layout.Ptr(size))

	p = a.coalesce(p)
	a.index.Insert(p)

	a.logger.Debug("    Extended heap", slog.Int("Size", size), slog.Int("HeapBytes", a.provider.Size()))
	return p, nil
}

// coalesce merges the unindexed free block at p with its free physical neighbors and returns
// the start of the merged block. Neighbors that take part are removed from the index before
// their tags are overwritten.
func (a *Allocator) coalesce(p layout.Ptr) layout.Ptr {
	size := a.arena.Size(p)

	prev := a.arena.Prev(p)
	next := a.arena.Next(p)
	prevFree := prev != layout.Nil && !a.arena.IsAllocated(prev)
	nextFree := next != layout.Nil && !a.arena.IsAllocated(next)

	switch {
	case !prevFree && !nextFree:
		return p
	case !prevFree && nextFree:
		a.index.Remove(next)
		size += a.arena.Size(next)
	case prevFree && !nextFree:
		a.index.Remove(prev)
		size += a.arena.Size(prev)
		p = prev
	default:
		a.index.Remove(prev)
		a.index.Remove(next)
		size += a.arena.Size(prev) + a.arena.Size(next)
		p = prev
	}

	a.arena.Format(p, size, false)
	return p
}

// carve formats the unindexed block at p, which spans size bytes, as an allocation of needed
// bytes. If the leftover can hold a block of its own it is freed and indexed, otherwise the
// whole span stays with the allocation.
func (a *Allocator) carve(p layout.Ptr, size, needed int) {
	if size-needed < layout.MinBlockSize {
		a.arena.Format(p, size, true)
		return
	}

	a.arena.Format(p, needed, true)

	rest := p + layout.Ptr(needed)
	a.arena.Format(rest, size-needed, false)
	a.index.Insert(a.coalesce(rest))
}

// place allocates needed bytes from the indexed free block at p
func (a *Allocator) place(p layout.Ptr, needed int) {
	a.index.Remove(p)
	a.carve(p, a.arena.Size(p), needed)
}

// neededSize returns the block size that holds a payload of size bytes
func neededSize(size int) int {
	return memutils.Max(layout.MinBlockSize, memutils.AlignUp(size+layout.Overhead, layout.Alignment))
}

func (a *Allocator) checkRequestSize(size int) error {
	if size < 0 {
		return errors.Wrapf(memutils.ErrInvalidSize, "cannot allocate %d bytes", size)
	}
	if size > a.provider.MaxSize() {
		return errors.Wrapf(memutils.ErrOutOfMemory, "a %d byte allocation cannot fit in a heap of at most %d bytes", size, a.provider.MaxSize())
	}
	return nil
}

// Allocate returns the payload address of a new block that can hold at least size bytes.
// Allocating zero bytes returns layout.Nil and no error. If the heap cannot grow far enough
// the returned error wraps memutils.ErrOutOfMemory.
func (a *Allocator) Allocate(size int) (layout.Ptr, error) {
	a.logger.Debug("Allocator::Allocate", slog.Int("Size", size))

	if size == 0 {
		return layout.Nil, nil
	}

	err := a.checkRequestSize(size)
	if err != nil {
		return layout.Nil, err
	}

	p, err := a.allocate(size)
	if err != nil {
		a.logger.Debug("  Allocate FAILED", slog.Int("Size", size))
		return layout.Nil, err
	}

	a.debugValidate()
	return p, nil
}

func (a *Allocator) allocate(size int) (layout.Ptr, error) {
	if !a.initialized {
		return layout.Nil, errors.Wrap(memutils.ErrNotInitialized, "cannot allocate")
	}

	needed := neededSize(size)

	p := a.index.FindBestFit(needed)
	if p == layout.Nil {
		_, err := a.extendHeap(memutils.Max(needed, a.chunkSize))
		if err != nil {
			return layout.Nil, err
		}

		p = a.index.FindBestFit(needed)
		if p == layout.Nil {
			panic(fmt.Sprintf("no free block of %d bytes after extending the heap", needed))
		}
	}

	a.place(p, needed)
	a.requested.Put(p, size)

	if a.createFlags&CreateZeroPayloads != 0 {
		a.arena.Zero(p, a.arena.Size(p)-layout.Overhead)
	}

	return p, nil
}

// liveBlock returns the allocation that begins at p, or an error wrapping
// memutils.ErrNotAllocated if no live allocation begins there
func (a *Allocator) liveBlock(p layout.Ptr) (layout.AllocatedBlock, error) {
	if p == layout.Nil {
		return layout.AllocatedBlock{}, errors.Wrap(memutils.ErrNotAllocated, "address is nil")
	}
	if !a.arena.Contains(p) {
		return layout.AllocatedBlock{}, errors.Wrapf(memutils.ErrNotAllocated, "address %d is outside the heap", p)
	}
	if _, live := a.requested.Get(p); !live {
		return layout.AllocatedBlock{}, errors.Wrapf(memutils.ErrNotAllocated, "address %d does not begin a live allocation", p)
	}

	block, ok := a.arena.Allocated(p)
	if !ok {
		return layout.AllocatedBlock{}, errors.AssertionFailedf("live allocation at %d is tagged free", p)
	}
	return block, nil
}

// Release returns the block at p to the heap. Releasing layout.Nil, an address that is already
// free, or an address that does not begin an allocation does nothing.
func (a *Allocator) Release(p layout.Ptr) {
	a.logger.Debug("Allocator::Release", slog.Int("Ptr", int(p)))

	err := a.release(p)
	if err != nil {
		a.logger.Debug("  Release ignored", slog.Any("error", err))
		return
	}

	a.debugValidate()
}

// ReleaseChecked behaves like Release, but reports a release of an address that does not begin
// a live allocation with an error wrapping memutils.ErrNotAllocated
func (a *Allocator) ReleaseChecked(p layout.Ptr) error {
	a.logger.Debug("Allocator::ReleaseChecked", slog.Int("Ptr", int(p)))

	err := a.release(p)
	if err != nil {
		return err
	}

	a.debugValidate()
	return nil
}

func (a *Allocator) release(p layout.Ptr) error {
	block, err := a.liveBlock(p)
	if err != nil {
		return err
	}

	a.requested.Delete(p)
	a.arena.Format(p, block.Size(), false)
	a.index.Insert(a.coalesce(p))
	return nil
}

// Resize changes the size of the allocation at p to size bytes and returns its address, which
// may differ from p. The first min(size, old capacity) payload bytes are preserved.
//
// Resizing to zero releases p and returns layout.Nil. Resizing layout.Nil is the same as
// Allocate. If the block cannot be grown the original allocation is left untouched and the
// error wraps memutils.ErrOutOfMemory.
func (a *Allocator) Resize(p layout.Ptr, size int) (layout.Ptr, error) {
	a.logger.Debug("Allocator::Resize", slog.Int("Ptr", int(p)), slog.Int("Size", size))

	if size == 0 {
		a.Release(p)
		return layout.Nil, nil
	}

	if p == layout.Nil {
		return a.Allocate(size)
	}

	err := a.checkRequestSize(size)
	if err != nil {
		return layout.Nil, err
	}

	block, err := a.liveBlock(p)
	if err != nil {
		return layout.Nil, err
	}

	newP, err := a.resize(block, size)
	if err != nil {
		a.logger.Debug("  Resize FAILED", slog.Int("Ptr", int(p)), slog.Int("Size", size))
		return layout.Nil, err
	}

	a.debugValidate()
	return newP, nil
}

func (a *Allocator) resize(block layout.AllocatedBlock, size int) (layout.Ptr, error) {
	p := block.Ptr()
	oldSize := block.Size()
	oldCapacity := block.Capacity()
	needed := neededSize(size)

	if needed <= oldSize {
		a.carve(p, oldSize, needed)
		a.requested.Put(p, size)
		return p, nil
	}

	newP, grown := a.growInPlace(p, oldSize, needed)
	if grown {
		if newP != p {
			a.requested.Delete(p)
		}
		a.requested.Put(newP, size)

		if a.createFlags&CreateZeroPayloads != 0 {
			a.arena.Zero(newP+layout.Ptr(oldCapacity), a.arena.Size(newP)-layout.Overhead-oldCapacity)
		}
		return newP, nil
	}

	newP, err := a.allocate(size)
	if err != nil {
		return layout.Nil, err
	}
	a.logger.Debug("    Resize moved allocation", slog.Int("From", int(p)), slog.Int("To", int(newP)))

	a.arena.Move(newP, p, memutils.Min(oldCapacity, size))

	err = a.release(p)
	if err != nil {
		panic(fmt.Sprintf("failed to release the old block of a moved allocation: %+v", err))
	}

	return newP, nil
}

// growInPlace tries to grow the allocated block at p to needed bytes without a fresh
// allocation. It returns the block's new start, which moves down when a free predecessor is
// absorbed, and whether it succeeded.
func (a *Allocator) growInPlace(p layout.Ptr, oldSize, needed int) (layout.Ptr, bool) {
	if a.arena.IsLast(p) {
		_, err := a.provider.Extend(needed - oldSize)
		if err == nil {
			a.arena.Sync()
			a.arena.Format(p, needed, true)
			a.arena.WriteEpilogue(p + layout.Ptr(needed))

			a.logger.Debug("    Resize extended heap", slog.Int("Size", needed-oldSize))
			return p, true
		}

		a.logger.Debug("    Resize could not extend heap", slog.Any("error", err))
	}

	prev := a.arena.Prev(p)
	next := a.arena.Next(p)

	prevSize, nextSize := 0, 0
	if prev != layout.Nil && !a.arena.IsAllocated(prev) {
		prevSize = a.arena.Size(prev)
	}
	if next != layout.Nil && !a.arena.IsAllocated(next) {
		nextSize = a.arena.Size(next)
	}

	switch {
	case nextSize > 0 && oldSize+nextSize >= needed:
		a.index.Remove(next)
		a.carve(p, oldSize+nextSize, needed)
		return p, true

	case prevSize > 0 && prevSize+oldSize >= needed:
		a.index.Remove(prev)
		a.arena.Move(prev, p, oldSize-layout.Overhead)
		a.carve(prev, prevSize+oldSize, needed)
		return prev, true

	case prevSize > 0 && nextSize > 0 && prevSize+oldSize+nextSize >= needed:
		a.index.Remove(prev)
		a.index.Remove(next)
		a.arena.Move(prev, p, oldSize-layout.Overhead)
		a.carve(prev, prevSize+oldSize+nextSize, needed)
		return prev, true
	}

	return layout.Nil, false
}

// Payload returns the payload bytes of the allocation at p. The slice's length is the size the
// caller asked for and its capacity is the block's full capacity. It aliases heap memory and
// is only valid until p is released or resized.
func (a *Allocator) Payload(p layout.Ptr) ([]byte, error) {
	block, err := a.liveBlock(p)
	if err != nil {
		return nil, err
	}

	requested, _ := a.requested.Get(p)
	return block.Payload()[:requested], nil
}

// UsableSize returns the number of payload bytes the allocation at p can hold, or 0 if p does
// not begin a live allocation
func (a *Allocator) UsableSize(p layout.Ptr) int {
	block, err := a.liveBlock(p)
	if err != nil {
		return 0
	}
	return block.Capacity()
}

// Destroy tears down the heap and resets the provider so it can be reused. If allocations are
// still live they are logged, the heap is left as it is, and an error is returned. After a
// successful Destroy, Init must be called again before the next allocation.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	if a.requested.Count() > 0 {
		count := a.requested.Count()
		a.requested.Iter(func(p layout.Ptr, requested int) bool {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
				slog.Int("offset", int(p)),
				slog.Int("size", a.arena.Size(p)),
				slog.Int("requested", requested),
			)
			return false
		})

		return errors.Newf("%d allocations were not released before the destruction of this heap", count)
	}

	a.initialized = false
	a.index.Clear()
	a.provider.Reset()
	a.arena.Sync()
	return nil
}

func (a *Allocator) debugValidate() {
	memutils.DebugValidate(a)

	if a.createFlags&CreateValidateEveryOp != 0 {
		err := a.Validate()
		if err != nil {
			panic(fmt.Sprintf("heap failed validation: %+v", err))
		}
	}
}
