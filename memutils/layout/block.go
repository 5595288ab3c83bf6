package layout

// FreeBlock is a view of a block whose allocation bit is clear. Only free blocks expose the
// free list links overlaid on the first 2*LinkSize bytes of their payload.
type FreeBlock struct {
	arena *Arena
	ptr   Ptr
}

// Free returns a FreeBlock view of p if the block at p is free
func (a *Arena) Free(p Ptr) (FreeBlock, bool) {
	if a.IsAllocated(p) {
		return FreeBlock{}, false
	}
	return FreeBlock{arena: a, ptr: p}, true
}

func (b FreeBlock) Ptr() Ptr { return b.ptr }

func (b FreeBlock) Size() int { return b.arena.Size(b.ptr) }

func (b FreeBlock) PrevFree() Ptr { return b.arena.link(int(b.ptr)) }

func (b FreeBlock) NextFree() Ptr { return b.arena.link(int(b.ptr) + LinkSize) }

func (b FreeBlock) SetPrevFree(p Ptr) { b.arena.putLink(int(b.ptr), p) }

func (b FreeBlock) SetNextFree(p Ptr) { b.arena.putLink(int(b.ptr)+LinkSize, p) }

// AllocatedBlock is a view of a block whose allocation bit is set
type AllocatedBlock struct {
	arena *Arena
	ptr   Ptr
}

// Allocated returns an AllocatedBlock view of p if the block at p is allocated
func (a *Arena) Allocated(p Ptr) (AllocatedBlock, bool) {
	if !a.IsAllocated(p) {
		return AllocatedBlock{}, false
	}
	return AllocatedBlock{arena: a, ptr: p}, true
}

func (b AllocatedBlock) Ptr() Ptr { return b.ptr }

func (b AllocatedBlock) Size() int { return b.arena.Size(b.ptr) }

// Capacity is the number of payload bytes the block can hold
func (b AllocatedBlock) Capacity() int { return b.Size() - Overhead }

// Payload returns the block's payload bytes. The slice aliases heap memory.
func (b AllocatedBlock) Payload() []byte {
	end := int(b.ptr) + b.Capacity()
	return b.arena.mem[b.ptr:end:end]
}
