package trace

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/segheap/malloc"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/heap"
	"github.com/vkngwrapper/segheap/memutils/layout"
	"golang.org/x/exp/slog"
)

// ErrContentMismatch is returned from Replay when a block's payload no longer holds the bytes
// written to it
var ErrContentMismatch error = errors.New("payload contents were not preserved")

// ReplayOptions contains optional settings for Replay
type ReplayOptions struct {
	// Create is passed to malloc.New for the replayed heap
	Create malloc.CreateOptions
	// CheckHeap runs the heap checker after every op and stops the replay at the first failure
	CheckHeap bool
}

// Result summarizes one replay
type Result struct {
	Ops         int
	Allocations int
	Resizes     int
	Releases    int

	// PeakRequestedBytes is the largest total payload size live at once
	PeakRequestedBytes int
	// HeapBytes is the size of the heap when the replay finished
	HeapBytes int
	// Stats is the heap's state when the replay finished
	Stats memutils.DetailedStatistics
}

// Utilization is the ratio of the peak live payload to the heap size, the malloc-lab space score
func (r *Result) Utilization() float64 {
	if r.HeapBytes == 0 {
		return 0
	}
	return float64(r.PeakRequestedBytes) / float64(r.HeapBytes)
}

func (r *Result) String() string {
	return fmt.Sprintf("%d ops (%d allocations, %d resizes, %d releases): peak payload %s in a %s heap, %.1f%% utilization",
		r.Ops, r.Allocations, r.Resizes, r.Releases,
		humanize.IBytes(uint64(r.PeakRequestedBytes)),
		humanize.IBytes(uint64(r.HeapBytes)),
		r.Utilization()*100)
}

func (r *Result) WriteJSON(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("Ops").Int(r.Ops)
	objState.Name("Allocations").Int(r.Allocations)
	objState.Name("Resizes").Int(r.Resizes)
	objState.Name("Releases").Int(r.Releases)
	objState.Name("PeakRequestedBytes").Int(r.PeakRequestedBytes)
	objState.Name("HeapBytes").Int(r.HeapBytes)
	objState.Name("Utilization").Float64(r.Utilization())
	objState.Name("FreeBlocks").Int(r.Stats.FreeBlockCount)
	objState.Name("FreeBytes").Int(r.Stats.FreeBytes)
}

type replayBlock struct {
	ptr  layout.Ptr
	size int
}

// pattern is the byte stored at offset i of the block with the given id
func pattern(id, i int) byte {
	return byte(id*31 + i)
}

type replayer struct {
	allocator *malloc.Allocator

	blocks    []replayBlock
	requested int
	result    Result
}

func (r *replayer) fill(id int) error {
	block := r.blocks[id]
	payload, err := r.allocator.Payload(block.ptr)
	if err != nil {
		return err
	}

	for i := range payload {
		payload[i] = pattern(id, i)
	}
	return nil
}

func (r *replayer) check(id int, n int) error {
	block := r.blocks[id]
	payload, err := r.allocator.Payload(block.ptr)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		if payload[i] != pattern(id, i) {
			return errors.Wrapf(ErrContentMismatch, "byte %d of id %d at offset %d", i, id, block.ptr)
		}
	}
	return nil
}

func (r *replayer) apply(op Op) error {
	switch op.Kind {
	case OpAllocate:
		r.result.Allocations++

		p, err := r.allocator.Allocate(op.Size)
		if err != nil {
			return err
		}

		r.blocks[op.ID] = replayBlock{ptr: p, size: op.Size}
		r.requested += op.Size
		if p == layout.Nil {
			return nil
		}
		return r.fill(op.ID)

	case OpResize:
		r.result.Resizes++
		old := r.blocks[op.ID]

		p, err := r.allocator.Resize(old.ptr, op.Size)
		if err != nil {
			return err
		}

		r.blocks[op.ID] = replayBlock{ptr: p, size: op.Size}
		r.requested += op.Size - old.size
		if p == layout.Nil {
			return nil
		}

		err = r.check(op.ID, memutils.Min(old.size, op.Size))
		if err != nil {
			return err
		}
		return r.fill(op.ID)

	case OpRelease:
		r.result.Releases++
		block := r.blocks[op.ID]

		if block.ptr != layout.Nil {
			err := r.check(op.ID, block.size)
			if err != nil {
				return err
			}
		}

		r.allocator.Release(block.ptr)
		r.blocks[op.ID] = replayBlock{}
		r.requested -= block.size
		return nil
	}

	return errors.AssertionFailedf("unknown op kind %q", byte(op.Kind))
}

// Replay runs trace against a fresh allocator over provider. The provider is reset first,
// so one region can serve many replays. Every payload is filled with an id-derived pattern
// that is checked on each resize and release.
func Replay(logger *slog.Logger, provider heap.Provider, trace *Trace, options ReplayOptions) (Result, error) {
	err := trace.Validate()
	if err != nil {
		return Result{}, err
	}

	provider.Reset()
	allocator, err := malloc.New(logger, provider, options.Create)
	if err != nil {
		return Result{}, err
	}

	r := &replayer{
		allocator: allocator,
		blocks:    make([]replayBlock, trace.NumIDs),
	}

	for index, op := range trace.Ops {
		err = r.apply(op)
		if err != nil {
			return r.result, errors.Wrapf(err, "op %d (%s id %d size %d) failed", index, op.Kind, op.ID, op.Size)
		}

		if options.CheckHeap {
			err = allocator.Validate()
			if err != nil {
				return r.result, errors.Wrapf(err, "heap check failed after op %d", index)
			}
		}

		r.result.Ops++
		r.result.PeakRequestedBytes = memutils.Max(r.result.PeakRequestedBytes, r.requested)
	}

	r.result.HeapBytes = provider.Size()
	r.result.Stats.Clear()
	allocator.AddDetailedStatistics(&r.result.Stats)

	logger.Debug("Replay finished",
		slog.Int("Ops", r.result.Ops),
		slog.Int("PeakRequestedBytes", r.result.PeakRequestedBytes),
		slog.Int("HeapBytes", r.result.HeapBytes),
	)

	return r.result, nil
}
