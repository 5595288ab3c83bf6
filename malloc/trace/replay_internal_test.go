package trace

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segheap/malloc"
	"github.com/vkngwrapper/segheap/memutils/heap"
	"golang.org/x/exp/slog"
)

func newTestReplayer(t *testing.T, numIDs int) *replayer {
	region, err := heap.New(0)
	require.NoError(t, err)

	allocator, err := malloc.New(slog.New(slog.NewJSONHandler(io.Discard, nil)), region, malloc.CreateOptions{
		Flags: malloc.CreateValidateEveryOp,
	})
	require.NoError(t, err)

	return &replayer{
		allocator: allocator,
		blocks:    make([]replayBlock, numIDs),
	}
}

func overwrite(t *testing.T, r *replayer, id, index int) {
	payload, err := r.allocator.Payload(r.blocks[id].ptr)
	require.NoError(t, err)
	payload[index]++
}

func TestReplayerDetectsOverwriteOnResize(t *testing.T) {
	r := newTestReplayer(t, 2)

	require.NoError(t, r.apply(Op{Kind: OpAllocate, ID: 0, Size: 64}))
	require.NoError(t, r.apply(Op{Kind: OpAllocate, ID: 1, Size: 64}))
	require.NoError(t, r.check(0, 64))

	overwrite(t, r, 0, 10)

	// The block is boxed in, so the resize moves it and copies the damaged byte along
	err := r.apply(Op{Kind: OpResize, ID: 0, Size: 200})
	require.ErrorIs(t, err, ErrContentMismatch)
	require.Contains(t, err.Error(), "byte 10 of id 0")
}

func TestReplayerDetectsOverwriteOnRelease(t *testing.T) {
	r := newTestReplayer(t, 2)

	require.NoError(t, r.apply(Op{Kind: OpAllocate, ID: 0, Size: 64}))
	require.NoError(t, r.apply(Op{Kind: OpAllocate, ID: 1, Size: 32}))

	overwrite(t, r, 1, 31)

	err := r.apply(Op{Kind: OpRelease, ID: 1})
	require.ErrorIs(t, err, ErrContentMismatch)
	require.Contains(t, err.Error(), "byte 31 of id 1")

	// Untouched blocks still check out
	require.NoError(t, r.apply(Op{Kind: OpRelease, ID: 0}))
}
