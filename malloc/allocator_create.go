package malloc

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/freelist"
	"github.com/vkngwrapper/segheap/memutils/heap"
	"github.com/vkngwrapper/segheap/memutils/layout"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateValidateEveryOp runs Validate after every public operation that changes the heap
	// and panics if it fails. It is slow and meant for tests and debugging.
	CreateValidateEveryOp CreateFlags = 1 << iota
	// CreateZeroPayloads clears every newly allocated payload byte, including the bytes a
	// Resize adds to an existing allocation
	CreateZeroPayloads
)

var createFlagNames = []struct {
	flag CreateFlags
	name string
}{
	{CreateValidateEveryOp, "CreateValidateEveryOp"},
	{CreateZeroPayloads, "CreateZeroPayloads"},
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var sb strings.Builder
	for _, entry := range createFlagNames {
		if f&entry.flag == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("|")
		}
		sb.WriteString(entry.name)
		f &^= entry.flag
	}

	if f != 0 {
		if sb.Len() > 0 {
			sb.WriteString("|")
		}
		sb.WriteString("UNKNOWN")
	}

	return sb.String()
}

const (
	// DefaultChunkSize is the amount the heap grows by when no free block can satisfy a request
	// and no ChunkSize is provided via CreateOptions. It is equal to 4Kb.
	DefaultChunkSize int = 4096

	initialRegistryCapacity = 64
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// ChunkSize is the minimum number of bytes the heap is extended by when it runs out of
	// free blocks, and the size of the first free block. It is rounded up to a multiple of
	// the heap alignment.
	ChunkSize int
}

// New creates a new Allocator over provider and initializes its heap
//
// logger - Receives debug output for every operation and errors for unreleased memory
//
// provider - An empty heap region that the allocator will own from now on
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, provider heap.Provider, options CreateOptions) (*Allocator, error) {
	if provider == nil {
		return nil, errors.New("malloc.New requires a heap provider")
	}

	chunkSize := options.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < layout.MinBlockSize {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "chunk size %d is smaller than the minimum block size of %d", chunkSize, layout.MinBlockSize)
	}

	arena := layout.NewArena(provider)
	allocator := &Allocator{
		logger:      logger,
		provider:    provider,
		arena:       arena,
		index:       freelist.New(arena),
		requested:   swiss.NewMap[layout.Ptr, int](initialRegistryCapacity),
		chunkSize:   memutils.AlignUp(chunkSize, layout.Alignment),
		createFlags: options.Flags,
	}

	logger.Debug("Allocator::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("ChunkSize", allocator.chunkSize),
		slog.Int("MaxHeapBytes", provider.MaxSize()),
		slog.Int("PageSize", provider.PageSize()),
		slog.Bool("DebugValidation", memutils.DebugEnabled),
	)

	err := allocator.Init()
	if err != nil {
		return nil, err
	}

	return allocator, nil
}
