package malloc_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segheap/malloc"
	"github.com/vkngwrapper/segheap/malloc/mocks"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/heap"
	"github.com/vkngwrapper/segheap/memutils/layout"
	"go.uber.org/mock/gomock"
)

// mockProvider returns a mock that serves everything but Extend from a real region
func mockProvider(t *testing.T, ctrl *gomock.Controller) (*mocks.MockProvider, *heap.Region) {
	region, err := heap.New(0)
	require.NoError(t, err)

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Size().DoAndReturn(region.Size).AnyTimes()
	provider.EXPECT().MaxSize().DoAndReturn(region.MaxSize).AnyTimes()
	provider.EXPECT().PageSize().DoAndReturn(region.PageSize).AnyTimes()
	provider.EXPECT().Bytes().DoAndReturn(region.Bytes).AnyTimes()

	return provider, region
}

func TestInitExtendFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider, _ := mockProvider(t, ctrl)
	provider.EXPECT().Extend(layout.InitialSize).Return(-1, errors.Wrap(memutils.ErrOutOfMemory, "no room"))

	_, err := malloc.New(testLogger(), provider, malloc.CreateOptions{})
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
}

func TestInitChunkFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider, region := mockProvider(t, ctrl)
	gomock.InOrder(
		provider.EXPECT().Extend(layout.InitialSize).DoAndReturn(region.Extend),
		provider.EXPECT().Extend(malloc.DefaultChunkSize).Return(-1, errors.Wrap(memutils.ErrOutOfMemory, "no room")),
	)

	_, err := malloc.New(testLogger(), provider, malloc.CreateOptions{})
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Equal(t, layout.InitialSize, region.Size())
}

func TestAllocateExtendFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider, region := mockProvider(t, ctrl)
	provider.EXPECT().Extend(layout.InitialSize).DoAndReturn(region.Extend)
	provider.EXPECT().Extend(malloc.DefaultChunkSize).DoAndReturn(region.Extend)
	provider.EXPECT().Extend(5008).Return(-1, errors.Wrap(memutils.ErrOutOfMemory, "no room"))

	allocator, err := malloc.New(testLogger(), provider, malloc.CreateOptions{Flags: malloc.CreateValidateEveryOp})
	require.NoError(t, err)

	p, err := allocator.Allocate(100)
	require.NoError(t, err)
	fill(t, allocator, p, 1)

	_, err = allocator.Allocate(5000)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	require.NoError(t, allocator.Validate())
	requireFilled(t, allocator, p, 1, 100)
	require.Equal(t, 4112, region.Size())
}

func TestResizeFallsBackWhenExtendFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider, region := mockProvider(t, ctrl)
	provider.EXPECT().Extend(layout.InitialSize).DoAndReturn(region.Extend)
	provider.EXPECT().Extend(malloc.DefaultChunkSize).DoAndReturn(region.Extend)

	allocator, err := malloc.New(testLogger(), provider, malloc.CreateOptions{Flags: malloc.CreateValidateEveryOp})
	require.NoError(t, err)

	a, err := allocator.Allocate(2000)
	require.NoError(t, err)
	b, err := allocator.Allocate(2080)
	require.NoError(t, err)
	fill(t, allocator, b, 4)

	// b is the last block but the heap refuses to grow by the deficit, so the free space in
	// front of it is used instead
	allocator.Release(a)
	provider.EXPECT().Extend(104).Return(-1, errors.Wrap(memutils.ErrOutOfMemory, "no room"))

	p, err := allocator.Resize(b, 2180)
	require.NoError(t, err)
	require.Equal(t, a, p)
	requireFilled(t, allocator, p, 4, 2080)
	require.Equal(t, 4112, region.Size())
}
