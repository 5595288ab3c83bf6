package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segheap/memutils"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 8))
	require.Equal(t, 8, memutils.AlignUp(1, 8))
	require.Equal(t, 8, memutils.AlignUp(8, 8))
	require.Equal(t, 16, memutils.AlignUp(9, 8))
	require.Equal(t, uint32(4096), memutils.AlignUp(uint32(4001), 4096))
}

func TestIsAligned(t *testing.T) {
	require.True(t, memutils.IsAligned(24, 8))
	require.False(t, memutils.IsAligned(20, 8))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(8, "alignment"))
	require.NoError(t, memutils.CheckPow2(uint(4096), "pageSize"))

	err := memutils.CheckPow2(24, "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 24")

	require.Error(t, memutils.CheckPow2(0, "alignment"))
}

func TestStatisticsUtilization(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	require.Zero(t, stats.Utilization())

	stats.HeapBytes = 4112
	stats.AddAllocation(112, 100)
	stats.AddAllocation(32, 20)
	stats.AddFreeBlock(3968)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 144, stats.AllocationBytes)
	require.Equal(t, 120, stats.RequestedBytes)
	require.Equal(t, 32, stats.AllocationSizeMin)
	require.Equal(t, 112, stats.AllocationSizeMax)
	require.Equal(t, 1, stats.FreeBlockCount)
	require.Equal(t, 3968, stats.FreeBytes)
	require.InDelta(t, 120.0/4112.0, stats.Utilization(), 1e-9)
	require.Contains(t, stats.String(), "2 allocations")

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)
	total.AddDetailedStatistics(&stats)
	require.Equal(t, 4, total.AllocationCount)
	require.Equal(t, 2*4112, total.HeapBytes)
	require.Equal(t, 32, total.AllocationSizeMin)
	require.Equal(t, 3968, total.FreeBlockSizeMax)
}
