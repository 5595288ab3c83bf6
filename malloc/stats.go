package malloc

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/freelist"
	"github.com/vkngwrapper/segheap/memutils/layout"
)

// AddStatistics adds this heap's statistics to stats. It only visits live allocations.
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	stats.HeapBytes += a.provider.Size()

	a.requested.Iter(func(p layout.Ptr, requested int) bool {
		stats.AllocationCount++
		stats.AllocationBytes += a.arena.Size(p)
		stats.RequestedBytes += requested
		return false
	})
}

// AddDetailedStatistics adds this heap's statistics to stats by walking every block
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapBytes += a.provider.Size()

	_ = a.arena.Walk(func(p layout.Ptr, size int, allocated bool) error {
		if allocated {
			requested, _ := a.requested.Get(p)
			stats.AddAllocation(size, requested)
		} else {
			stats.AddFreeBlock(size)
		}
		return nil
	})
}

// PrintDetailedMap writes a JSON object describing the heap, its size classes, and every block
// in address order
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("HeapBytes").Int(a.provider.Size())
	objState.Name("MaxHeapBytes").Int(a.provider.MaxSize())
	objState.Name("ChunkSize").Int(a.chunkSize)
	objState.Name("FreeBlocks").Int(a.index.Len())
	objState.Name("FreeBytes").Int(a.index.FreeBytes())

	a.printSizeClasses(&objState)
	a.printBlocks(&objState)
}

func (a *Allocator) printSizeClasses(json *jwriter.ObjectState) {
	arrayState := json.Name("SizeClasses").Array()
	defer arrayState.End()

	for class := 0; class < freelist.NumClasses; class++ {
		lower, upper := freelist.ClassBounds(class)

		obj := arrayState.Object()
		obj.Name("MinSize").Int(lower)
		if upper != math.MaxInt {
			obj.Name("MaxSize").Int(upper)
		}
		obj.Name("FreeBlocks").Int(a.index.ClassLen(class))
		obj.End()
	}
}

func (a *Allocator) printBlocks(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = a.arena.Walk(func(p layout.Ptr, size int, allocated bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(p))
		obj.Name("Size").Int(size)

		if allocated {
			requested, _ := a.requested.Get(p)
			obj.Name("Type").String("ALLOCATED")
			obj.Name("RequestedSize").Int(requested)
		} else {
			obj.Name("Type").String("FREE")
			obj.Name("SizeClass").Int(freelist.ClassOf(size))
		}

		return nil
	})
}

func writeStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("HeapBytes").Int(stats.HeapBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("RequestedBytes").Int(stats.RequestedBytes)
	json.Name("FreeBlockCount").Int(stats.FreeBlockCount)
	json.Name("FreeBytes").Int(stats.FreeBytes)
	json.Name("Utilization").Float64(stats.Utilization())

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.FreeBlockCount > 0 {
		json.Name("FreeBlockSizeMin").Int(stats.FreeBlockSizeMin)
		json.Name("FreeBlockSizeMax").Int(stats.FreeBlockSizeMax)
	}
}

// BuildStatsString returns a JSON document with this heap's statistics and, if detailed is
// true, the full map written by PrintDetailedMap
func (a *Allocator) BuildStatsString(detailed bool) string {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	totalObj := objState.Name("Total").Object()
	writeStatistics(&totalObj, &stats)
	totalObj.End()

	if detailed {
		a.PrintDetailedMap(objState.Name("DetailedMap"))
	}

	objState.End()
	return string(writer.Bytes())
}
