package malloc_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segheap/malloc"
)

type mapBlock struct {
	offset int
	size   int
	kind   string
}

func readDetailedMap(t *testing.T, data []byte) (int, []mapBlock) {
	var heapBytes int
	var blocks []mapBlock

	r := jreader.NewReader(data)
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "HeapBytes":
			heapBytes = r.Int()
		case "Blocks":
			for arr := r.Array(); arr.Next(); {
				var block mapBlock
				for blockObj := r.Object(); blockObj.Next(); {
					switch string(blockObj.Name()) {
					case "Offset":
						block.offset = r.Int()
					case "Size":
						block.size = r.Int()
					case "Type":
						block.kind = r.String()
					default:
						r.SkipValue()
					}
				}
				blocks = append(blocks, block)
			}
		default:
			r.SkipValue()
		}
	}
	require.NoError(t, r.Error())

	return heapBytes, blocks
}

func TestPrintDetailedMap(t *testing.T) {
	allocator, _ := readyAllocator(t, 0, malloc.CreateOptions{})

	a, err := allocator.Allocate(100)
	require.NoError(t, err)
	_, err = allocator.Allocate(24)
	require.NoError(t, err)
	allocator.Release(a)

	writer := jwriter.NewWriter()
	allocator.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	heapBytes, blocks := readDetailedMap(t, writer.Bytes())
	require.Equal(t, 4112, heapBytes)
	require.Equal(t, []mapBlock{
		{offset: 16, size: 112, kind: "FREE"},
		{offset: 128, size: 32, kind: "ALLOCATED"},
		{offset: 160, size: 3952, kind: "FREE"},
	}, blocks)
}

func TestBuildStatsString(t *testing.T) {
	allocator, _ := readyAllocator(t, 0, malloc.CreateOptions{})

	_, err := allocator.Allocate(100)
	require.NoError(t, err)

	str := allocator.BuildStatsString(false)
	require.Contains(t, str, `"Total":{"HeapBytes":4112,"AllocationCount":1,"AllocationBytes":112,"RequestedBytes":100`)
	require.NotContains(t, str, "DetailedMap")

	str = allocator.BuildStatsString(true)
	require.Contains(t, str, `"DetailedMap":{"HeapBytes":4112`)
	require.Contains(t, str, `{"Offset":16,"Size":112,"Type":"ALLOCATED","RequestedSize":100}`)
	require.Contains(t, str, `{"MinSize":24,"MaxSize":31,"FreeBlocks":0}`)
	require.Contains(t, str, `{"MinSize":8192,"FreeBlocks":0}`)
}
