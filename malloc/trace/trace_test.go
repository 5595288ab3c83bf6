package trace_test

import (
	"io"
	"strings"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segheap/malloc"
	"github.com/vkngwrapper/segheap/malloc/trace"
	"github.com/vkngwrapper/segheap/memutils"
	"github.com/vkngwrapper/segheap/memutils/heap"
	"golang.org/x/exp/slog"
)

const shortTrace = `20000
3
8
1
a 0 512
a 1 128
r 0 640
a 2 128
f 1
r 0 768
f 0
f 2
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	tr, err := trace.Parse(strings.NewReader(shortTrace))
	require.NoError(t, err)

	require.Equal(t, 20000, tr.SuggestedHeapSize)
	require.Equal(t, 3, tr.NumIDs)
	require.Equal(t, 1, tr.Weight)
	require.Len(t, tr.Ops, 8)
	require.Equal(t, trace.Op{Kind: trace.OpAllocate, ID: 0, Size: 512}, tr.Ops[0])
	require.Equal(t, trace.Op{Kind: trace.OpResize, ID: 0, Size: 640}, tr.Ops[2])
	require.Equal(t, trace.Op{Kind: trace.OpRelease, ID: 1}, tr.Ops[4])
}

func TestParseErrors(t *testing.T) {
	testCases := map[string]string{
		"20000\n3\n":                         "trace ended while reading op count",
		"20000\n1\nx\n1\n":                   "op count is \"x\"",
		"20000\n1\n2\n1\na 0 8\n":            "header lists 2 ops, but the trace holds 1",
		"20000\n1\n1\n1\nq 0 8\n":            "unknown kind",
		"20000\n1\n1\n1\na 0\n":              "trace ended while reading op size",
		"20000\n1\n2\n1\na 0 8\na 0 8\n":     "already live",
		"20000\n1\n1\n1\nf 0\n":              "not live",
		"20000\n1\n1\n1\na 3 8\n":            "only has 1 ids",
		"0 4000000000000000000 1 1\na 0 8\n": "trace has 4000000000000000000 ids but only 1 ops",
		"0 1 4000000000000000000 1\na 0 8\n": "header lists 4000000000000000000 ops, but the trace holds 1",
	}

	for input, message := range testCases {
		_, err := trace.Parse(strings.NewReader(input))
		require.Errorf(t, err, "input %q", input)
		require.Containsf(t, err.Error(), message, "input %q", input)
	}
}

func TestParseJSON(t *testing.T) {
	tr, err := trace.ParseJSON([]byte(`{
		"suggestedHeapSize": 4096,
		"weight": 2,
		"comment": ["ignored"],
		"ops": [
			{"op": "a", "id": 0, "size": 64},
			{"op": "a", "id": 4, "size": 10},
			{"op": "r", "id": 0, "size": 200},
			{"op": "f", "id": 0},
			{"op": "f", "id": 4}
		]
	}`))
	require.NoError(t, err)

	require.Equal(t, 4096, tr.SuggestedHeapSize)
	require.Equal(t, 2, tr.Weight)
	require.Equal(t, 5, tr.NumIDs)
	require.Equal(t, []trace.Op{
		{Kind: trace.OpAllocate, ID: 0, Size: 64},
		{Kind: trace.OpAllocate, ID: 4, Size: 10},
		{Kind: trace.OpResize, ID: 0, Size: 200},
		{Kind: trace.OpRelease, ID: 0},
		{Kind: trace.OpRelease, ID: 4},
	}, tr.Ops)

	_, err = trace.ParseJSON([]byte(`{"ops": [{"op": "a", "size": 8}]}`))
	require.Error(t, err)

	_, err = trace.ParseJSON([]byte(`{"ops": [{"op": "alloc", "id": 0}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown kind")

	_, err = trace.ParseJSON([]byte(`{"numIds": 4000000000000000000, "ops": [{"op": "a", "id": 0, "size": 8}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "only 1 ops")

	_, err = trace.ParseJSON([]byte(`{"ops": [{"op": "a", "id": 4000000000000000000, "size": 8}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "only 1 ops")

	_, err = trace.ParseJSON([]byte(`{"numIds": 1, "ops": [{"op": "f", "id": 0}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not live")
}

func TestReplay(t *testing.T) {
	tr, err := trace.Parse(strings.NewReader(shortTrace))
	require.NoError(t, err)

	region, err := heap.New(0)
	require.NoError(t, err)

	result, err := trace.Replay(testLogger(), region, tr, trace.ReplayOptions{CheckHeap: true})
	require.NoError(t, err)

	require.Equal(t, 8, result.Ops)
	require.Equal(t, 3, result.Allocations)
	require.Equal(t, 2, result.Resizes)
	require.Equal(t, 3, result.Releases)
	require.Equal(t, 896, result.PeakRequestedBytes)
	require.Equal(t, 4112, result.HeapBytes)
	require.InDelta(t, 896.0/4112.0, result.Utilization(), 1e-9)
	require.Equal(t, 1, result.Stats.FreeBlockCount)
	require.Equal(t, 4096, result.Stats.FreeBytes)
	require.Equal(t, "8 ops (3 allocations, 2 resizes, 3 releases): peak payload 896 B in a 4.0 KiB heap, 21.8% utilization", result.String())

	writer := jwriter.NewWriter()
	result.WriteJSON(&writer)
	require.NoError(t, writer.Error())
	require.Contains(t, string(writer.Bytes()), `"PeakRequestedBytes":896,"HeapBytes":4112`)

	// The region is reset between replays
	again, err := trace.Replay(testLogger(), region, tr, trace.ReplayOptions{})
	require.NoError(t, err)
	require.Equal(t, result, again)
}

func TestReplayOutOfMemory(t *testing.T) {
	tr, err := trace.ParseJSON([]byte(`{"ops": [
		{"op": "a", "id": 0, "size": 3000},
		{"op": "a", "id": 1, "size": 3000},
		{"op": "f", "id": 0},
		{"op": "f", "id": 1}
	]}`))
	require.NoError(t, err)

	region, err := heap.New(8192)
	require.NoError(t, err)

	result, err := trace.Replay(testLogger(), region, tr, trace.ReplayOptions{
		Create: malloc.CreateOptions{Flags: malloc.CreateValidateEveryOp},
	})
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Contains(t, err.Error(), "op 1")
	require.Equal(t, 1, result.Ops)
}

func TestReplayZeroSizes(t *testing.T) {
	tr, err := trace.ParseJSON([]byte(`{"ops": [
		{"op": "a", "id": 0, "size": 0},
		{"op": "r", "id": 0, "size": 40},
		{"op": "r", "id": 0, "size": 0},
		{"op": "r", "id": 0, "size": 16},
		{"op": "f", "id": 0}
	]}`))
	require.NoError(t, err)

	region, err := heap.New(0)
	require.NoError(t, err)

	result, err := trace.Replay(testLogger(), region, tr, trace.ReplayOptions{CheckHeap: true})
	require.NoError(t, err)
	require.Equal(t, 5, result.Ops)
	require.Equal(t, 40, result.PeakRequestedBytes)
	require.Zero(t, result.Stats.AllocationCount)
}
