package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/segheap/malloc"
	"github.com/vkngwrapper/segheap/malloc/trace"
	"github.com/vkngwrapper/segheap/memutils/heap"
)

type replayFlags struct {
	maxHeap    int
	chunkSize  int
	mapped     bool
	check      bool
	validateOp bool
	zero       bool
}

func newReplayCmd() *cobra.Command {
	var flags replayFlags

	cmd := &cobra.Command{
		Use:   "replay <trace>...",
		Short: "Replay one or more traces",
		Long: `The replay command runs each trace against a fresh heap and prints the
peak payload, final heap size and space utilization of every run. Files ending
in .json are read as JSON traces, everything else as malloc-lab text traces.

Example:
  mdriver replay traces/binary-bal.rep
  mdriver replay traces/*.rep --check=false --max-heap 67108864
  mdriver replay short.json --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, flags, args)
		},
	}

	cmd.Flags().IntVar(&flags.maxHeap, "max-heap", heap.DefaultMaxSize, "Largest heap the allocator may grow to, in bytes")
	cmd.Flags().IntVar(&flags.chunkSize, "chunk-size", malloc.DefaultChunkSize, "Minimum number of bytes to extend the heap by")
	cmd.Flags().BoolVar(&flags.mapped, "mapped", false, "Reserve the heap with an anonymous mapping instead of a Go slice")
	cmd.Flags().BoolVar(&flags.check, "check", true, "Run the heap checker after every op")
	cmd.Flags().BoolVar(&flags.validateOp, "validate-every-op", false, "Panic as soon as an allocator operation corrupts the heap")
	cmd.Flags().BoolVar(&flags.zero, "zero", false, "Clear every newly allocated payload byte")
	return cmd
}

func readTrace(path string) (*trace.Trace, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return trace.ParseJSON(data)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return trace.Parse(file)
}

func newRegion(flags replayFlags) (*heap.Region, error) {
	if flags.mapped {
		return heap.NewMapped(flags.maxHeap)
	}
	return heap.New(flags.maxHeap)
}

type replayRun struct {
	path   string
	result trace.Result
}

func runReplay(cmd *cobra.Command, flags replayFlags, paths []string) (err error) {
	region, err := newRegion(flags)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, region.Close())
	}()

	options := trace.ReplayOptions{
		Create:    malloc.CreateOptions{ChunkSize: flags.chunkSize},
		CheckHeap: flags.check,
	}
	if flags.validateOp {
		options.Create.Flags |= malloc.CreateValidateEveryOp
	}
	if flags.zero {
		options.Create.Flags |= malloc.CreateZeroPayloads
	}

	logger := newLogger(cmd.ErrOrStderr())
	runs := make([]replayRun, 0, len(paths))

	for _, path := range paths {
		t, err := readTrace(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read trace %s", path)
		}

		result, err := trace.Replay(logger.With("Trace", path), region, t, options)
		if err != nil {
			return errors.Wrapf(err, "trace %s", path)
		}

		runs = append(runs, replayRun{path: path, result: result})
	}

	if jsonOut {
		return printRunsJSON(cmd, runs)
	}

	var utilization float64
	for _, run := range runs {
		printInfo(cmd.OutOrStdout(), "%s: %s\n", run.path, run.result.String())
		utilization += run.result.Utilization()
	}
	if len(runs) > 1 {
		printInfo(cmd.OutOrStdout(), "%d traces, average utilization %.1f%%\n",
			len(runs), utilization/float64(len(runs))*100)
	}
	return nil
}

func printRunsJSON(cmd *cobra.Command, runs []replayRun) error {
	writer := jwriter.NewWriter()
	arrayState := writer.Array()

	for _, run := range runs {
		objState := arrayState.Object()
		objState.Name("Trace").String(run.path)
		run.result.WriteJSON(objState.Name("Result"))
		objState.End()
	}
	arrayState.End()

	if err := writer.Error(); err != nil {
		return err
	}

	_, err := cmd.OutOrStdout().Write(append(writer.Bytes(), '\n'))
	return err
}
