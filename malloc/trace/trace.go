// Package trace reads allocation traces and replays them against a malloc.Allocator.
//
// A trace is a sequence of allocate, resize, and release requests that refer to blocks by a
// small integer id rather than an address. Replaying a trace checks that every block's
// contents survive until it is released and measures how well the heap was used.
package trace

import (
	"github.com/pkg/errors"
)

type OpKind byte

const (
	OpAllocate OpKind = 'a'
	OpResize   OpKind = 'r'
	OpRelease  OpKind = 'f'
)

func (k OpKind) String() string {
	switch k {
	case OpAllocate:
		return "Allocate"
	case OpResize:
		return "Resize"
	case OpRelease:
		return "Release"
	}

	return "Unknown"
}

// Op is a single trace request. Size is unused by OpRelease.
type Op struct {
	Kind OpKind
	ID   int
	Size int
}

type Trace struct {
	// SuggestedHeapSize is a hint carried by the trace file. It does not limit replay.
	SuggestedHeapSize int
	// NumIDs is the number of distinct block ids the trace uses
	NumIDs int
	// Weight is the trace's weight when several traces are scored together
	Weight int
	Ops    []Op
}

// Validate checks that every op refers to an id in range, that ids are only allocated while
// they are not live, and that only live ids are resized or released. A trace cannot have more
// ids than ops, since every id must be allocated by one.
func (t *Trace) Validate() error {
	if t.NumIDs < 0 {
		return errors.Errorf("trace has a negative id count %d", t.NumIDs)
	}
	if t.NumIDs > len(t.Ops) {
		return errors.Errorf("trace has %d ids but only %d ops", t.NumIDs, len(t.Ops))
	}

	live := make([]bool, t.NumIDs)
	for index, op := range t.Ops {
		if op.ID < 0 || op.ID >= t.NumIDs {
			return errors.Errorf("op %d refers to id %d, but the trace only has %d ids", index, op.ID, t.NumIDs)
		}

		switch op.Kind {
		case OpAllocate:
			if live[op.ID] {
				return errors.Errorf("op %d allocates id %d, which is already live", index, op.ID)
			}
			if op.Size < 0 {
				return errors.Errorf("op %d allocates a negative size %d", index, op.Size)
			}
			live[op.ID] = true
		case OpResize:
			if !live[op.ID] {
				return errors.Errorf("op %d resizes id %d, which is not live", index, op.ID)
			}
			if op.Size < 0 {
				return errors.Errorf("op %d resizes to a negative size %d", index, op.Size)
			}
		case OpRelease:
			if !live[op.ID] {
				return errors.Errorf("op %d releases id %d, which is not live", index, op.ID)
			}
			live[op.ID] = false
		default:
			return errors.Errorf("op %d has unknown kind %q", index, byte(op.Kind))
		}
	}

	return nil
}
