package trace

import (
	"bufio"
	"io"
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/segheap/memutils"
)

const maxOpsHint = 4096

type tokenReader struct {
	scanner *bufio.Scanner
}

func (r *tokenReader) next(what string) (string, error) {
	if !r.scanner.Scan() {
		err := r.scanner.Err()
		if err != nil {
			return "", errors.Wrapf(err, "failed to read %s", what)
		}
		return "", errors.Errorf("trace ended while reading %s", what)
	}

	return r.scanner.Text(), nil
}

func (r *tokenReader) int(what string) (int, error) {
	token, err := r.next(what)
	if err != nil {
		return 0, err
	}

	value, err := strconv.Atoi(token)
	if err != nil {
		return 0, errors.Errorf("%s is %q, which is not an integer", what, token)
	}
	return value, nil
}

// Parse reads a trace in the text format: four header integers (suggested heap size, id count,
// op count, weight) followed by one op per line, written as "a <id> <size>", "r <id> <size>",
// or "f <id>". Tokens may be separated by any whitespace. The trace is validated before it is
// returned.
func Parse(in io.Reader) (*Trace, error) {
	scanner := bufio.NewScanner(in)
	scanner.Split(bufio.ScanWords)
	r := &tokenReader{scanner: scanner}

	var t Trace
	var numOps int
	var err error

	header := []struct {
		name  string
		value *int
	}{
		{"suggested heap size", &t.SuggestedHeapSize},
		{"id count", &t.NumIDs},
		{"op count", &numOps},
		{"weight", &t.Weight},
	}
	for _, field := range header {
		*field.value, err = r.int(field.name)
		if err != nil {
			return nil, err
		}
	}

	if numOps < 0 {
		return nil, errors.Errorf("trace has a negative op count %d", numOps)
	}
	// The header is only trusted as far as the ops that follow it
	t.Ops = make([]Op, 0, memutils.Min(numOps, maxOpsHint))

	for scanner.Scan() {
		token := scanner.Text()
		if len(token) != 1 {
			return nil, errors.Errorf("op %d has unknown kind %q", len(t.Ops), token)
		}

		op := Op{Kind: OpKind(token[0])}
		switch op.Kind {
		case OpAllocate, OpResize:
			op.ID, err = r.int("op id")
			if err != nil {
				return nil, err
			}
			op.Size, err = r.int("op size")
			if err != nil {
				return nil, err
			}
		case OpRelease:
			op.ID, err = r.int("op id")
			if err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("op %d has unknown kind %q", len(t.Ops), token)
		}

		t.Ops = append(t.Ops, op)
	}

	err = scanner.Err()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read trace ops")
	}

	if len(t.Ops) != numOps {
		return nil, errors.Errorf("trace header lists %d ops, but the trace holds %d", numOps, len(t.Ops))
	}

	err = t.Validate()
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// ParseJSON reads a trace in the JSON format:
//
//	{"suggestedHeapSize": 4096, "numIds": 2, "weight": 1, "ops": [{"op": "a", "id": 0, "size": 64}, {"op": "f", "id": 0}]}
//
// Every header field is optional. When numIds is missing it is one more than the largest id
// the ops use. The trace is validated before it is returned.
func ParseJSON(data []byte) (*Trace, error) {
	var t Trace
	numIDs := -1

	r := jreader.NewReader(data)
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "suggestedHeapSize":
			t.SuggestedHeapSize = r.Int()
		case "numIds":
			numIDs = r.Int()
		case "weight":
			t.Weight = r.Int()
		case "ops":
			for arr := r.Array(); arr.Next(); {
				op, err := readJSONOp(&r, len(t.Ops))
				if err != nil {
					return nil, err
				}
				t.Ops = append(t.Ops, op)
			}
		default:
			_ = r.SkipValue()
		}
	}

	err := r.Error()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read JSON trace")
	}

	if numIDs < 0 {
		for _, op := range t.Ops {
			if op.ID >= numIDs {
				numIDs = op.ID + 1
			}
		}
		if numIDs < 0 {
			numIDs = 0
		}
	}
	t.NumIDs = numIDs

	err = t.Validate()
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func readJSONOp(r *jreader.Reader, index int) (Op, error) {
	var op Op
	var kind string

	for obj := r.Object().WithRequiredProperties([]string{"op", "id"}); obj.Next(); {
		switch string(obj.Name()) {
		case "op":
			kind = r.String()
		case "id":
			op.ID = r.Int()
		case "size":
			op.Size = r.Int()
		default:
			_ = r.SkipValue()
		}
	}

	err := r.Error()
	if err != nil {
		return op, errors.Wrap(err, "failed to read JSON trace")
	}

	if len(kind) != 1 {
		return op, errors.Errorf("op %d has unknown kind %q", index, kind)
	}
	op.Kind = OpKind(kind[0])

	return op, nil
}
