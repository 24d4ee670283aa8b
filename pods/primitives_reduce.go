package pods

import (
	"fmt"

	"github.com/openfluke/blockscan/scan"
)

type ReduceIn struct {
	In []int32
}
type ReduceOut struct {
	Value int32 // wrapping sum
}

// ReducePod sums its input as the last element of an inclusive scan.
type ReducePod struct{}

func (ReducePod) Name() string { return "primitives/reduce" }

func (ReducePod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ReduceIn)
	if !ok {
		return nil, fmt.Errorf("%w: ReduceIn expected, got %T", ErrInput, in)
	}
	if len(args.In) == 0 {
		return ReduceOut{0}, nil
	}
	out, _, _, err := runScan(x, args.In, scan.Inclusive, 0)
	if err != nil {
		return nil, err
	}
	return ReduceOut{Value: out[len(out)-1]}, nil
}
