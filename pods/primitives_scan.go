package pods

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openfluke/blockscan/cpu"
	"github.com/openfluke/blockscan/scan"
)

type ScanIn struct {
	In        []int32
	Inclusive bool
	// BlockSize overrides the detector recommendation when non-zero.
	BlockSize int
}
type ScanOut struct {
	Out    []int32
	Report scan.Report
	OnGPU  bool
}

type ScanPod struct{}

func (ScanPod) Name() string { return "primitives/scan" }

func (ScanPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ScanIn)
	if !ok {
		return nil, fmt.Errorf("%w: ScanIn expected, got %T", ErrInput, in)
	}
	mode := scan.Exclusive
	if args.Inclusive {
		mode = scan.Inclusive
	}
	out, rep, onGPU, err := runScan(x, args.In, mode, args.BlockSize)
	if err != nil {
		return nil, err
	}
	return ScanOut{Out: out, Report: rep, OnGPU: onGPU}, nil
}

// runScan runs the coordinator on the GPU when requested and available,
// otherwise on a CPU executor sized from the detector report.
func runScan(x *ExecContext, in []int32, mode scan.Mode, blockSize int) ([]int32, scan.Report, bool, error) {
	log := x.logger()
	if x.UseGPU && x.GPU != nil {
		exec, err := x.GPU.Executor()
		switch {
		case err == nil:
			bs := pickBlockSize(x, blockSize, true)
			out, rep, err := scanWith(x, exec, in, mode, bs)
			return out, rep, true, err
		case errors.Is(err, ErrNoGPU):
			log.Debug("gpu not built in, using cpu")
		default:
			log.Warn("gpu executor unavailable, falling back to cpu", zap.Error(err))
		}
	}

	var opts []cpu.Option
	if x.Report != nil {
		opts = append(opts, cpu.WithWorkers(x.Report.Recommended.Workers))
	}
	opts = append(opts, cpu.WithLogger(log))
	out, rep, err := scanWith(x, cpu.New(opts...), in, mode, pickBlockSize(x, blockSize, false))
	return out, rep, false, err
}

func scanWith(x *ExecContext, exec scan.Executor, in []int32, mode scan.Mode, bs int) ([]int32, scan.Report, error) {
	s, err := scan.New(exec,
		scan.WithBlockSize(bs),
		scan.WithMode(mode),
		scan.WithLogger(x.logger()))
	if err != nil {
		return nil, scan.Report{}, err
	}
	return s.ScanWithReport(x.context(), in, len(in))
}

func pickBlockSize(x *ExecContext, requested int, onGPU bool) int {
	bs := requested
	if bs == 0 && x.Report != nil {
		if onGPU {
			bs = x.Report.Recommended.GPUBlockSize
		} else {
			bs = x.Report.Recommended.CPUBlockSize
		}
	}
	if bs == 0 {
		bs = scan.DefaultBlockSize
	}
	if onGPU {
		if limit := x.GPU.MaxBlockSize(); limit > 0 && bs > limit {
			bs = limit
		}
	}
	return bs
}
