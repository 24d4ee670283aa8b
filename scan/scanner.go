package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scanner computes prefix sums of int32 sequences on an Executor by scanning
// fixed-size blocks in parallel and recursing on the block totals.
//
// Host-side orchestration is sequential: every dispatch completes before the
// step that depends on it is issued. A Scanner holds no per-call state and
// may be shared, provided the Executor tolerates concurrent callers.
type Scanner struct {
	exec Executor
	opts options
}

// New returns a Scanner driving exec.
func New(exec Executor, opts ...Option) (*Scanner, error) {
	if exec == nil {
		return nil, fmt.Errorf("%w: nil executor", ErrContract)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.blockSize < 2 || o.blockSize > MaxBlockSize {
		return nil, fmt.Errorf("%w: block size %d outside [2, %d]", ErrContract, o.blockSize, MaxBlockSize)
	}
	if o.mode != Exclusive && o.mode != Inclusive {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrContract, o.mode)
	}
	if o.padding != PadCeil && o.padding != PadLegacy {
		return nil, fmt.Errorf("%w: unknown padding policy %d", ErrContract, o.padding)
	}
	if o.padding == PadLegacy && o.blockSize < 3 {
		// Two elements would pad to two blocks of two forever.
		return nil, fmt.Errorf("%w: legacy padding needs a block size of at least 3", ErrContract)
	}
	return &Scanner{exec: exec, opts: o}, nil
}

func (s *Scanner) BlockSize() int     { return s.opts.blockSize }
func (s *Scanner) Mode() Mode         { return s.opts.mode }
func (s *Scanner) Padding() PadPolicy { return s.opts.padding }

// Scan returns the running sum of input[:n]. The result has exactly n
// elements; on error it is nil.
func (s *Scanner) Scan(ctx context.Context, input []int32, n int) ([]int32, error) {
	out, _, err := s.ScanWithReport(ctx, input, n)
	return out, err
}

// run is the bookkeeping of one ScanWithReport call.
type run struct {
	log         *zap.Logger
	levels      int
	dispatches  int
	allocations int
}

// ScanWithReport is Scan plus a summary of the work performed.
func (s *Scanner) ScanWithReport(ctx context.Context, input []int32, n int) ([]int32, Report, error) {
	start := time.Now()
	rep := Report{
		RunID:     uuid.New(),
		N:         n,
		BlockSize: s.opts.blockSize,
		Mode:      s.opts.mode.String(),
		Padding:   s.opts.padding.String(),
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if n < 0 || n > len(input) {
		return nil, rep, fmt.Errorf("%w: n=%d with %d input elements", ErrContract, n, len(input))
	}
	if n == 0 {
		rep.Elapsed = time.Since(start)
		return []int32{}, rep, nil
	}

	r := &run{log: s.opts.log.With(zap.Stringer("run_id", rep.RunID))}
	rep.PaddedLen = PaddedLen(n, s.opts.blockSize, s.opts.padding)

	out, err := s.scanInput(ctx, r, input[:n])
	rep.Levels = r.levels
	rep.Dispatches = r.dispatches
	rep.Allocations = r.allocations
	rep.Elapsed = time.Since(start)
	if err != nil {
		r.log.Warn("scan failed", zap.Int("n", n), zap.Int("dispatches", r.dispatches), zap.Error(err))
		return nil, rep, err
	}

	r.log.Info("scan done",
		zap.Int("n", n),
		zap.Int("levels", rep.Levels),
		zap.Int("dispatches", rep.Dispatches),
		zap.Duration("elapsed", rep.Elapsed))
	return out, rep, nil
}

func (s *Scanner) scanInput(ctx context.Context, r *run, input []int32) ([]int32, error) {
	n := len(input)
	src, err := s.alloc(r, n, ReadOnly, 0, "input")
	if err != nil {
		return nil, err
	}
	defer s.exec.Release(src)
	if err := s.exec.Write(src, 0, input); err != nil {
		return nil, wrap(ErrDispatch, 0, "upload input", err)
	}

	final, err := s.level(ctx, r, src, n, s.opts.mode, 0)
	if err != nil {
		return nil, err
	}
	defer s.exec.Release(final)

	out, err := s.exec.Read(final, 0, n)
	if err != nil {
		return nil, wrap(ErrDispatch, 0, "read back", err)
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: level 0: read back %d of %d elements", ErrDispatch, len(out), n)
	}
	return out, nil
}

// level scans src[:n] and returns a buffer of PaddedLen(n) elements whose
// first n hold the result. The caller releases the returned buffer; every
// other buffer allocated here is released before returning.
func (s *Scanner) level(ctx context.Context, r *run, src Buffer, n int, mode Mode, depth int) (_ Buffer, err error) {
	bs := s.opts.blockSize
	padded := PaddedLen(n, bs, s.opts.padding)
	blocks := padded / bs
	if blocks > 1 && blocks >= n {
		return nil, fmt.Errorf("%w: level %d: %d blocks for %d elements does not shrink", ErrContract, depth, blocks, n)
	}
	if depth+1 > r.levels {
		r.levels = depth + 1
	}
	r.log.Debug("scan level",
		zap.Int("level", depth),
		zap.Int("n", n),
		zap.Int("padded", padded),
		zap.Int("blocks", blocks))

	in, err := s.alloc(r, padded, ReadOnly, depth, "padded input")
	if err != nil {
		return nil, err
	}
	defer s.exec.Release(in)
	if err := s.exec.Copy(in, 0, src, 0, n); err != nil {
		return nil, wrap(ErrDispatch, depth, "copy input", err)
	}
	if padded > n {
		if err := s.exec.Fill(in, 0, n, padded-n); err != nil {
			return nil, wrap(ErrDispatch, depth, "zero padding", err)
		}
	}

	partial, err := s.alloc(r, padded, ReadWrite, depth, "partial scan")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.exec.Release(partial)
		}
	}()

	totals, err := s.alloc(r, blocks, ReadWrite, depth, "block totals")
	if err != nil {
		return nil, err
	}
	defer s.exec.Release(totals)

	if err = s.dispatch(ctx, r, depth, NewDispatch(mode.kernel(), padded, bs, in, partial, totals)); err != nil {
		return nil, err
	}
	if blocks == 1 {
		// The only block has offset zero.
		return partial, nil
	}

	// Offsets are the exclusive scan of the totals whatever the caller's mode.
	offsets, err := s.level(ctx, r, totals, blocks, Exclusive, depth+1)
	if err != nil {
		return nil, err
	}
	defer s.exec.Release(offsets)

	if err = s.dispatch(ctx, r, depth, NewDispatch(KernelPropagate, padded, bs, partial, offsets)); err != nil {
		return nil, err
	}
	return partial, nil
}

func (s *Scanner) alloc(r *run, n int, mode AccessMode, depth int, what string) (Buffer, error) {
	buf, err := s.exec.Allocate(n, mode)
	if err != nil {
		return nil, wrap(ErrAllocation, depth, what, err)
	}
	if buf == nil || buf.Len() != n {
		if buf != nil {
			s.exec.Release(buf)
		}
		return nil, fmt.Errorf("%w: level %d: %s: executor returned wrong buffer length", ErrAllocation, depth, what)
	}
	r.allocations++
	return buf, nil
}

func (s *Scanner) dispatch(ctx context.Context, r *run, depth int, d Dispatch) error {
	if err := d.Validate(); err != nil {
		return wrap(ErrContract, depth, d.Kernel.String(), err)
	}
	if err := s.exec.Dispatch(ctx, d); err != nil {
		return wrap(ErrDispatch, depth, d.Kernel.String(), err)
	}
	r.dispatches++
	return nil
}

// wrap tags err with class unless the executor already classified it.
func wrap(class error, depth int, what string, err error) error {
	for _, c := range []error{ErrAllocation, ErrDispatch, ErrContract} {
		if errors.Is(err, c) {
			return fmt.Errorf("level %d: %s: %w", depth, what, err)
		}
	}
	return fmt.Errorf("%w: level %d: %s: %w", class, depth, what, err)
}
