// Package pods exposes the scan as named units of work that pick their
// executor from an ExecContext.
package pods

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openfluke/blockscan/detector"
)

// Pod is a unit of work (scan, reduce, …).
type Pod interface {
	Name() string
	Run(ctx *ExecContext, in any) (out any, err error)
}

// ExecContext carries execution choices and capabilities.
type ExecContext struct {
	Ctx    context.Context
	UseGPU bool             // high-level knob; pods may override per-op
	Report *detector.Report // detector output (recommendations); may be nil
	GPU    GPUHooks         // ErrNoGPU unless built with -tags=gpu
	Log    *zap.Logger
	Now    time.Time
}

func NewContext(rep *detector.Report) *ExecContext {
	return &ExecContext{
		Ctx:    context.Background(),
		UseGPU: false,
		Report: rep,
		GPU:    GPU,
		Log:    zap.NewNop(),
		Now:    time.Now(),
	}
}

func (ec *ExecContext) WithGPU(g GPUHooks) *ExecContext {
	ec.GPU = g
	ec.UseGPU = g != nil
	return ec
}

func (ec *ExecContext) WithLogger(l *zap.Logger) *ExecContext {
	if l != nil {
		ec.Log = l
	}
	return ec
}

func (ec *ExecContext) context() context.Context {
	if ec.Ctx == nil {
		return context.Background()
	}
	return ec.Ctx
}

func (ec *ExecContext) logger() *zap.Logger {
	if ec.Log == nil {
		return zap.NewNop()
	}
	return ec.Log
}
