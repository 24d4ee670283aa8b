//go:build gpu

package pods

import (
	"sync"

	"github.com/openfluke/blockscan/gpu"
	"github.com/openfluke/blockscan/scan"
)

func init() { GPU = &WGPU{} }

// WGPU hands out one gpu.Executor for the process.
type WGPU struct {
	once sync.Once
	exec *gpu.Executor
	err  error
}

func (g *WGPU) Executor() (scan.Executor, error) {
	g.once.Do(func() {
		g.exec, g.err = gpu.New()
	})
	if g.err != nil {
		return nil, g.err
	}
	return g.exec, nil
}

func (g *WGPU) MaxBlockSize() int { return gpu.MaxWorkgroup }
