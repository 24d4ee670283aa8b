package pods

import "github.com/openfluke/blockscan/scan"

// GPUHooks describes the optional GPU backend.
type GPUHooks interface {
	// Executor returns the shared GPU executor, creating it on first use.
	Executor() (scan.Executor, error)
	// MaxBlockSize is the largest block the GPU kernels accept.
	MaxBlockSize() int
}

// Default to a no-op GPU so everything builds/runs without tags.
// gpu_wgpu.go replaces it under -tags=gpu.
var GPU GPUHooks = noopGPU{}

type noopGPU struct{}

func (noopGPU) Executor() (scan.Executor, error) { return nil, ErrNoGPU }
func (noopGPU) MaxBlockSize() int                 { return 0 }
