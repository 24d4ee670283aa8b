package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"

	"github.com/openfluke/blockscan/scan"
)

// MaxWorkgroup is the WebGPU default for maxComputeInvocationsPerWorkgroup;
// the device is requested with default limits.
const MaxWorkgroup = 256

// MaxGroupsPerDim is the default maxComputeWorkgroupsPerDimension. Larger
// dispatches fold into a second dimension.
const MaxGroupsPerDim = 65535

// GenerateBlockScanShader returns the WGSL of the block scanner for groups of
// wg lanes. One lane per element; Hillis-Steele over two workgroup arrays.
func GenerateBlockScanShader(wg int, inclusive bool) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<i32>;
		@group(0) @binding(1) var<storage, read_write> partial : array<i32>;
		@group(0) @binding(2) var<storage, read_write> totals : array<i32>;

		const WG: u32 = %du;
		const INCLUSIVE: bool = %t;

		var<workgroup> shared_val: array<array<i32, WG>, 2>;

		@compute @workgroup_size(WG)
		fn main(
			@builtin(workgroup_id) wg_id: vec3<u32>,
			@builtin(num_workgroups) num_wg: vec3<u32>,
			@builtin(local_invocation_id) local_id: vec3<u32>
		) {
			let gid = wg_id.x + wg_id.y * num_wg.x;
			if (gid >= arrayLength(&totals)) {
				return;
			}
			let lid = local_id.x;
			let i = gid * WG + lid;
			let x = input[i];

			shared_val[0][lid] = x;
			workgroupBarrier();

			var src: u32 = 0u;
			for (var off: u32 = 1u; off < WG; off = off << 1u) {
				var v = shared_val[src][lid];
				if (lid >= off) {
					v = v + shared_val[src][lid - off];
				}
				shared_val[1u - src][lid] = v;
				workgroupBarrier();
				src = 1u - src;
			}

			let sum = shared_val[src][lid];
			if (INCLUSIVE) {
				partial[i] = sum;
			} else {
				partial[i] = sum - x;
			}
			if (lid == WG - 1u) {
				totals[gid] = sum;
			}
		}
	`, wg, inclusive)
}

// GeneratePropagateShader returns the WGSL of the carry propagator.
func GeneratePropagateShader(wg int) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read_write> partial : array<i32>;
		@group(0) @binding(1) var<storage, read> offsets : array<i32>;

		const WG: u32 = %du;

		@compute @workgroup_size(WG)
		fn main(
			@builtin(workgroup_id) wg_id: vec3<u32>,
			@builtin(num_workgroups) num_wg: vec3<u32>,
			@builtin(local_invocation_id) local_id: vec3<u32>
		) {
			let gid = wg_id.x + wg_id.y * num_wg.x;
			let i = gid * WG + local_id.x;
			if (i >= arrayLength(&partial)) {
				return;
			}
			partial[i] = partial[i] + offsets[gid];
		}
	`, wg)
}

func generateShader(k scan.KernelID, wg int) (string, error) {
	switch k {
	case scan.KernelBlockScanExclusive:
		return GenerateBlockScanShader(wg, false), nil
	case scan.KernelBlockScanInclusive:
		return GenerateBlockScanShader(wg, true), nil
	case scan.KernelPropagate:
		return GeneratePropagateShader(wg), nil
	}
	return "", fmt.Errorf("no shader for kernel %s", k)
}

type pipelineKey struct {
	kernel scan.KernelID
	group  int
}

// pipeline compiles and caches one compute pipeline per kernel and group size.
func (e *Executor) pipeline(k scan.KernelID, wg int) (*wgpu.ComputePipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := pipelineKey{k, wg}
	if p, ok := e.pipelines[key]; ok {
		return p, nil
	}

	code, err := generateShader(k, wg)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("blockscan_%s_%d", k, wg)
	module, err := e.gpu.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", label, err)
	}
	defer module.Release()

	p, err := e.gpu.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", label, err)
	}
	e.pipelines[key] = p
	e.log.Debug("compiled kernel", zap.String("label", label))
	return p, nil
}

// workgroupGrid folds groups into (x, y) within the per-dimension limit.
func workgroupGrid(groups int) (uint32, uint32) {
	if groups <= MaxGroupsPerDim {
		return uint32(groups), 1
	}
	y := (groups + MaxGroupsPerDim - 1) / MaxGroupsPerDim
	return MaxGroupsPerDim, uint32(y)
}
