package detector

import (
	"fmt"
	"strings"

	"github.com/openfluke/webgpu/wgpu"
)

// GPUInfo describes the default high performance adapter.
type GPUInfo struct {
	Backend     string `json:"backend"`
	AdapterType string `json:"adapter_type"`
	VendorID    string `json:"vendor_id_hex"`
	DeviceID    string `json:"device_id_hex"`
	Name        string `json:"name"`
	Driver      string `json:"driver"`
	Limits      Limits `json:"limits"`
	// Recommended block size, capped at the default device limit the
	// executor requests.
	Recommended int `json:"recommended_block_size"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// defaultDeviceInvocations is the WebGPU default limit a device gets when it
// is requested without required limits.
const defaultDeviceInvocations = 256

// DetectGPU probes the default adapter without creating a device.
func DetectGPU() (*GPUInfo, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	maxTotal := limits.Limits.MaxComputeInvocationsPerWorkgroup
	if maxTotal > defaultDeviceInvocations {
		maxTotal = defaultDeviceInvocations
	}
	// Each lane keeps two i32 rows in workgroup storage.
	if storage := limits.Limits.MaxComputeWorkgroupStorageSize / 8; storage < maxTotal {
		maxTotal = storage
	}

	return &GPUInfo{
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxComputeWorkgroupStorageSize:    limits.Limits.MaxComputeWorkgroupStorageSize,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
		},
		Recommended: chooseBlockSize(limits.Limits.MaxComputeWorkgroupSizeX, maxTotal),
	}, nil
}
