// Package detector probes the host and recommends scan parameters.
package detector

import (
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"time"
)

// BudgetEnv overrides the recommended buffer budget, in megabytes.
const BudgetEnv = "BLOCKSCAN_BUDGET_MB"

// Report is a portable summary of the host the scan will run on.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	CPU         CPUInfo           `json:"cpu"`
	GPU         *GPUInfo          `json:"gpu,omitempty"`
	GPUError    string            `json:"gpu_error,omitempty"`
	Recommended Recommendations   `json:"recommended"`
	Env         map[string]string `json:"env,omitempty"`
}

type Recommendations struct {
	// Block size for the CPU executor (lanes per work-group).
	CPUBlockSize int `json:"cpu_block_size"`
	// Block size for the GPU executor, zero when no adapter was found.
	GPUBlockSize int `json:"gpu_block_size,omitempty"`
	Workers      int `json:"workers"`

	// Soft budget for live scan buffers, in bytes.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// Detect probes the CPU and, best effort, the default GPU adapter.
func Detect() *Report {
	rep := &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		CPU:         DetectCPU(),
		Recommended: RecommendCPU(),
		Env:         pickEnv([]string{BudgetEnv}),
	}
	if g, err := DetectGPU(); err != nil {
		rep.GPUError = err.Error()
	} else {
		rep.GPU = g
		rep.Recommended.GPUBlockSize = g.Recommended
	}
	return rep
}

// DetectJSON runs a probe and returns the JSON string.
func DetectJSON() (string, error) {
	b, err := json.MarshalIndent(Detect(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

/* ---------- helpers ---------- */

func budgetFromEnv() uint64 {
	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}
	return budget
}

// chooseBlockSize returns the largest power of two in [4, 1024] that fits
// both limits.
func chooseBlockSize(maxX, maxTotal uint32) int {
	for c := uint32(1024); c >= 4; c >>= 1 {
		if c <= maxX && c <= maxTotal {
			return int(c)
		}
	}
	// absolute portability fallback
	return 4
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RecommendCPU returns the CPU-only recommendations without probing a GPU.
func RecommendCPU() Recommendations {
	cpu := DetectCPU()
	return Recommendations{
		CPUBlockSize: cpuBlockSize(cpu.L1DataBytes),
		Workers:      recommendWorkers(cpu),
		BudgetBytes:  budgetFromEnv(),
	}
}
