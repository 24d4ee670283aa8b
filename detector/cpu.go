package detector

import (
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

type CPUInfo struct {
	Brand         string   `json:"brand"`
	Vendor        string   `json:"vendor"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	CacheLine     int      `json:"cache_line"`
	L1DataBytes   int      `json:"l1d_bytes"`
	L2Bytes       int      `json:"l2_bytes"`
	Features      []string `json:"features,omitempty"`
	AVX2          bool     `json:"avx2"`
}

// DetectCPU reads the host CPU through cpuid. Unknown values are reported
// as zero or -1, the way cpuid does.
func DetectCPU() CPUInfo {
	c := cpuid.CPU
	return CPUInfo{
		Brand:         strings.TrimSpace(c.BrandName),
		Vendor:        c.VendorString,
		PhysicalCores: c.PhysicalCores,
		LogicalCores:  c.LogicalCores,
		CacheLine:     c.CacheLine,
		L1DataBytes:   c.Cache.L1D,
		L2Bytes:       c.Cache.L2,
		Features:      c.FeatureSet(),
		AVX2:          c.Supports(cpuid.AVX2),
	}
}

// cpuBlockSize sizes a work-group so its two scratch rows of int32 stay within
// half the L1 data cache. 256 when the cache size is unknown.
func cpuBlockSize(l1d int) int {
	if l1d <= 0 {
		return 256
	}
	maxLanes := l1d / 2 / (2 * 4)
	return chooseBlockSize(uint32(maxLanes), 1024)
}

func recommendWorkers(c CPUInfo) int {
	if c.LogicalCores > 0 && c.LogicalCores < runtime.GOMAXPROCS(0) {
		return c.LogicalCores
	}
	return runtime.GOMAXPROCS(0)
}
