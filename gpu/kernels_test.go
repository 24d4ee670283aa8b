package gpu

import (
	"strings"
	"testing"

	"github.com/openfluke/blockscan/scan"
)

func TestGenerateShaders(t *testing.T) {
	src := GenerateBlockScanShader(128, true)
	for _, want := range []string{"const WG: u32 = 128u;", "const INCLUSIVE: bool = true;", "workgroupBarrier()"} {
		if !strings.Contains(src, want) {
			t.Errorf("block scan shader missing %q", want)
		}
	}
	if !strings.Contains(GenerateBlockScanShader(64, false), "const INCLUSIVE: bool = false;") {
		t.Error("exclusive shader should disable INCLUSIVE")
	}
	if !strings.Contains(GeneratePropagateShader(32), "partial[i] = partial[i] + offsets[gid];") {
		t.Error("propagate shader body changed")
	}
	if _, err := generateShader(scan.KernelID(99), 4); err == nil {
		t.Error("unknown kernel should fail")
	}
}

func TestWorkgroupGrid(t *testing.T) {
	cases := []struct {
		groups int
		x, y   uint32
	}{
		{1, 1, 1},
		{MaxGroupsPerDim, MaxGroupsPerDim, 1},
		{MaxGroupsPerDim + 1, MaxGroupsPerDim, 2},
		{3*MaxGroupsPerDim - 5, MaxGroupsPerDim, 3},
	}
	for _, c := range cases {
		x, y := workgroupGrid(c.groups)
		if x != c.x || y != c.y {
			t.Errorf("workgroupGrid(%d) = (%d, %d), want (%d, %d)", c.groups, x, y, c.x, c.y)
		}
		if int(x)*int(y) < c.groups {
			t.Errorf("workgroupGrid(%d) covers only %d groups", c.groups, x*y)
		}
	}
}
