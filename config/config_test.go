package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/blockscan/cpu"
	"github.com/openfluke/blockscan/scan"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("", writeFile(t, "empty.env", ""))
	require.NoError(t, err)
	assert.Equal(t, "exclusive", c.Mode)
	assert.Equal(t, "ceil", c.Padding)
	assert.False(t, c.UseGPU)
	assert.Zero(t, c.BudgetMB)
	assert.NoError(t, c.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, "blockscan.yaml", "block_size: 64\nmode: inclusive\nworkers: 3\n")
	t.Setenv("BLOCKSCAN_WORKERS", "5")
	t.Setenv("BLOCKSCAN_USE_GPU", "true")

	c, err := Load(path, writeFile(t, "empty.env", ""))
	require.NoError(t, err)
	assert.Equal(t, 64, c.BlockSize)
	assert.Equal(t, "inclusive", c.Mode)
	assert.Equal(t, 5, c.Workers, "environment wins over the file")
	assert.True(t, c.UseGPU)
}

func TestLoadDotEnv(t *testing.T) {
	t.Cleanup(func() { os.Unsetenv("BLOCKSCAN_PADDING") })
	env := writeFile(t, "test.env", "BLOCKSCAN_PADDING=legacy\n")

	c, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, "legacy", c.Padding)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"BLOCKSCAN_BLOCK_SIZE": "100",
		"BLOCKSCAN_MODE":       "sideways",
		"BLOCKSCAN_LOG_LEVEL":  "chatty",
		"BLOCKSCAN_WORKERS":    "-2",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load("", writeFile(t, "empty.env", ""))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), writeFile(t, "empty.env", ""))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{BlockSize: 4, Mode: "exclusive", Padding: "ceil", LogLevel: "info"}
	require.NoError(t, base.Validate())

	bad := base
	bad.BlockSize = 2
	bad.Padding = "legacy"
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)

	bad = base
	bad.BlockSize = 2048
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)

	bad = base
	bad.BudgetMB = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)
}

func TestOptionsDriveScanner(t *testing.T) {
	c := Config{BlockSize: 16, Mode: "inclusive", Padding: "legacy", Workers: 2, BudgetMB: 1, LogLevel: "warn"}
	require.NoError(t, c.Validate())

	log, err := c.Logger()
	require.NoError(t, err)
	s, err := scan.New(cpu.New(c.CPUOptions(log)...), c.ScanOptions(log)...)
	require.NoError(t, err)
	assert.Equal(t, 16, s.BlockSize())
	assert.Equal(t, scan.Inclusive, s.Mode())
	assert.Equal(t, scan.PadLegacy, s.Padding())
}
