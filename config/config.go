// Package config loads scan settings from a file, the environment and an
// optional .env file. Environment variables use the BLOCKSCAN_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openfluke/blockscan/cpu"
	"github.com/openfluke/blockscan/detector"
	"github.com/openfluke/blockscan/scan"
)

const EnvPrefix = "BLOCKSCAN"

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	BlockSize int    `mapstructure:"block_size"`
	Mode      string `mapstructure:"mode"`
	Padding   string `mapstructure:"padding"`
	Workers   int    `mapstructure:"workers"`
	// BudgetMB caps live CPU buffers; 0 is unlimited.
	BudgetMB int    `mapstructure:"budget_mb"`
	UseGPU   bool   `mapstructure:"use_gpu"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads path (if non-empty) and BLOCKSCAN_* variables on top of the
// detected defaults. envFiles are loaded into the process environment first;
// with none given a .env in the working directory is used when present.
// Variables already set are never overridden by an env file.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	v := viper.New()
	rec := detector.RecommendCPU()
	v.SetDefault("block_size", rec.CPUBlockSize)
	v.SetDefault("mode", scan.Exclusive.String())
	v.SetDefault("padding", scan.PadCeil.String())
	v.SetDefault("workers", rec.Workers)
	v.SetDefault("budget_mb", 0)
	v.SetDefault("use_gpu", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	bs := c.BlockSize
	if bs < 2 || bs > scan.MaxBlockSize || bs&(bs-1) != 0 {
		return fmt.Errorf("%w: block_size %d is not a power of two in [2, %d]", ErrInvalid, bs, scan.MaxBlockSize)
	}
	if _, err := scan.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	pad, err := scan.ParsePadPolicy(c.Padding)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if pad == scan.PadLegacy && bs < 3 {
		return fmt.Errorf("%w: legacy padding needs block_size >= 3", ErrInvalid)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	}
	if c.BudgetMB < 0 {
		return fmt.Errorf("%w: budget_mb %d", ErrInvalid, c.BudgetMB)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ScanOptions maps the config onto scan options. It assumes Validate passed.
func (c Config) ScanOptions(log *zap.Logger) []scan.Option {
	mode, _ := scan.ParseMode(c.Mode)
	pad, _ := scan.ParsePadPolicy(c.Padding)
	return []scan.Option{
		scan.WithBlockSize(c.BlockSize),
		scan.WithMode(mode),
		scan.WithPadding(pad),
		scan.WithLogger(log),
	}
}

func (c Config) CPUOptions(log *zap.Logger) []cpu.Option {
	return []cpu.Option{
		cpu.WithWorkers(c.Workers),
		cpu.WithBudget(c.BudgetMB * 1024 * 1024 / 4),
		cpu.WithLogger(log),
	}
}

// Logger builds a production zap logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
