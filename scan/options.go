package scan

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultBlockSize matches the work-group size used by the kernels unless
// configured otherwise.
const DefaultBlockSize = 256

// MaxBlockSize is the largest work-group the GPU kernels accept
// (maxComputeInvocationsPerWorkgroup on most adapters).
const MaxBlockSize = 1024

// Mode selects the running-sum convention of the result.
type Mode int

const (
	Exclusive Mode = iota // out[i] = in[0] + ... + in[i-1]
	Inclusive             // out[i] = in[0] + ... + in[i]
)

func (m Mode) String() string {
	if m == Inclusive {
		return "inclusive"
	}
	return "exclusive"
}

func (m Mode) kernel() KernelID {
	if m == Inclusive {
		return KernelBlockScanInclusive
	}
	return KernelBlockScanExclusive
}

// ParseMode accepts "exclusive" or "inclusive".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclusive":
		return Exclusive, nil
	case "inclusive":
		return Inclusive, nil
	}
	return Exclusive, fmt.Errorf("unknown scan mode %q", s)
}

// PadPolicy decides how a length is rounded up to whole blocks.
type PadPolicy int

const (
	// PadCeil rounds up to the next multiple of the block size.
	PadCeil PadPolicy = iota
	// PadLegacy computes n + (B - n%B), adding a whole zero block when n is
	// already a multiple of B.
	PadLegacy
)

func (p PadPolicy) String() string {
	if p == PadLegacy {
		return "legacy"
	}
	return "ceil"
}

// ParsePadPolicy accepts "ceil" or "legacy".
func ParsePadPolicy(s string) (PadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ceil":
		return PadCeil, nil
	case "legacy":
		return PadLegacy, nil
	}
	return PadCeil, fmt.Errorf("unknown padding policy %q", s)
}

type options struct {
	blockSize int
	mode      Mode
	padding   PadPolicy
	log       *zap.Logger
}

func defaultOptions() options {
	return options{
		blockSize: DefaultBlockSize,
		mode:      Exclusive,
		padding:   PadCeil,
		log:       zap.NewNop(),
	}
}

// Option configures a Scanner.
type Option func(*options)

// WithBlockSize sets the number of elements (and lanes) per block.
func WithBlockSize(n int) Option { return func(o *options) { o.blockSize = n } }

// WithMode sets the convention of the returned scan.
func WithMode(m Mode) Option { return func(o *options) { o.mode = m } }

// WithPadding sets the padding policy applied at every level.
func WithPadding(p PadPolicy) Option { return func(o *options) { o.padding = p } }

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}
