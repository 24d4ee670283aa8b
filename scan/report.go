package scan

import (
	"time"

	"github.com/google/uuid"
)

// Report summarizes one call to ScanWithReport.
type Report struct {
	RunID       uuid.UUID     `json:"run_id"`
	N           int           `json:"n"`
	BlockSize   int           `json:"block_size"`
	Mode        string        `json:"mode"`
	Padding     string        `json:"padding"`
	PaddedLen   int           `json:"padded_len"` // top level only
	Levels      int           `json:"levels"`     // block-scan levels executed
	Dispatches  int           `json:"dispatches"`
	Allocations int           `json:"allocations"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}
