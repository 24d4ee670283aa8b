package scan

import (
	"context"
	"fmt"
)

// AccessMode describes how kernels are allowed to touch a buffer.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	WriteOnly
	ReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read"
	case WriteOnly:
		return "write"
	case ReadWrite:
		return "read_write"
	}
	return fmt.Sprintf("AccessMode(%d)", int(m))
}

// Buffer is a linear array of int32 owned by an Executor.
// Handles are only valid on the executor that allocated them.
type Buffer interface {
	Len() int
	Mode() AccessMode
}

// KernelID names a compiled data-parallel kernel.
type KernelID int

const (
	// KernelBlockScanExclusive args: input, partial, totals.
	KernelBlockScanExclusive KernelID = iota
	// KernelBlockScanInclusive args: input, partial, totals.
	KernelBlockScanInclusive
	// KernelPropagate args: partial (updated in place), offsets.
	KernelPropagate
)

func (k KernelID) String() string {
	switch k {
	case KernelBlockScanExclusive:
		return "block_scan_exclusive"
	case KernelBlockScanInclusive:
		return "block_scan_inclusive"
	case KernelPropagate:
		return "propagate"
	}
	return fmt.Sprintf("KernelID(%d)", int(k))
}

// Arity is the number of buffer arguments the kernel takes.
func (k KernelID) Arity() int {
	switch k {
	case KernelBlockScanExclusive, KernelBlockScanInclusive:
		return 3
	case KernelPropagate:
		return 2
	}
	return 0
}

// Dispatch is one kernel launch: kernel, ordered arguments and extents.
// Build it with NewDispatch; the argument list is not shared with the caller.
type Dispatch struct {
	Kernel KernelID
	Global int // total lanes, a multiple of Group
	Group  int // lanes per work-group
	args   []Buffer
}

func NewDispatch(kernel KernelID, global, group int, args ...Buffer) Dispatch {
	return Dispatch{
		Kernel: kernel,
		Global: global,
		Group:  group,
		args:   append([]Buffer(nil), args...),
	}
}

// Args returns a copy of the ordered argument list.
func (d Dispatch) Args() []Buffer { return append([]Buffer(nil), d.args...) }

// Arg returns argument i.
func (d Dispatch) Arg(i int) Buffer { return d.args[i] }

// Groups is the number of work-groups launched.
func (d Dispatch) Groups() int {
	if d.Group <= 0 {
		return 0
	}
	return d.Global / d.Group
}

// Validate checks extents, arity and buffer lengths against the kernel's
// argument layout. Executors call it before running anything.
func (d Dispatch) Validate() error {
	if d.Group <= 0 || d.Global <= 0 {
		return fmt.Errorf("%w: %s extents global=%d group=%d", ErrContract, d.Kernel, d.Global, d.Group)
	}
	if d.Global%d.Group != 0 {
		return fmt.Errorf("%w: %s global %d is not a multiple of group %d", ErrContract, d.Kernel, d.Global, d.Group)
	}
	if want := d.Kernel.Arity(); want == 0 || len(d.args) != want {
		return fmt.Errorf("%w: %s takes %d args, got %d", ErrContract, d.Kernel, d.Kernel.Arity(), len(d.args))
	}
	for i, b := range d.args {
		if b == nil {
			return fmt.Errorf("%w: %s arg %d is nil", ErrContract, d.Kernel, i)
		}
	}

	groups := d.Groups()
	switch d.Kernel {
	case KernelBlockScanExclusive, KernelBlockScanInclusive:
		if d.args[0].Len() < d.Global || d.args[1].Len() < d.Global {
			return fmt.Errorf("%w: %s input/partial shorter than global %d", ErrContract, d.Kernel, d.Global)
		}
		if d.args[1].Mode() == ReadOnly || d.args[2].Mode() == ReadOnly {
			return fmt.Errorf("%w: %s output bound read-only", ErrContract, d.Kernel)
		}
		if d.args[2].Len() < groups {
			return fmt.Errorf("%w: %s totals len %d < groups %d", ErrContract, d.Kernel, d.args[2].Len(), groups)
		}
	case KernelPropagate:
		if d.args[0].Len() < d.Global {
			return fmt.Errorf("%w: %s partial shorter than global %d", ErrContract, d.Kernel, d.Global)
		}
		if d.args[0].Mode() != ReadWrite {
			return fmt.Errorf("%w: %s partial must be read_write", ErrContract, d.Kernel)
		}
		if d.args[1].Len() < groups {
			return fmt.Errorf("%w: %s offsets len %d < groups %d", ErrContract, d.Kernel, d.args[1].Len(), groups)
		}
	}
	return nil
}

// Executor is the parallel execution context the coordinator drives.
// Lengths and offsets are counted in int32 elements.
//
// Dispatch must not return before every lane of every work-group has
// finished, so the caller may read or re-dispatch on its outputs right away.
type Executor interface {
	Allocate(n int, mode AccessMode) (Buffer, error)
	Write(buf Buffer, offset int, data []int32) error
	Fill(buf Buffer, value int32, offset, length int) error
	Copy(dst Buffer, dstOffset int, src Buffer, srcOffset, length int) error
	Dispatch(ctx context.Context, d Dispatch) error
	Read(buf Buffer, offset, length int) ([]int32, error)
	Release(buf Buffer)
}

// CheckRange reports whether [offset, offset+length) lies inside buf.
func CheckRange(buf Buffer, offset, length int) error {
	if buf == nil {
		return fmt.Errorf("%w: nil buffer", ErrContract)
	}
	if offset < 0 || length < 0 || offset+length > buf.Len() {
		return fmt.Errorf("%w: range [%d,%d) outside buffer of len %d", ErrContract, offset, offset+length, buf.Len())
	}
	return nil
}
