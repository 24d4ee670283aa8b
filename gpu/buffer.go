package gpu

import (
	"context"
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/blockscan/scan"
)

// Buffer is a storage buffer of int32 on the device.
type Buffer struct {
	buf   *wgpu.Buffer
	n     int
	mode  scan.AccessMode
	label string
	owner *Executor
}

func (b *Buffer) Len() int              { return b.n }
func (b *Buffer) Mode() scan.AccessMode { return b.mode }
func (b *Buffer) Label() string         { return b.label }

// byteSize is the allocation size; WebGPU rejects zero-sized bindings.
func byteSize(n int) uint64 {
	if n < 1 {
		n = 1
	}
	return uint64(n * 4)
}

// EnsureGPU ensures the GPU context is initialized
func EnsureGPU() error {
	_, err := GetContext()
	return err
}

// readInt32 copies [offset, offset+n) of buffer through a staging buffer.
// The wait honours ctx instead of a fixed timeout.
func readInt32(ctx context.Context, c *Context, buffer *wgpu.Buffer, offset, n int) ([]int32, error) {
	if n == 0 {
		return []int32{}, nil
	}
	sizeBytes := uint64(n * 4)
	stagingBuf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "blockscan_ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staging buffer: %w", err)
	}
	defer stagingBuf.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(buffer, uint64(offset*4), stagingBuf, 0, sizeBytes)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %w", err)
	}
	c.Queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = stagingBuf.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %w", err)
	}

Loop:
	for {
		// Poll(false) so a stuck device cannot block past the deadline.
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-ctx.Done():
			return nil, fmt.Errorf("read back: %w", ctx.Err())
		default:
			time.Sleep(100 * time.Microsecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := stagingBuf.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, fmt.Errorf("failed to get mapped range")
	}
	result := make([]int32, n)
	copy(result, wgpu.FromBytes[int32](data))
	stagingBuf.Unmap()

	return result, nil
}
