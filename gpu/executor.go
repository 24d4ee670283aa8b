package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"

	"github.com/openfluke/blockscan/scan"
)

var (
	ErrForeign  = errors.New("gpu: buffer not owned by this executor")
	ErrReleased = errors.New("gpu: buffer already released")
)

// Executor implements scan.Executor on the shared WebGPU device.
type Executor struct {
	gpu         *Context
	log         *zap.Logger
	readTimeout time.Duration
	labelPrefix string

	mu        sync.Mutex
	pipelines map[pipelineKey]*wgpu.ComputePipeline
	live      map[*Buffer]struct{}
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithReadTimeout bounds how long Read waits for the staging map.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.readTimeout = d
		}
	}
}

// New initializes the GPU context and returns an executor on it.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		log:         zap.NewNop(),
		readTimeout: 2 * time.Second,
		labelPrefix: "blockscan/" + uuid.NewString()[:8],
		pipelines:   map[pipelineKey]*wgpu.ComputePipeline{},
		live:        map[*Buffer]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	SetLogger(e.log)
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	e.gpu = c
	return e, nil
}

// Live is the number of buffers allocated and not yet released.
func (e *Executor) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

func (e *Executor) Allocate(n int, mode scan.AccessMode) (scan.Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative buffer length %d", scan.ErrContract, n)
	}
	label := fmt.Sprintf("%s_%s_%d", e.labelPrefix, mode, n)
	buf, err := e.gpu.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  byteSize(n),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", label, err)
	}
	b := &Buffer{buf: buf, n: n, mode: mode, label: label, owner: e}
	e.mu.Lock()
	e.live[b] = struct{}{}
	e.mu.Unlock()
	return b, nil
}

func (e *Executor) Release(buf scan.Buffer) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.owner != e {
		return
	}
	e.mu.Lock()
	_, live := e.live[b]
	delete(e.live, b)
	e.mu.Unlock()
	if live {
		b.buf.Destroy()
		b.buf.Release()
	}
}

func (e *Executor) own(buf scan.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.owner != e {
		return nil, ErrForeign
	}
	e.mu.Lock()
	_, live := e.live[b]
	e.mu.Unlock()
	if !live {
		return nil, ErrReleased
	}
	return b, nil
}

func (e *Executor) Write(buf scan.Buffer, offset int, data []int32) error {
	b, err := e.own(buf)
	if err != nil {
		return err
	}
	if err := scan.CheckRange(b, offset, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	e.gpu.Queue.WriteBuffer(b.buf, uint64(offset*4), wgpu.ToBytes(data))
	return nil
}

// Fill writes value over the range from the host; the queue orders it before
// any later dispatch.
func (e *Executor) Fill(buf scan.Buffer, value int32, offset, length int) error {
	if length == 0 {
		return nil
	}
	fill := make([]int32, length)
	if value != 0 {
		for i := range fill {
			fill[i] = value
		}
	}
	return e.Write(buf, offset, fill)
}

func (e *Executor) Copy(dst scan.Buffer, dstOffset int, src scan.Buffer, srcOffset, length int) error {
	d, err := e.own(dst)
	if err != nil {
		return err
	}
	s, err := e.own(src)
	if err != nil {
		return err
	}
	if err := scan.CheckRange(d, dstOffset, length); err != nil {
		return err
	}
	if err := scan.CheckRange(s, srcOffset, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	enc, err := e.gpu.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("copy: create encoder: %w", err)
	}
	enc.CopyBufferToBuffer(s.buf, uint64(srcOffset*4), d.buf, uint64(dstOffset*4), uint64(length*4))
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return fmt.Errorf("copy: finish: %w", err)
	}
	e.gpu.Queue.Submit(cmd)
	cmd.Release()
	return nil
}

func (e *Executor) Read(buf scan.Buffer, offset, length int) ([]int32, error) {
	b, err := e.own(buf)
	if err != nil {
		return nil, err
	}
	if err := scan.CheckRange(b, offset, length); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.readTimeout)
	defer cancel()
	return readInt32(ctx, e.gpu, b.buf, offset, length)
}

// Dispatch records one compute pass, submits it and waits for the queue to
// drain so the outputs are complete when it returns.
func (e *Executor) Dispatch(ctx context.Context, d scan.Dispatch) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Group > MaxWorkgroup {
		return fmt.Errorf("%w: group %d exceeds device limit %d", scan.ErrContract, d.Group, MaxWorkgroup)
	}

	bufs := make([]*Buffer, 0, d.Kernel.Arity())
	for i, a := range d.Args() {
		b, err := e.own(a)
		if err != nil {
			return fmt.Errorf("%s arg %d: %w", d.Kernel, i, err)
		}
		bufs = append(bufs, b)
	}

	pipe, err := e.pipeline(d.Kernel, d.Group)
	if err != nil {
		return err
	}

	// Bind exactly the ranges the kernel covers; the shaders size their
	// bounds checks with arrayLength.
	groups := uint64(d.Groups())
	sizes := []uint64{uint64(d.Global) * 4, uint64(d.Global) * 4, groups * 4}
	if d.Kernel == scan.KernelPropagate {
		sizes = []uint64{uint64(d.Global) * 4, groups * 4}
	}
	entries := make([]wgpu.BindGroupEntry, len(bufs))
	for i, b := range bufs {
		entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: b.buf, Size: sizes[i]}
	}
	label := fmt.Sprintf("%s_%s", e.labelPrefix, d.Kernel)
	bg, err := e.gpu.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label + "_Bind",
		Layout:  pipe.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%s bind group: %w", d.Kernel, err)
	}
	defer bg.Release()

	enc, err := e.gpu.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label + "_Enc"})
	if err != nil {
		return fmt.Errorf("%s create encoder: %w", d.Kernel, err)
	}
	x, y := workgroupGrid(d.Groups())
	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label + "_Pass"})
	pass.SetPipeline(pipe)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()

	cb, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return fmt.Errorf("%s finish: %w", d.Kernel, err)
	}
	e.gpu.Queue.Submit(cb)
	cb.Release()

	e.log.Debug("dispatch",
		zap.Stringer("kernel", d.Kernel),
		zap.Int("global", d.Global),
		zap.Int("group", d.Group),
		zap.Uint32("grid_x", x),
		zap.Uint32("grid_y", y))

	for !e.gpu.Device.Poll(true, nil) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the cached pipelines. Buffers still live are destroyed.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pipelines {
		p.Release()
	}
	e.pipelines = map[pipelineKey]*wgpu.ComputePipeline{}
	for b := range e.live {
		b.buf.Destroy()
		b.buf.Release()
	}
	e.live = map[*Buffer]struct{}{}
}
