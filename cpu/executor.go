// Package cpu runs the scan kernels on goroutines. A dispatch schedules its
// work-groups onto a bounded set of workers; lanes of a group that must
// synchronize run concurrently behind a Barrier.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/openfluke/blockscan/scan"
)

var (
	ErrBudget       = errors.New("cpu: allocation exceeds budget")
	ErrForeign      = errors.New("cpu: buffer not owned by this executor")
	ErrReleased     = errors.New("cpu: buffer already released")
	ErrNoSuchKernel = errors.New("cpu: unknown kernel")
)

// Buffer is a host-memory buffer handed out by Executor.
type Buffer struct {
	id    uint64
	data  []int32
	mode  scan.AccessMode
	owner *Executor
}

func (b *Buffer) Len() int              { return len(b.data) }
func (b *Buffer) Mode() scan.AccessMode { return b.mode }

// Executor implements scan.Executor on the CPU.
type Executor struct {
	workers int
	budget  int // elements; 0 means unlimited
	log     *zap.Logger

	mu     sync.Mutex
	nextID uint64
	live   map[uint64]*Buffer
	used   int
	peak   int
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds how many work-groups run at once.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBudget caps the number of int32 elements allocated at any time.
func WithBudget(elements int) Option {
	return func(e *Executor) {
		if elements > 0 {
			e.budget = elements
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		workers: runtime.GOMAXPROCS(0),
		log:     zap.NewNop(),
		live:    map[uint64]*Buffer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Live is the number of buffers allocated and not yet released.
func (e *Executor) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Peak is the high-water mark of allocated elements.
func (e *Executor) Peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

func (e *Executor) Workers() int { return e.workers }

func (e *Executor) Allocate(n int, mode scan.AccessMode) (scan.Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative buffer length %d", scan.ErrContract, n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.budget > 0 && e.used+n > e.budget {
		return nil, fmt.Errorf("%w: %d + %d > %d elements", ErrBudget, e.used, n, e.budget)
	}
	e.nextID++
	b := &Buffer{id: e.nextID, data: make([]int32, n), mode: mode, owner: e}
	e.live[b.id] = b
	e.used += n
	if e.used > e.peak {
		e.peak = e.used
	}
	return b, nil
}

func (e *Executor) Release(buf scan.Buffer) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.owner != e {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.live[b.id]; !ok {
		return
	}
	delete(e.live, b.id)
	e.used -= len(b.data)
}

// own resolves a handle to a live buffer of this executor.
func (e *Executor) own(buf scan.Buffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.owner != e {
		return nil, ErrForeign
	}
	e.mu.Lock()
	_, live := e.live[b.id]
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
	copy(b.data[offset:], data)
	return nil
}

func (e *Executor) Fill(buf scan.Buffer, value int32, offset, length int) error {
	b, err := e.own(buf)
	if err != nil {
		return err
	}
	if err := scan.CheckRange(b, offset, length); err != nil {
		return err
	}
	region := b.data[offset : offset+length]
	for i := range region {
		region[i] = value
	}
	return nil
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
	copy(d.data[dstOffset:dstOffset+length], s.data[srcOffset:srcOffset+length])
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
	out := make([]int32, length)
	copy(out, b.data[offset:offset+length])
	return out, nil
}

// Dispatch runs every work-group of d and returns once all have finished.
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
	k, ok := kernels[d.Kernel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchKernel, d.Kernel)
	}
	args := make([][]int32, 0, d.Kernel.Arity())
	for i, a := range d.Args() {
		b, err := e.own(a)
		if err != nil {
			return fmt.Errorf("%s arg %d: %w", d.Kernel, i, err)
		}
		args = append(args, b.data)
	}

	e.log.Debug("dispatch",
		zap.Stringer("kernel", d.Kernel),
		zap.Int("global", d.Global),
		zap.Int("group", d.Group))
	return e.runGroups(ctx, d.Groups(), d.Group, k, args)
}

// runGroups feeds group ids to a fixed pool of workers. Each worker owns one
// workGroup whose shared memory is reused across the groups it runs.
func (e *Executor) runGroups(ctx context.Context, groups, size int, k kernel, args [][]int32) error {
	workers := e.workers
	if workers > groups {
		workers = groups
	}
	ids := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := newWorkGroup(size)
			for id := range ids {
				g.id = id
				runGroup(g, k, args)
			}
		}()
	}

	var err error
feed:
	for id := 0; id < groups; id++ {
		select {
		case ids <- id:
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		}
	}
	close(ids)
	wg.Wait()
	return err
}

func runGroup(g *workGroup, k kernel, args [][]int32) {
	if !k.barrier {
		for lid := 0; lid < g.size; lid++ {
			k.lane(g, lid, args)
		}
		return
	}
	var lanes sync.WaitGroup
	lanes.Add(g.size)
	for lid := 0; lid < g.size; lid++ {
		go func(lid int) {
			defer lanes.Done()
			k.lane(g, lid, args)
		}(lid)
	}
	lanes.Wait()
}
