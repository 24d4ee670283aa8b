package cpu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openfluke/blockscan/scan"
)

func mustAlloc(t *testing.T, e *Executor, n int, mode scan.AccessMode) scan.Buffer {
	t.Helper()
	b, err := e.Allocate(n, mode)
	if err != nil {
		t.Fatalf("Allocate(%d): %v", n, err)
	}
	return b
}

func mustRead(t *testing.T, e *Executor, b scan.Buffer) []int32 {
	t.Helper()
	out, err := e.Read(b, 0, b.Len())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return out
}

// TestBarrierPhases checks that no party enters phase p+1 before every party
// finished phase p.
func TestBarrierPhases(t *testing.T) {
	const parties, phases = 16, 50
	b := NewBarrier(parties)
	var arrived [phases]int32
	var wg sync.WaitGroup
	var bad atomic.Int32

	for p := 0; p < parties; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ph := 0; ph < phases; ph++ {
				atomic.AddInt32(&arrived[ph], 1)
				b.Wait()
				if atomic.LoadInt32(&arrived[ph]) != parties {
					bad.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	if bad.Load() != 0 {
		t.Fatalf("%d parties passed the barrier early", bad.Load())
	}
}

func TestBlockScanKernel(t *testing.T) {
	e := New(WithWorkers(2))
	in := mustAlloc(t, e, 8, scan.ReadOnly)
	partial := mustAlloc(t, e, 8, scan.ReadWrite)
	totals := mustAlloc(t, e, 2, scan.ReadWrite)
	if err := e.Write(in, 0, []int32{1, 2, 3, 4, 10, 20, 30, 40}); err != nil {
		t.Fatal(err)
	}

	d := scan.NewDispatch(scan.KernelBlockScanExclusive, 8, 4, in, partial, totals)
	if err := e.Dispatch(context.Background(), d); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := []int32{0, 1, 3, 6, 0, 10, 30, 60}
	for i, v := range mustRead(t, e, partial) {
		if v != want[i] {
			t.Errorf("exclusive partial[%d] = %d, want %d", i, v, want[i])
		}
	}
	if got := mustRead(t, e, totals); got[0] != 10 || got[1] != 100 {
		t.Errorf("totals = %v, want [10 100]", got)
	}

	d = scan.NewDispatch(scan.KernelBlockScanInclusive, 8, 4, in, partial, totals)
	if err := e.Dispatch(context.Background(), d); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want = []int32{1, 3, 6, 10, 10, 30, 60, 100}
	for i, v := range mustRead(t, e, partial) {
		if v != want[i] {
			t.Errorf("inclusive partial[%d] = %d, want %d", i, v, want[i])
		}
	}
}

// Block sizes that are not powers of two still scan correctly.
func TestBlockScanOddGroup(t *testing.T) {
	e := New()
	const group, groups = 7, 5
	data := make([]int32, group*groups)
	for i := range data {
		data[i] = int32(i%5 - 2)
	}
	in := mustAlloc(t, e, len(data), scan.ReadOnly)
	partial := mustAlloc(t, e, len(data), scan.ReadWrite)
	totals := mustAlloc(t, e, groups, scan.ReadWrite)
	_ = e.Write(in, 0, data)

	if err := e.Dispatch(context.Background(), scan.NewDispatch(scan.KernelBlockScanInclusive, len(data), group, in, partial, totals)); err != nil {
		t.Fatal(err)
	}
	got := mustRead(t, e, partial)
	sums := mustRead(t, e, totals)
	for g := 0; g < groups; g++ {
		want := scan.Reference(data[g*group:(g+1)*group], scan.Inclusive)
		for i, v := range want {
			if got[g*group+i] != v {
				t.Errorf("group %d lane %d = %d, want %d", g, i, got[g*group+i], v)
			}
		}
		if sums[g] != want[group-1] {
			t.Errorf("total[%d] = %d, want %d", g, sums[g], want[group-1])
		}
	}
}

func TestPropagateKernel(t *testing.T) {
	e := New()
	partial := mustAlloc(t, e, 6, scan.ReadWrite)
	offsets := mustAlloc(t, e, 3, scan.ReadOnly)
	_ = e.Write(partial, 0, []int32{0, 1, 0, 1, 0, 1})
	_ = e.Write(offsets, 0, []int32{0, 2, 4})

	if err := e.Dispatch(context.Background(), scan.NewDispatch(scan.KernelPropagate, 6, 2, partial, offsets)); err != nil {
		t.Fatal(err)
	}
	want := []int32{0, 1, 2, 3, 4, 5}
	for i, v := range mustRead(t, e, partial) {
		if v != want[i] {
			t.Errorf("final[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestDispatchRejectsMalformed(t *testing.T) {
	e := New()
	in := mustAlloc(t, e, 10, scan.ReadOnly)
	partial := mustAlloc(t, e, 10, scan.ReadWrite)
	totals := mustAlloc(t, e, 2, scan.ReadWrite)

	cases := map[string]scan.Dispatch{
		"not a multiple":  scan.NewDispatch(scan.KernelBlockScanExclusive, 10, 4, in, partial, totals),
		"missing arg":     scan.NewDispatch(scan.KernelBlockScanExclusive, 8, 4, in, partial),
		"short totals":    scan.NewDispatch(scan.KernelBlockScanExclusive, 8, 2, in, partial, totals),
		"read-only out":   scan.NewDispatch(scan.KernelBlockScanExclusive, 8, 4, in, in, totals),
		"read-only carry": scan.NewDispatch(scan.KernelPropagate, 8, 4, in, totals),
		"zero group":      scan.NewDispatch(scan.KernelPropagate, 8, 0, partial, totals),
	}
	for name, d := range cases {
		if err := e.Dispatch(context.Background(), d); !errors.Is(err, scan.ErrContract) {
			t.Errorf("%s: got %v, want ErrContract", name, err)
		}
	}
}

func TestDispatchOnReleasedBuffer(t *testing.T) {
	e := New()
	partial := mustAlloc(t, e, 4, scan.ReadWrite)
	offsets := mustAlloc(t, e, 1, scan.ReadOnly)
	e.Release(offsets)

	err := e.Dispatch(context.Background(), scan.NewDispatch(scan.KernelPropagate, 4, 4, partial, offsets))
	if !errors.Is(err, ErrReleased) {
		t.Fatalf("got %v, want ErrReleased", err)
	}
	e.Release(offsets) // double release is a no-op
	if e.Live() != 1 {
		t.Fatalf("Live() = %d, want 1", e.Live())
	}
}

func TestFillCopyRanges(t *testing.T) {
	e := New()
	a := mustAlloc(t, e, 6, scan.ReadWrite)
	b := mustAlloc(t, e, 4, scan.ReadWrite)
	_ = e.Write(a, 0, []int32{1, 2, 3, 4, 5, 6})

	if err := e.Copy(b, 1, a, 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := e.Fill(a, 9, 4, 2); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, e, b); got[0] != 0 || got[1] != 3 || got[3] != 5 {
		t.Errorf("copy result %v", got)
	}
	if got := mustRead(t, e, a); got[4] != 9 || got[5] != 9 || got[3] != 4 {
		t.Errorf("fill result %v", got)
	}

	if err := e.Fill(a, 0, 5, 2); !errors.Is(err, scan.ErrContract) {
		t.Errorf("fill past end: got %v", err)
	}
	if err := e.Copy(b, 2, a, 0, 3); !errors.Is(err, scan.ErrContract) {
		t.Errorf("copy past end: got %v", err)
	}
	if _, err := e.Read(a, -1, 2); !errors.Is(err, scan.ErrContract) {
		t.Errorf("negative read: got %v", err)
	}
}

func TestBudgetAndPeak(t *testing.T) {
	e := New(WithBudget(10))
	a := mustAlloc(t, e, 6, scan.ReadWrite)
	if _, err := e.Allocate(5, scan.ReadWrite); !errors.Is(err, ErrBudget) {
		t.Fatalf("got %v, want ErrBudget", err)
	}
	e.Release(a)
	b := mustAlloc(t, e, 10, scan.ReadWrite)
	defer e.Release(b)
	if e.Peak() != 10 {
		t.Errorf("Peak() = %d, want 10", e.Peak())
	}
}

func TestDispatchCancelled(t *testing.T) {
	e := New()
	partial := mustAlloc(t, e, 4, scan.ReadWrite)
	offsets := mustAlloc(t, e, 1, scan.ReadOnly)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Dispatch(ctx, scan.NewDispatch(scan.KernelPropagate, 4, 4, partial, offsets))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
