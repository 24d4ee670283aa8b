package cpu

import "github.com/openfluke/blockscan/scan"

// workGroup is the state shared by the lanes of one group: its id, the
// barrier and two ping-pong arrays of work-group memory.
type workGroup struct {
	id      int
	size    int
	barrier *Barrier
	shared  [2][]int32
}

func newWorkGroup(size int) *workGroup {
	return &workGroup{
		size:    size,
		barrier: NewBarrier(size),
		shared:  [2][]int32{make([]int32, size), make([]int32, size)},
	}
}

// kernel is the CPU form of a compiled kernel. Lanes of kernels that need a
// barrier run as one goroutine each; the others run in a loop.
type kernel struct {
	barrier bool
	lane    func(g *workGroup, lid int, args [][]int32)
}

var kernels = map[scan.KernelID]kernel{
	scan.KernelBlockScanExclusive: {barrier: true, lane: blockScanLane(false)},
	scan.KernelBlockScanInclusive: {barrier: true, lane: blockScanLane(true)},
	scan.KernelPropagate:          {lane: propagateLane},
}

// blockScanLane is a Hillis-Steele scan over the group's block. Each step
// reads one shared array and writes the other, with a barrier in between.
func blockScanLane(inclusive bool) func(g *workGroup, lid int, args [][]int32) {
	return func(g *workGroup, lid int, args [][]int32) {
		in, partial, totals := args[0], args[1], args[2]
		i := g.id*g.size + lid
		x := in[i]

		src, dst := g.shared[0], g.shared[1]
		src[lid] = x
		g.barrier.Wait()

		for off := 1; off < g.size; off <<= 1 {
			v := src[lid]
			if lid >= off {
				v += src[lid-off]
			}
			dst[lid] = v
			g.barrier.Wait()
			src, dst = dst, src
		}

		sum := src[lid]
		if inclusive {
			partial[i] = sum
		} else {
			partial[i] = sum - x
		}
		if lid == g.size-1 {
			totals[g.id] = sum
		}
	}
}

func propagateLane(g *workGroup, lid int, args [][]int32) {
	partial, offsets := args[0], args[1]
	partial[g.id*g.size+lid] += offsets[g.id]
}
