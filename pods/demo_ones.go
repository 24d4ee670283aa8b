package pods

import (
	"fmt"

	"github.com/openfluke/blockscan/detector"
	"github.com/openfluke/blockscan/scan"
)

// OnesLength is the size of the all-ones demo input.
const OnesLength = 20000

func init() {
	Register("primitives/scan/ones", func() error {
		return ScanOnes(NewContext(&detector.Report{Recommended: detector.RecommendCPU()}))
	})
}

// ScanOnes scans OnesLength ones with block size 256 in exclusive mode and
// checks every element against the sequential scan.
func ScanOnes(x *ExecContext) error {
	in := make([]int32, OnesLength)
	for i := range in {
		in[i] = 1
	}
	res, err := ScanPod{}.Run(x, ScanIn{In: in, BlockSize: scan.DefaultBlockSize})
	if err != nil {
		return err
	}
	out := res.(ScanOut)
	want := scan.Reference(in, scan.Exclusive)
	for i := range want {
		if out.Out[i] != want[i] {
			return fmt.Errorf("ones: out[%d] = %d, want %d", i, out.Out[i], want[i])
		}
	}
	x.logger().Sugar().Infof("ones: %d elements, %d levels, %d dispatches, last=%d",
		out.Report.N, out.Report.Levels, out.Report.Dispatches, out.Out[len(out.Out)-1])
	return nil
}
