package scan

// Reference is the sequential scan every executor result is checked against.
// Additions wrap exactly like the kernels do.
func Reference(in []int32, mode Mode) []int32 {
	out := make([]int32, len(in))
	var acc int32
	if mode == Inclusive {
		for i, v := range in {
			acc += v
			out[i] = acc
		}
		return out
	}
	for i, v := range in {
		out[i] = acc
		acc += v
	}
	return out
}
