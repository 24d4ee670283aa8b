package scan

// PaddedLen is the buffer length a level of n elements is scanned at.
func PaddedLen(n, blockSize int, p PadPolicy) int {
	if n <= 0 {
		return 0
	}
	if p == PadLegacy {
		return n + (blockSize - n%blockSize)
	}
	return (n + blockSize - 1) / blockSize * blockSize
}

// Levels is the number of block-scan levels a scan of n elements runs with
// ceil padding: 0 for n == 0, 1 while everything fits in one block, and
// ceil(log_blockSize(n)) beyond that.
func Levels(n, blockSize int) int {
	if n <= 0 {
		return 0
	}
	if blockSize <= 1 {
		// Blocks of one never shrink the sequence.
		return 0
	}
	levels := 1
	for span := blockSize; span < n; span *= blockSize {
		levels++
	}
	return levels
}
