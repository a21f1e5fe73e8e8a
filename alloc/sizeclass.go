package alloc

import "math/bits"

// Size classes are powers of two from 8 up to 1024 bytes. Requests above
// maxSmall bypass the pools and get a dedicated mapping (large.go).
const (
	minClassShift = 3
	minClassSize  = 1 << minClassShift
	numClasses    = 8
	maxSmall      = minClassSize << (numClasses - 1)
)

// classIndex returns the smallest class whose slots hold n bytes, or -1
// when n exceeds the largest class.
func classIndex(n int) int {
	if n > maxSmall {
		return -1
	}
	if n <= minClassSize {
		return 0
	}
	return bits.Len(uint(n-1)) - minClassShift
}

// classSize is the slot size of class ci.
func classSize(ci int) int {
	return minClassSize << uint(ci)
}
