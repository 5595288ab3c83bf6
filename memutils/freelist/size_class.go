package freelist

import (
	"math"
	"math/bits"

	"github.com/vkngwrapper/segheap/memutils/layout"
)

const (
	// NumClasses is the number of size class buckets
	NumClasses = 10

	// Blocks smaller than 1<<firstClassShift all land in class 0
	firstClassShift = 5
)

// ClassOf returns the size class of a block of the given size. Classes are power-of-two
// ranges [min,31] [32,63] [64,127] ... [4096,8191] [8192,inf).
func ClassOf(size int) int {
	class := bits.Len(uint(size)) - firstClassShift
	if class < 0 {
		return 0
	}
	if class >= NumClasses {
		return NumClasses - 1
	}
	return class
}

// ClassBounds returns the smallest and largest block size that falls in class
func ClassBounds(class int) (int, int) {
	lower := layout.MinBlockSize
	if class > 0 {
		lower = 1 << (class + firstClassShift - 1)
	}

	upper := math.MaxInt
	if class < NumClasses-1 {
		upper = 1<<(class+firstClassShift) - 1
	}

	return lower, upper
}
