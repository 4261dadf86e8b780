package types

import (
	"golang.org/x/exp/constraints"
)

const (
	// WidthAlignment and HeightAlignment are the granularity the video
	// hardware requires for frame dimensions.
	WidthAlignment  = 32
	HeightAlignment = 16
)

// AlignUp rounds v up to the next multiple of align; align must be a power
// of two. Values too close to the maximum of T to be rounded up saturate to
// the largest multiple of align instead of wrapping around to zero.
func AlignUp[T constraints.Unsigned](v, align T) T {
	mask := align - 1
	if v > ^T(0)-mask {
		return ^T(0) &^ mask
	}
	return (v + mask) &^ mask
}
