package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

// CheckPow2 returns a PowerOfTwoError if the number is not a power of two. Zero passes, callers
// that cannot accept zero must check for it themselves.
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	if alignment < 1 {
		return value
	}
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown(value int, alignment uint) int {
	if alignment < 1 {
		return value
	}
	return value & int(^(alignment - 1))
}

// IsAligned reports whether value is a multiple of alignment
func IsAligned(value int, alignment uint) bool {
	if alignment < 1 {
		return true
	}
	return value&int(alignment-1) == 0
}
