package ncf

import (
	"fmt"
	"math"
	"slices"
)

// Normalize min-max scales scores into [0, 1]. When every score is equal the
// range is widened by one on each side, mapping all values to 0.5.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := slices.Min(scores), slices.Max(scores)
	if lo == hi {
		for i, s := range scores {
			out[i] = (s - lo + 1) / (hi - lo + 2)
		}
		return out
	}

	span := hi - lo
	for i, s := range scores {
		out[i] = (s - lo) / span
	}
	return out
}

// Split shuffles the indices [0, n) with the given seed and partitions them
// into train and test sets. The test set holds ceil(n*testFraction) indices
// but never all of them.
func Split(n int, testFraction float64, seed uint64) (train, test []int, err error) {
	if n < 1 {
		return nil, nil, fmt.Errorf("%w: cannot split %d samples", ErrInvalidConfig, n)
	}
	if testFraction < 0 || testFraction >= 1 || math.IsNaN(testFraction) {
		return nil, nil, fmt.Errorf("%w: test fraction %v", ErrInvalidConfig, testFraction)
	}

	perm := newRNG(seed).Perm(n)
	nTest := int(math.Ceil(float64(n)*testFraction - 1e-9))
	nTest = min(nTest, n-1)

	return perm[nTest:], perm[:nTest], nil
}
