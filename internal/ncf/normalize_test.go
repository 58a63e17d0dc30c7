package ncf

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   []float64
	}{
		{"empty", nil, []float64{}},
		{"single", []float64{5}, []float64{0.5}},
		{"all equal", []float64{3, 3, 3}, []float64{0.5, 0.5, 0.5}},
		{"range", []float64{4, 5}, []float64{0, 1}},
		{"negative", []float64{-1, 1, 3}, []float64{0, 0.5, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.scores)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-12)
			}
		})
	}
}

func TestNormalize_AlwaysFiniteAndBounded(t *testing.T) {
	rng := newRNG(3)
	for range 100 {
		scores := make([]float64, 1+rng.IntN(20))
		for i := range scores {
			scores[i] = float64(rng.IntN(11) - 5)
		}
		for _, v := range Normalize(scores) {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestSplit_Sizes(t *testing.T) {
	tests := []struct {
		n         int
		fraction  float64
		wantTrain int
		wantTest  int
	}{
		{n: 1, fraction: 0.2, wantTrain: 1, wantTest: 0},
		{n: 2, fraction: 0.2, wantTrain: 1, wantTest: 1},
		{n: 5, fraction: 0.2, wantTrain: 4, wantTest: 1},
		{n: 10, fraction: 0.2, wantTrain: 8, wantTest: 2},
		{n: 11, fraction: 0.2, wantTrain: 8, wantTest: 3},
		{n: 10, fraction: 0, wantTrain: 10, wantTest: 0},
		{n: 3, fraction: 0.9, wantTrain: 1, wantTest: 2},
	}
	for _, tt := range tests {
		train, test, err := Split(tt.n, tt.fraction, DefaultSeed)
		require.NoError(t, err)
		assert.Len(t, train, tt.wantTrain, "n=%d fraction=%v", tt.n, tt.fraction)
		assert.Len(t, test, tt.wantTest, "n=%d fraction=%v", tt.n, tt.fraction)

		all := slices.Concat(train, test)
		slices.Sort(all)
		for i, v := range all {
			require.Equal(t, i, v)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	trainA, testA, err := Split(50, 0.2, DefaultSeed)
	require.NoError(t, err)
	trainB, testB, err := Split(50, 0.2, DefaultSeed)
	require.NoError(t, err)
	assert.Equal(t, trainA, trainB)
	assert.Equal(t, testA, testB)
}

func TestSplit_Invalid(t *testing.T) {
	_, _, err := Split(0, 0.2, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, _, err = Split(10, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, _, err = Split(10, -0.1, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
