package ncf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkerboard gives every user a clear preference over half the catalog.
func checkerboard(users, products int) []Sample {
	var samples []Sample
	for u := range users {
		for p := range products {
			target := 0.6
			if (u+p)%2 == 0 {
				target = 0.95
			}
			samples = append(samples, Sample{User: u, Product: p, Target: target})
		}
	}
	return samples
}

func TestTrain_LossDecreases(t *testing.T) {
	m := newTestModel(t, 4, 4)

	var seen []EpochStats
	history, err := Train(context.Background(), m, checkerboard(4, 4), TrainConfig{
		Epochs:       60,
		BatchSize:    4,
		LearningRate: 0.01,
		TestFraction: 0,
		Seed:         DefaultSeed,
		OnEpoch:      func(s EpochStats) { seen = append(seen, s) },
	})
	require.NoError(t, err)

	require.Len(t, history.Epochs, 60)
	assert.Equal(t, history.Epochs, seen)
	assert.Equal(t, 16, history.TrainSize)
	assert.Zero(t, history.TestSize)

	first, last := history.Epochs[0].Loss, history.FinalLoss()
	assert.Less(t, last, first)
	for i, s := range history.Epochs {
		assert.Equal(t, i+1, s.Epoch)
		assert.False(t, s.HasValidation)
	}
}

func TestTrain_ReportsValidation(t *testing.T) {
	m := newTestModel(t, 5, 5)

	history, err := Train(context.Background(), m, checkerboard(5, 5), TrainConfig{
		Epochs:       2,
		TestFraction: DefaultTestFraction,
		Seed:         DefaultSeed,
	})
	require.NoError(t, err)

	assert.Equal(t, 20, history.TrainSize)
	assert.Equal(t, 5, history.TestSize)
	for _, s := range history.Epochs {
		assert.True(t, s.HasValidation)
		assert.GreaterOrEqual(t, s.ValLoss, 0.0)
		assert.GreaterOrEqual(t, s.ValMAE, 0.0)
		// MSE of errors bounded by 1 never exceeds their MAE
		assert.LessOrEqual(t, s.ValLoss, s.ValMAE+1e-12)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	run := func() (*Model, History) {
		m := newTestModel(t, 3, 4)
		h, err := Train(context.Background(), m, checkerboard(3, 4), TrainConfig{
			Epochs:       3,
			BatchSize:    5,
			TestFraction: DefaultTestFraction,
			Seed:         DefaultSeed,
		})
		require.NoError(t, err)
		return m, h
	}

	m1, h1 := run()
	m2, h2 := run()
	assert.Equal(t, m1, m2)
	for i := range h1.Epochs {
		assert.Equal(t, h1.Epochs[i].Loss, h2.Epochs[i].Loss)
		assert.Equal(t, h1.Epochs[i].ValLoss, h2.Epochs[i].ValLoss)
	}
}

func TestTrain_SingleSample(t *testing.T) {
	m := newTestModel(t, 1, 1)

	history, err := Train(context.Background(), m, []Sample{{Target: 0.5}}, TrainConfig{
		Epochs:       1,
		TestFraction: DefaultTestFraction,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, history.TrainSize)
	assert.Zero(t, history.TestSize)
	assert.False(t, math.IsNaN(history.FinalLoss()))
}

func TestTrain_Errors(t *testing.T) {
	m := newTestModel(t, 2, 2)

	_, err := Train(context.Background(), m, nil, TrainConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Train(context.Background(), m, []Sample{{User: 2, Product: 0}}, TrainConfig{})
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Train(ctx, m, checkerboard(2, 2), TrainConfig{Epochs: 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTrain_Diverged(t *testing.T) {
	m := newTestModel(t, 2, 2)

	_, err := Train(context.Background(), m, []Sample{{User: 0, Product: 1, Target: math.NaN()}}, TrainConfig{Epochs: 1})
	require.ErrorIs(t, err, ErrDiverged)
}

func TestHistory_FinalLossEmpty(t *testing.T) {
	assert.True(t, math.IsNaN(History{}.FinalLoss()))
}
