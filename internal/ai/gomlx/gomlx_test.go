package gomlx

import (
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"testing"

	_ "github.com/gomlx/gomlx/backends/simplego"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaddedBatchSize(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 10, 100, 256} {
		padded := paddedBatchSize(n)
		assert.GreaterOrEqual(t, padded, n)
		assert.LessOrEqual(t, padded, 2*n)
	}
	assert.Equal(t, 1, paddedBatchSize(1))
}

func TestApproximator(t *testing.T) {
	params := parameters.Params{
		fnnLayer.ParamNumHiddenNodes: "8",
		optimizers.ParamLearningRate: "0.01",
	}
	a, err := Module{}.New(3, 2, params)
	require.NoError(t, err)
	assert.Empty(t, params)
	assert.Equal(t, 3, a.InputSize())
	assert.Equal(t, 2, a.OutputSize())

	input := []float64{1, 0, 0}
	output := a.Output(input)
	require.Len(t, output, 2)
	assert.Equal(t, output, a.Output(input))
	assert.Panics(t, func() { a.Output([]float64{1}) })

	// Learn a constant target per one-hot state.
	rng := rand.New(rand.NewPCG(1, 1))
	states := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	targets := [][]float64{{1, -1}, {0.5, 0}, {-1, 2}}
	pairs := make([]ai.TrainingPair, 30)
	for ii := range pairs {
		idx := rng.IntN(len(states))
		pairs[ii] = ai.TrainingPair{Input: states[idx], Target: targets[idx]}
	}
	fnn := a.(*Approximator)
	initialLoss := fnn.Loss(pairs)
	loss, err := a.GradientDescent(pairs, 8, 100, true)
	require.NoError(t, err)
	assert.Less(t, loss, initialLoss)
	assert.Less(t, fnn.Loss(pairs), initialLoss/2)
}

func TestWriteAndReadFromDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fnn")
	_, err := Module{}.ReadFromDirectory(dir, parameters.Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	a, err := Module{}.New(4, 3, parameters.Params{})
	require.NoError(t, err)
	require.NoError(t, a.WriteToDirectory(dir))
	assert.True(t, HasCheckpoint(dir))

	// Bound to dir: other directories are refused.
	assert.Error(t, a.WriteToDirectory(filepath.Join(t.TempDir(), "other")))

	// A new model can't overwrite an existing checkpoint.
	b, err := Module{}.New(4, 3, parameters.Params{})
	require.NoError(t, err)
	assert.Error(t, b.WriteToDirectory(dir))

	loaded, err := Module{}.ReadFromDirectory(dir, parameters.Params{})
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.InputSize())
	assert.Equal(t, 3, loaded.OutputSize())
	for _, input := range [][]float64{{1, 0, 0, 0}, {0, 0.5, -1, 2}} {
		assert.InDeltaSlice(t, a.Output(input), loaded.Output(input), 1e-5)
	}
}
