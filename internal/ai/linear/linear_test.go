package linear

import (
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutput(t *testing.T) {
	model, err := NewWithWeights(3, 2, []float64{
		// Move 0 weights and bias:
		2, -1, 4, 3,
		// Move 1 weights and bias:
		0, 1, 0, -1,
	})
	require.NoError(t, err)
	assert.Equal(t, "linear[3->2]", model.String())
	assert.Equal(t, []float64{3, -1}, model.Output([]float64{0, 0, 0}))
	assert.InDeltaSlice(t, []float64{3.5, -0.9}, model.Output([]float64{0.1, 0.1, 0.1}), 1e-9)
	assert.Panics(t, func() { model.Output([]float64{1}) })

	_, err = NewWithWeights(3, 2, []float64{1, 2})
	assert.Error(t, err)
	_, err = New(0, 2)
	assert.Error(t, err)
}

func TestGradient(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 0))
	model, err := New(4, 3)
	require.NoError(t, err)
	for ii := range model.weights {
		model.weights[ii] = rng.NormFloat64()
	}
	model.L2Reg = 0.01
	pairs := make([]ai.TrainingPair, 5)
	for ii := range pairs {
		pairs[ii] = ai.TrainingPair{Input: make([]float64, 4), Target: make([]float64, 3)}
		for jj := range pairs[ii].Input {
			pairs[ii].Input[jj] = rng.NormFloat64()
		}
		for jj := range pairs[ii].Target {
			pairs[ii].Target[jj] = rng.NormFloat64()
		}
	}

	// Compare to the numeric gradient.
	grad := make([]float64, len(model.weights))
	model.calculateGradient(pairs, grad)
	const epsilon = 1e-6
	for ii := range model.weights {
		original := model.weights[ii]
		model.weights[ii] = original + epsilon
		lossPlus := model.loss(pairs)
		model.weights[ii] = original - epsilon
		lossMinus := model.loss(pairs)
		model.weights[ii] = original
		assert.InDelta(t, (lossPlus-lossMinus)/(2*epsilon), grad[ii], 1e-5, "weight #%d", ii)
	}
}

func TestGradientDescentLearnsTable(t *testing.T) {
	params := parameters.NewFromConfigString("learning_rate=0.5,gradient_l2_clip=0")
	model, err := NewFromParams(3, 2, params)
	require.NoError(t, err)
	assert.Empty(t, params)
	assert.Equal(t, 0.5, model.LearningRate)

	// One-hot states: the linear model is a Q-table.
	pairs := []ai.TrainingPair{
		{Input: []float64{1, 0, 0}, Target: []float64{1, -1}},
		{Input: []float64{0, 1, 0}, Target: []float64{0.5, 0}},
		{Input: []float64{0, 0, 1}, Target: []float64{-1, 2}},
	}
	initialLoss := model.Loss(pairs)
	loss, err := model.GradientDescent(pairs, 2, 500, true)
	require.NoError(t, err)
	assert.Less(t, loss, initialLoss/100)
	for _, pair := range pairs {
		assert.InDeltaSlice(t, pair.Target, model.Output(pair.Input), 0.05)
	}

	_, err = model.GradientDescent(nil, 2, 1, false)
	assert.Error(t, err)
	_, err = model.GradientDescent([]ai.TrainingPair{{Input: []float64{1}, Target: []float64{1, 1}}}, 2, 1, false)
	assert.Error(t, err)
	_, err = NewFromParams(3, 2, parameters.NewFromConfigString("learning_rate=-1"))
	assert.Error(t, err)
}

func TestClipL2(t *testing.T) {
	vec := []float64{3, 4}
	clipL2(vec, 10)
	assert.Equal(t, []float64{3, 4}, vec)
	clipL2(vec, 1)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, vec, 1e-9)
}

func TestWriteAndReadFromDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "linear")
	_, err := ReadFromDirectory(dir)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	model, err := NewWithWeights(2, 2, []float64{0.1, -0.2, 0.3, 1e-10, 5, 6})
	require.NoError(t, err)
	require.NoError(t, model.WriteToDirectory(dir))
	require.NoError(t, model.WriteToDirectory(dir))
	_, err = os.Stat(filepath.Join(dir, FileName+"~"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err))

	loaded, err := ReadFromDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, model.weights, loaded.weights)
	assert.Equal(t, 2, loaded.InputSize())
	assert.Equal(t, 2, loaded.OutputSize())

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("2 2\n1\nfoo\n"), 0644))
	_, err = ReadFromDirectory(dir)
	assert.Error(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("2 2\n1\n2\n"), 0644))
	_, err = ReadFromDirectory(dir)
	assert.Error(t, err)
}
