package _default

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/ai/linear"
	"github.com/janpfeifer/qlearner/internal/ai/mlp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	assert.Contains(t, ai.RegisteredModules(), "mlp")

	a, err := ai.New("", 4, 3)
	require.NoError(t, err)
	assert.Equal(t, "mlp[4 8 8 3]", a.String())

	a, err = ai.New("mlp:hidden_nodes=5,seed=1", 4, 3)
	require.NoError(t, err)
	assert.Equal(t, "mlp[4 5 3]", a.String())

	_, err = ai.New("mlp:hidden_nodes=5,colour=blue", 4, 3)
	assert.ErrorContains(t, err, "colour")
	_, err = ai.New("perceptron", 4, 3)
	assert.Error(t, err)
}

func TestLinear(t *testing.T) {
	assert.Contains(t, ai.RegisteredModules(), "linear")
	dir := filepath.Join(t.TempDir(), "linear")
	created, err := ai.LoadOrCreate("linear:learning_rate=0.3", dir, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, "linear[3->2]", created.String())
	_, err = created.GradientDescent([]ai.TrainingPair{{Input: []float64{1, 0, 0}, Target: []float64{1, -1}}}, 1, 1, false)
	require.NoError(t, err)
	require.NoError(t, created.WriteToDirectory(dir))

	loaded, err := ai.LoadOrCreate("linear:learning_rate=0.2", dir, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, created.Output([]float64{1, 0, 0}), loaded.Output([]float64{1, 0, 0}))
	assert.Equal(t, 0.2, loaded.(*linear.Linear).LearningRate)
}

func TestLoadOrCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "model")
	_, err := ai.ReadFromDirectory("mlp", dir)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	created, err := ai.LoadOrCreate("mlp:hidden_nodes=6,seed=7", dir, 2, 2)
	require.NoError(t, err)
	require.NoError(t, created.WriteToDirectory(dir))

	loaded, err := ai.LoadOrCreate("mlp:learning_rate=0.5", dir, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, created.String(), loaded.String())
	assert.Equal(t, created.Output([]float64{1, -1}), loaded.Output([]float64{1, -1}))
	assert.Equal(t, 0.5, loaded.(*mlp.MLP).Config().LearningRate)

	// Dimensions must match the environment.
	_, err = ai.LoadOrCreate("mlp", dir, 3, 2)
	assert.Error(t, err)
}
