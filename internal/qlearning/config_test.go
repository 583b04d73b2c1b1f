package qlearning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 0.1, c.LearningRate)
	assert.Equal(t, 500, c.MemorySize)
	assert.Equal(t, Exponential, c.Explore.Shape)
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, `
learning_rate: 0.3
memory_size: 64
explore:
  max: 0.5
  shape: linear
discount_warmup: 0
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.3, c.LearningRate)
	assert.Equal(t, 64, c.MemorySize)
	assert.Equal(t, 0.5, c.Explore.Max)
	assert.Equal(t, Linear, c.Explore.Shape)
	assert.Equal(t, 0.0, c.DiscountWarmUp)

	// Not given: kept from the defaults.
	assert.Equal(t, 256, c.BatchSize)
	assert.Equal(t, 0.01, c.Explore.Min)

	// The YAML serialization loads back to the same configuration.
	c2, err := LoadConfig(writeFile(t, c.YAML()))
	require.NoError(t, err)
	assert.Equal(t, c, c2)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "learning_rate: 0.3\nlearning_rat: 0.2\n"))
	assert.ErrorContains(t, err, "learning_rat")

	_, err = LoadConfig(writeFile(t, "memory_size: 0\n"))
	assert.ErrorContains(t, err, "memory_size")

	_, err = LoadConfig(writeFile(t, "explore:\n  shape: cubic\n"))
	assert.ErrorContains(t, err, "cubic")
}

func TestApplyParams(t *testing.T) {
	c := DefaultConfig()
	params := parameters.NewFromConfigString("learning_rate=0.2,memory_size=1000,parallel=false," +
		"explore_min=0.05,explore_shape=linear,checkpoint_every=3,seed=17")
	require.NoError(t, c.ApplyParams(params))
	assert.Empty(t, params)
	assert.Equal(t, 0.2, c.LearningRate)
	assert.Equal(t, 1000, c.MemorySize)
	assert.False(t, c.Parallel)
	assert.Equal(t, 0.05, c.Explore.Min)
	assert.Equal(t, Linear, c.Explore.Shape)
	assert.Equal(t, 3, c.CheckpointEvery)
	assert.Equal(t, uint64(17), c.Seed)

	c = DefaultConfig()
	assert.Error(t, c.ApplyParams(parameters.NewFromConfigString("unknown=1")))
	c = DefaultConfig()
	assert.Error(t, c.ApplyParams(parameters.NewFromConfigString("batch_size=lots")))
	c = DefaultConfig()
	assert.Error(t, c.ApplyParams(parameters.NewFromConfigString("learning_rate=2")))
}
