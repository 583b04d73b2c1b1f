package qlearning

import (
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func momentN(n int) Moment[int] {
	return Moment[int]{Before: []float64{float64(n)}, Move: n, Reward: float64(n)}
}

func TestMemoryCapacity(t *testing.T) {
	m := NewMemory[int](5)
	assert.Equal(t, 5, m.Capacity())
	for ii := range 5 {
		assert.False(t, m.IsFull())
		require.NoError(t, m.Add(momentN(ii)))
		assert.Equal(t, ii+1, m.Len())
	}
	assert.True(t, m.IsFull())

	// Any further Add fails, and the memory never grows past its capacity.
	for ii := range 10 {
		err := m.Add(momentN(100 + ii))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMemoryFull))
		assert.Equal(t, 5, m.Len())
	}

	// Capture order is preserved until drained.
	for ii, moment := range m.Moments() {
		assert.Equal(t, ii, moment.Move)
	}

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.IsFull())
	require.NoError(t, m.Add(momentN(7)))
}

func TestMemoryDrainAndShuffle(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	const capacity = 100
	m := NewMemory[int](capacity)
	for ii := range capacity {
		require.NoError(t, m.Add(momentN(ii)))
	}
	drained := m.DrainAndShuffle(rng)
	assert.Equal(t, 0, m.Len())
	require.Len(t, drained, capacity)

	// Same set of moments.
	seen := make(map[int]bool)
	inOrder := true
	for ii, moment := range drained {
		assert.False(t, seen[moment.Move], "moment %d drained twice", moment.Move)
		seen[moment.Move] = true
		assert.Equal(t, float64(moment.Move), moment.Reward)
		if moment.Move != ii {
			inOrder = false
		}
	}
	assert.Len(t, seen, capacity)
	assert.False(t, inOrder, "100 moments were not shuffled")

	// Draining an empty memory returns nothing.
	assert.Empty(t, m.DrainAndShuffle(rng))
}

func TestMemoryPartialDrain(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 0))
	m := NewMemory[int](10)
	for ii := range 3 {
		require.NoError(t, m.Add(momentN(ii)))
	}
	drained := m.DrainAndShuffle(rng)
	moves := make([]int, len(drained))
	for ii, moment := range drained {
		moves[ii] = moment.Move
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, moves)
	assert.Equal(t, 0, m.Len())
}
