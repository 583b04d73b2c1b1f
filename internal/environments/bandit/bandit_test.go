package bandit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandit(t *testing.T) {
	b := New()
	assert.Equal(t, 1, b.StateSize())
	assert.Equal(t, []float64{1}, b.ToLayer())
	assert.False(t, b.IsTerminal())
	assert.Equal(t, 0.0, b.Reward())
	_, gaveHint := b.Hint()
	assert.False(t, gaveHint)

	b.MakeMove(ArmA)
	assert.True(t, b.IsTerminal())
	assert.True(t, b.HasWon())
	assert.False(t, b.HasLost())
	assert.Equal(t, RewardA, b.Reward())
	assert.False(t, b.IsValidMove(ArmB))
	assert.Equal(t, "[ pulled A ]", b.String())

	b.Reset()
	assert.False(t, b.IsTerminal())
	assert.True(t, b.IsValidMove(ArmB))
	b.MakeMove(ArmB)
	assert.True(t, b.HasLost())
	assert.Equal(t, RewardB, b.Reward())
	assert.Equal(t, "B", b.MoveToString(ArmB))
}
