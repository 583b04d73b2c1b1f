package environments_test

import (
	"testing"

	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/janpfeifer/qlearner/internal/environments/bandit"
	"github.com/janpfeifer/qlearner/internal/environments/gridworld"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duplicatedMoves lists the same move twice.
type duplicatedMoves struct {
	*bandit.Bandit
}

func (d duplicatedMoves) AllPossibleMoves() []bandit.Arm {
	return []bandit.Arm{bandit.ArmA, bandit.ArmB, bandit.ArmA}
}

func TestValidMoves(t *testing.T) {
	g, err := gridworld.New([]string{"M.", "#C"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []gridworld.Direction{gridworld.Right}, environments.ValidMoves[gridworld.Direction](g))

	b := bandit.New()
	assert.Equal(t, []bandit.Arm{bandit.ArmA, bandit.ArmB}, environments.ValidMoves[bandit.Arm](b))
	b.MakeMove(bandit.ArmA)
	assert.Empty(t, environments.ValidMoves[bandit.Arm](b))
}

func TestMoveIndices(t *testing.T) {
	indices, err := environments.MoveIndices[bandit.Arm](bandit.New())
	require.NoError(t, err)
	assert.Equal(t, map[bandit.Arm]int{bandit.ArmA: 0, bandit.ArmB: 1}, indices)

	_, err = environments.MoveIndices[bandit.Arm](duplicatedMoves{bandit.New()})
	assert.ErrorContains(t, err, "listed twice")
}
