package gridworld

import (
	"testing"

	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, layout := range [][]string{
		{},
		{"..", "C."}, // No mouse.
		{"MM", "C."}, // Two mice.
		{"M.", "C"},  // Ragged.
		{"M.", "Cx"}, // Unknown cell.
		{"M"},        // No room to move.
		{"M#", "#C"}, // Walled in.
	} {
		_, err := New(layout, 10)
		assert.Error(t, err, "layout %q", layout)
	}
	_, err := New([]string{"MC"}, 0)
	assert.Error(t, err)

	g, err := New(DefaultLayout, DefaultMaxSteps)
	require.NoError(t, err)
	assert.Equal(t, 20, g.StateSize())
	row, col := g.Position()
	assert.Equal(t, 0, row)
	assert.Equal(t, 0, col)
	layer := g.ToLayer()
	assert.Len(t, layer, 20)
	assert.Equal(t, 1.0, layer[0])
}

func TestNewFromParams(t *testing.T) {
	params := parameters.NewFromConfigString("layout=M.C/.T.,max_steps=7")
	g, err := NewFromParams(params)
	require.NoError(t, err)
	assert.Empty(t, params)
	assert.Equal(t, 6, g.StateSize())
	assert.Equal(t, 7, g.MaxSteps)

	_, err = NewFromParams(parameters.NewFromConfigString("max_steps=many"))
	assert.Error(t, err)
}

func TestMoves(t *testing.T) {
	g, err := New([]string{
		"M.C",
		"#T.",
	}, 10)
	require.NoError(t, err)
	assert.False(t, g.IsValidMove(Up))
	assert.False(t, g.IsValidMove(Left))
	assert.False(t, g.IsValidMove(Down)) // Wall.
	assert.True(t, g.IsValidMove(Right))

	g.MakeMove(Right)
	assert.Equal(t, RewardStep, g.Reward())
	assert.False(t, g.IsTerminal())
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 0}, g.ToLayer())
	assert.Equal(t, ".MC\n#T.\n", g.String())

	g.MakeMove(Right)
	assert.Equal(t, RewardCheese, g.Reward())
	assert.True(t, g.IsTerminal())
	assert.True(t, g.HasWon())
	assert.False(t, g.IsValidMove(Left))

	g.Reset()
	g.MakeMove(Right)
	g.MakeMove(Down)
	assert.Equal(t, RewardTrap, g.Reward())
	assert.True(t, g.HasLost())
	assert.False(t, g.HasTimedOut())
}

func TestTimeout(t *testing.T) {
	g, err := New([]string{"M..C"}, 3)
	require.NoError(t, err)
	g.MakeMove(Right)
	g.MakeMove(Left)
	assert.False(t, g.IsTerminal())
	g.MakeMove(Right)
	assert.True(t, g.IsTerminal())
	assert.True(t, g.HasTimedOut())
	assert.False(t, g.HasWon())
	assert.Equal(t, RewardTimeout, g.Reward())
}
