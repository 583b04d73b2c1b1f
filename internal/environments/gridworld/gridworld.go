// Package gridworld implements a mouse looking for cheese in a small maze, while avoiding traps.
//
// The maze is described by a layout, one string per row, with the characters:
//
//   - 'M': the starting position of the mouse.
//   - 'C': cheese, the episode is won (+10).
//   - 'T': trap, the episode is lost (-10).
//   - '#': wall, the mouse can't move there.
//   - '.': empty space, each move costs -0.1.
//
// If the mouse doesn't find the cheese within MaxSteps, the episode times out (-1).
package gridworld

import (
	"strings"

	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
)

// Direction of the mouse move.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionNames = []string{"up", "down", "left", "right"}

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return "invalid"
	}
	return directionNames[d]
}

func (d Direction) delta() (dRow, dCol int) {
	switch d {
	case Up:
		return -1, 0
	case Down:
		return 1, 0
	case Left:
		return 0, -1
	default:
		return 0, 1
	}
}

const (
	RewardCheese  = 10.0
	RewardTrap    = -10.0
	RewardStep    = -0.1
	RewardTimeout = -1.0
)

// DefaultLayout is used if no layout is given.
var DefaultLayout = []string{
	"M..#.",
	".#...",
	"...#T",
	"T#..C",
}

// DefaultMaxSteps is used if max_steps is not given.
const DefaultMaxSteps = 40

// GridWorld implements environments.Environment[Direction].
type GridWorld struct {
	layout             []string
	height, width      int
	startRow, startCol int
	MaxSteps           int

	row, col int
	steps    int
	reward   float64
	cell     byte
}

// Assert GridWorld is an environments.Environment.
var _ environments.Environment[Direction] = (*GridWorld)(nil)

// New creates a GridWorld from the given layout. See package documentation for the format.
func New(layout []string, maxSteps int) (*GridWorld, error) {
	if len(layout) == 0 {
		return nil, errors.New("gridworld layout is empty")
	}
	if maxSteps <= 0 {
		return nil, errors.Errorf("gridworld max_steps must be > 0, got %d", maxSteps)
	}
	g := &GridWorld{
		layout:   layout,
		height:   len(layout),
		width:    len(layout[0]),
		startRow: -1,
		MaxSteps: maxSteps,
	}
	for row, line := range layout {
		if len(line) != g.width {
			return nil, errors.Errorf("gridworld layout row %d has width %d, but row 0 has width %d", row, len(line), g.width)
		}
		for col := range len(line) {
			switch line[col] {
			case 'M':
				if g.startRow != -1 {
					return nil, errors.Errorf("gridworld layout has more than one mouse ('M')")
				}
				g.startRow, g.startCol = row, col
			case 'C', 'T', '#', '.':
			default:
				return nil, errors.Errorf("gridworld layout has unknown cell %q at row %d, column %d", line[col], row, col)
			}
		}
	}
	if g.startRow == -1 {
		return nil, errors.New("gridworld layout has no mouse ('M')")
	}
	g.Reset()
	if len(environments.ValidMoves[Direction](g)) == 0 {
		return nil, errors.Errorf("gridworld mouse at row %d, column %d has no valid moves", g.startRow, g.startCol)
	}
	return g, nil
}

// NewFromParams creates a GridWorld configured by params:
//
//   - layout: rows separated by "/", e.g. "M.C/.T.". Default is DefaultLayout.
//   - max_steps: default is DefaultMaxSteps.
func NewFromParams(params parameters.Params) (*GridWorld, error) {
	layoutStr, err := parameters.PopParamOr(params, "layout", strings.Join(DefaultLayout, "/"))
	if err != nil {
		return nil, err
	}
	maxSteps, err := parameters.PopParamOr(params, "max_steps", DefaultMaxSteps)
	if err != nil {
		return nil, err
	}
	return New(strings.Split(layoutStr, "/"), maxSteps)
}

// StateSize implements environments.Environment: a one-hot encoding of the mouse position.
func (g *GridWorld) StateSize() int { return g.height * g.width }

// AllPossibleMoves implements environments.Environment.
func (g *GridWorld) AllPossibleMoves() []Direction { return []Direction{Up, Down, Left, Right} }

// IsValidMove implements environments.Environment: the mouse can't walk into walls or out of the maze.
func (g *GridWorld) IsValidMove(d Direction) bool {
	if g.IsTerminal() || d < Up || d > Right {
		return false
	}
	dRow, dCol := d.delta()
	row, col := g.row+dRow, g.col+dCol
	if row < 0 || row >= g.height || col < 0 || col >= g.width {
		return false
	}
	return g.layout[row][col] != '#'
}

// Hint implements environments.Environment: there are no forced moves in the maze.
func (g *GridWorld) Hint() (Direction, bool) { return Up, false }

// MakeMove implements environments.Environment.
func (g *GridWorld) MakeMove(d Direction) {
	dRow, dCol := d.delta()
	g.row += dRow
	g.col += dCol
	g.steps++
	g.cell = g.layout[g.row][g.col]
	switch {
	case g.cell == 'C':
		g.reward = RewardCheese
	case g.cell == 'T':
		g.reward = RewardTrap
	case g.steps >= g.MaxSteps:
		g.reward = RewardTimeout
	default:
		g.reward = RewardStep
	}
}

func (g *GridWorld) Reward() float64 { return g.reward }

func (g *GridWorld) HasWon() bool  { return g.cell == 'C' }
func (g *GridWorld) HasLost() bool { return g.cell == 'T' }

// HasTimedOut implements environments.Environment.
func (g *GridWorld) HasTimedOut() bool {
	return !g.HasWon() && !g.HasLost() && g.steps >= g.MaxSteps
}

// IsTerminal implements environments.Environment.
func (g *GridWorld) IsTerminal() bool {
	return g.HasWon() || g.HasLost() || g.HasTimedOut()
}

// Reset implements environments.Environment.
func (g *GridWorld) Reset() {
	g.row, g.col = g.startRow, g.startCol
	g.steps = 0
	g.reward = 0
	g.cell = 'M'
}

// ToLayer implements environments.Environment.
func (g *GridWorld) ToLayer() []float64 {
	layer := make([]float64, g.StateSize())
	layer[g.row*g.width+g.col] = 1
	return layer
}

func (g *GridWorld) MoveToString(d Direction) string { return d.String() }

// Position of the mouse.
func (g *GridWorld) Position() (row, col int) { return g.row, g.col }

// String renders the maze with the current mouse position.
func (g *GridWorld) String() string {
	var sb strings.Builder
	for row, line := range g.layout {
		for col := range len(line) {
			cell := line[col]
			switch {
			case row == g.row && col == g.col:
				cell = 'M'
			case cell == 'M':
				cell = '.'
			}
			sb.WriteByte(cell)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
