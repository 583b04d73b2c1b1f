// Package nim implements the misère variant of Nim with a single pile: players alternate taking
// 1 to 3 sticks, and whoever takes the last stick loses.
//
// The opponent is part of the environment: after each move of the learner it plays its own move.
// It plays the winning strategy with probability Skill, and a random legal move otherwise.
//
// When a single stick is left the only legal move is to take it, and the environment gives it
// as a hint.
package nim

import (
	"fmt"
	"math/rand/v2"

	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
)

// Take is the number of sticks removed from the pile.
type Take int

const (
	Take1 Take = 1
	Take2 Take = 2
	Take3 Take = 3
)

const (
	RewardWin  = 1.0
	RewardLoss = -1.0
)

// Nim implements environments.Environment[Take].
type Nim struct {
	// NumSticks at the start of an episode.
	NumSticks int

	// Skill of the opponent, from 0 (random) to 1 (perfect).
	Skill float64

	rng *rand.Rand

	remaining        int
	won, lost        bool
	lastOpponentTake Take
}

// Assert Nim is an environments.Environment.
var _ environments.Environment[Take] = (*Nim)(nil)

// New creates a Nim environment. The rng is used by the opponent.
func New(numSticks int, skill float64, rng *rand.Rand) (*Nim, error) {
	if numSticks < 2 {
		return nil, errors.Errorf("nim needs at least 2 sticks, got %d", numSticks)
	}
	if skill < 0 || skill > 1 {
		return nil, errors.Errorf("nim opponent skill must be in [0, 1], got %g", skill)
	}
	n := &Nim{NumSticks: numSticks, Skill: skill, rng: rng}
	n.Reset()
	return n, nil
}

// NewFromParams creates a Nim environment configured by params "sticks" (default 12) and
// "skill" (default 0.5).
func NewFromParams(params parameters.Params, rng *rand.Rand) (*Nim, error) {
	numSticks, err := parameters.PopParamOr(params, "sticks", 12)
	if err != nil {
		return nil, err
	}
	skill, err := parameters.PopParamOr(params, "skill", 0.5)
	if err != nil {
		return nil, err
	}
	return New(numSticks, skill, rng)
}

// StateSize implements environments.Environment: one-hot encoding of the sticks remaining.
func (n *Nim) StateSize() int { return n.NumSticks + 1 }

func (n *Nim) AllPossibleMoves() []Take { return []Take{Take1, Take2, Take3} }

// IsValidMove implements environments.Environment.
func (n *Nim) IsValidMove(take Take) bool {
	return !n.IsTerminal() && take >= Take1 && take <= Take3 && int(take) <= n.remaining
}

// Hint implements environments.Environment: with one stick left, taking it is forced.
func (n *Nim) Hint() (Take, bool) {
	if n.remaining == 1 && !n.IsTerminal() {
		return Take1, true
	}
	return Take1, false
}

// MakeMove implements environments.Environment: it plays the learner move followed by the opponent's.
func (n *Nim) MakeMove(take Take) {
	n.remaining -= int(take)
	n.lastOpponentTake = 0
	if n.remaining <= 0 {
		n.remaining = 0
		n.lost = true
		return
	}
	n.lastOpponentTake = n.opponentTake()
	n.remaining -= int(n.lastOpponentTake)
	if n.remaining <= 0 {
		n.remaining = 0
		n.won = true
	}
}

// opponentTake returns the opponent move: in misère Nim the winning move leaves 4k+1 sticks.
func (n *Nim) opponentTake() Take {
	maxTake := min(n.remaining, 3)
	if n.rng.Float64() < n.Skill {
		if best := (n.remaining - 1) % 4; best > 0 {
			return Take(best)
		}
	}
	return Take(n.rng.IntN(maxTake) + 1)
}

// Reward implements environments.Environment.
func (n *Nim) Reward() float64 {
	switch {
	case n.won:
		return RewardWin
	case n.lost:
		return RewardLoss
	default:
		return 0
	}
}

func (n *Nim) IsTerminal() bool  { return n.won || n.lost }
func (n *Nim) HasWon() bool      { return n.won }
func (n *Nim) HasLost() bool     { return n.lost }
func (n *Nim) HasTimedOut() bool { return false }

// Reset implements environments.Environment.
func (n *Nim) Reset() {
	n.remaining = n.NumSticks
	n.won, n.lost = false, false
	n.lastOpponentTake = 0
}

// ToLayer implements environments.Environment.
func (n *Nim) ToLayer() []float64 {
	layer := make([]float64, n.StateSize())
	layer[n.remaining] = 1
	return layer
}

// MoveToString implements environments.Environment.
func (n *Nim) MoveToString(take Take) string { return fmt.Sprintf("take %d", take) }

// Remaining number of sticks in the pile.
func (n *Nim) Remaining() int { return n.remaining }

// String renders the pile.
func (n *Nim) String() string {
	s := fmt.Sprintf("%2d sticks: ", n.remaining)
	for range n.remaining {
		s += "|"
	}
	if n.lastOpponentTake > 0 {
		s += fmt.Sprintf("   (opponent took %d)", n.lastOpponentTake)
	}
	return s
}
