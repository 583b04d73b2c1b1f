// Package bandit implements the smallest possible environment: a single state with two arms,
// where pulling A wins (+1) and pulling B loses (-1). Both end the episode.
package bandit

import (
	"github.com/janpfeifer/qlearner/internal/environments"
)

// Arm is the move type of the Bandit.
type Arm int

const (
	ArmA Arm = iota
	ArmB
)

// String implements fmt.Stringer.
func (a Arm) String() string {
	switch a {
	case ArmA:
		return "A"
	case ArmB:
		return "B"
	default:
		return "?"
	}
}

// Rewards of each arm.
const (
	RewardA = 1.0
	RewardB = -1.0
)

// Bandit implements environments.Environment[Arm].
type Bandit struct {
	pulled   Arm
	finished bool
}

// Assert Bandit is an environments.Environment.
var _ environments.Environment[Arm] = (*Bandit)(nil)

// New creates a Bandit ready to play.
func New() *Bandit {
	return &Bandit{}
}

func (b *Bandit) StateSize() int            { return 1 }
func (b *Bandit) AllPossibleMoves() []Arm   { return []Arm{ArmA, ArmB} }
func (b *Bandit) IsValidMove(arm Arm) bool  { return !b.finished && (arm == ArmA || arm == ArmB) }
func (b *Bandit) Hint() (Arm, bool)         { return ArmA, false }
func (b *Bandit) IsTerminal() bool          { return b.finished }
func (b *Bandit) HasWon() bool              { return b.finished && b.pulled == ArmA }
func (b *Bandit) HasLost() bool             { return b.finished && b.pulled == ArmB }
func (b *Bandit) HasTimedOut() bool         { return false }
func (b *Bandit) Reset()                    { *b = Bandit{} }
func (b *Bandit) ToLayer() []float64        { return []float64{1} }
func (b *Bandit) MoveToString(a Arm) string { return a.String() }

// MakeMove implements environments.Environment.
func (b *Bandit) MakeMove(arm Arm) {
	b.pulled = arm
	b.finished = true
}

// Reward implements environments.Environment.
func (b *Bandit) Reward() float64 {
	if !b.finished {
		return 0
	}
	if b.pulled == ArmA {
		return RewardA
	}
	return RewardB
}

// String implements fmt.Stringer.
func (b *Bandit) String() string {
	if !b.finished {
		return "[ A | B ]"
	}
	return "[ pulled " + b.pulled.String() + " ]"
}
