// Package environments defines the contract of the simulations the Q-learning engine is trained on,
// and a few small environments implementing it (see subpackages).
package environments

import (
	"github.com/pkg/errors"
)

// Environment is a simulation with a discrete, enumerable set of moves.
//
// AllPossibleMoves must be index-stable: the same move always occupies the same index for a given
// environment instance, since it is the index of the Q-value of the move in the approximator output.
type Environment[M comparable] interface {
	// StateSize is the dimension of the vectors returned by ToLayer.
	StateSize() int

	// AllPossibleMoves in the environment, legal or not in the current state.
	AllPossibleMoves() []M

	// IsValidMove returns whether move is legal in the current state.
	IsValidMove(move M) bool

	// Hint returns a forced move for the current state, if there is one.
	Hint() (move M, gaveHint bool)

	// MakeMove mutates the state of the environment. The move must be valid.
	MakeMove(move M)

	// Reward attributable to the most recent move.
	Reward() float64

	IsTerminal() bool
	HasWon() bool
	HasLost() bool
	HasTimedOut() bool

	// Reset returns the environment to the start of a fresh episode.
	Reset()

	// ToLayer encodes the current state as a vector of StateSize values.
	ToLayer() []float64

	// MoveToString is used for presentation only.
	MoveToString(move M) string
}

// ValidMoves returns the legal moves in the current state of env, in the order of AllPossibleMoves.
func ValidMoves[M comparable](env Environment[M]) []M {
	var valid []M
	for _, move := range env.AllPossibleMoves() {
		if env.IsValidMove(move) {
			valid = append(valid, move)
		}
	}
	return valid
}

// MoveIndices maps each of the env.AllPossibleMoves to its index.
// It returns an error if a move is repeated.
func MoveIndices[M comparable](env Environment[M]) (map[M]int, error) {
	moves := env.AllPossibleMoves()
	indices := make(map[M]int, len(moves))
	for ii, move := range moves {
		if prev, found := indices[move]; found {
			return nil, errors.Errorf("move %q is listed twice in AllPossibleMoves (indices %d and %d)",
				env.MoveToString(move), prev, ii)
		}
		indices[move] = ii
	}
	return indices, nil
}
