package qlearning

import (
	"fmt"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/pkg/errors"
)

var (
	// ErrEmptyMemory is returned when asked to learn with no transitions in memory.
	ErrEmptyMemory = errors.New("experience memory is empty")

	// ErrMemoryFull is returned by Memory.Add when the memory is at capacity: it must be drained first.
	ErrMemoryFull = errors.New("experience memory is full")

	// ErrNoValidMoves is returned when a non-terminal state (or transition) has no legal moves.
	ErrNoValidMoves = errors.New("no valid moves in non-terminal state")

	// ErrIllegalMove is returned when a move given by the environment (a hint) or recorded in a
	// transition is not legal.
	ErrIllegalMove = errors.New("illegal move")

	// ErrNonFiniteQValue is returned when the approximator predicts NaN or infinity for a legal move.
	ErrNonFiniteQValue = ai.ErrNonFiniteQValue
)

// Error reports the operation that failed, and why.
type Error struct {
	Op  string
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("qlearning.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error, so errors.Is works with the sentinel errors.
func (e *Error) Unwrap() error { return e.Err }

// CheckpointError summarizes the checkpoints that failed during Learner.Learn.
// Training is not interrupted by checkpoint failures.
type CheckpointError struct {
	Failures int
	Last     error
}

// Error implements error.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("%d checkpoint(s) failed, last error: %v", e.Failures, e.Last)
}

// Unwrap returns the last checkpoint error.
func (e *CheckpointError) Unwrap() error { return e.Last }
