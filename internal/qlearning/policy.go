package qlearning

import (
	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/pkg/errors"
)

// MoveValue is the predicted Q-value of one move in a state.
type MoveValue[M comparable] struct {
	Move   M
	Value  float64
	Valid  bool
	IsBest bool
}

// SelectMove returns the next move to play in env:
//
//   - If env gives a hint, the hinted move.
//   - Otherwise, with probability exploreProbability a uniformly random legal move.
//   - Otherwise the legal move with the highest predicted Q-value (see BestMove).
//
// It never returns an illegal move: it fails with ErrIllegalMove if the hint is not legal, and with
// ErrNoValidMoves if there are no legal moves.
func (l *Learner[M]) SelectMove(env environments.Environment[M], exploreProbability float64) (M, error) {
	if move, gaveHint := env.Hint(); gaveHint {
		if !env.IsValidMove(move) {
			var noMove M
			return noMove, &Error{Op: "SelectMove",
				Err: errors.WithMessagef(ErrIllegalMove, "hint %q", env.MoveToString(move))}
		}
		return move, nil
	}
	if exploreProbability > 0 && l.rng.Float64() < exploreProbability {
		valid := environments.ValidMoves(env)
		if len(valid) == 0 {
			var noMove M
			return noMove, &Error{Op: "SelectMove", Err: ErrNoValidMoves}
		}
		return valid[l.rng.IntN(len(valid))], nil
	}
	return l.BestMove(env)
}

// BestMove returns the legal move in env with the highest predicted Q-value, without exploration.
// Ties are resolved in favor of the first move in env.AllPossibleMoves.
func (l *Learner[M]) BestMove(env environments.Environment[M]) (M, error) {
	var noMove M
	moves := env.AllPossibleMoves()
	qValues, err := l.qValuesFor(moves, env.ToLayer())
	if err != nil {
		return noMove, &Error{Op: "BestMove", Err: err}
	}
	bestIdx, _, err := ai.MaxValidOutput(qValues, func(idx int) bool { return env.IsValidMove(moves[idx]) })
	if err != nil {
		return noMove, &Error{Op: "BestMove", Err: err}
	}
	if bestIdx < 0 {
		return noMove, &Error{Op: "BestMove", Err: ErrNoValidMoves}
	}
	return moves[bestIdx], nil
}

// QValues returns the predicted value of every move in the current state of env, flagging the
// legal ones and the one BestMove would choose.
func (l *Learner[M]) QValues(env environments.Environment[M]) ([]MoveValue[M], error) {
	moves := env.AllPossibleMoves()
	qValues, err := l.qValuesFor(moves, env.ToLayer())
	if err != nil {
		return nil, &Error{Op: "QValues", Err: err}
	}
	values := make([]MoveValue[M], len(moves))
	for ii, move := range moves {
		values[ii] = MoveValue[M]{Move: move, Value: qValues[ii], Valid: env.IsValidMove(move)}
	}
	// Non-finite values are still shown, but no move is flagged as best.
	bestIdx, _, err := ai.MaxValidOutput(qValues, func(idx int) bool { return values[idx].Valid })
	if err == nil && bestIdx >= 0 {
		values[bestIdx].IsBest = true
	}
	return values, nil
}

// qValuesFor queries the approximator for the state, checking its output matches the moves.
func (l *Learner[M]) qValuesFor(moves []M, state []float64) ([]float64, error) {
	if len(moves) != l.model.OutputSize() {
		return nil, errors.Errorf("environment has %d moves, but approximator %s outputs %d values",
			len(moves), l.model, l.model.OutputSize())
	}
	return l.model.Output(state), nil
}
