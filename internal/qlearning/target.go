package qlearning

import (
	"math"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/generics"
	"github.com/pkg/errors"
)

// TDTarget is the temporal-difference update of oldQ:
//
//	terminal:     oldQ + learningRate * (reward - oldQ)
//	non-terminal: oldQ + learningRate * (reward + discount * maxNextQ - oldQ)
//
// maxNextQ is ignored for terminal transitions.
func TDTarget(oldQ, reward, maxNextQ, learningRate, discount float64, isTerminal bool) float64 {
	if isTerminal {
		return oldQ + learningRate*(reward-oldQ)
	}
	return oldQ + learningRate*(reward+discount*maxNextQ-oldQ)
}

// TargetFor returns the new target for the Q-value of moment.Move in moment.Before, given the
// current approximator and the discount factor.
//
// It fails with ErrNoValidMoves if the transition is not terminal and has no valid moves after,
// with ErrIllegalMove if one of the moves is not known by the environment, and with
// ErrNonFiniteQValue if a Q-value it depends on is NaN or infinite.
func (l *Learner[M]) TargetFor(moment Moment[M], discount float64) (float64, error) {
	target, _, err := l.targetFor(moment, discount, nil)
	return target, err
}

// targetFor implements TargetFor. If beforeQ is nil it is queried from the approximator.
// It also returns the index of the move taken.
func (l *Learner[M]) targetFor(moment Moment[M], discount float64, beforeQ []float64) (target float64, moveIdx int, err error) {
	moveIdx, found := l.moveIndices[moment.Move]
	if !found {
		return 0, -1, &Error{Op: "TargetFor", Err: errors.WithMessagef(ErrIllegalMove, "unknown move %v", moment.Move)}
	}
	if beforeQ == nil {
		beforeQ = l.model.Output(moment.Before)
	}
	oldQ := beforeQ[moveIdx]
	if math.IsNaN(oldQ) || math.IsInf(oldQ, 0) {
		return 0, moveIdx, &Error{Op: "TargetFor", Err: errors.WithMessagef(ErrNonFiniteQValue, "value of move %v is %g", moment.Move, oldQ)}
	}
	if moment.IsTerminal {
		return TDTarget(oldQ, moment.Reward, 0, l.config.LearningRate, discount, true), moveIdx, nil
	}
	if len(moment.ValidMovesAfter) == 0 {
		return 0, moveIdx, &Error{Op: "TargetFor", Err: ErrNoValidMoves}
	}
	indicesAfter := make([]int, 0, len(moment.ValidMovesAfter))
	for _, move := range moment.ValidMovesAfter {
		idx, found := l.moveIndices[move]
		if !found {
			return 0, moveIdx, &Error{Op: "TargetFor", Err: errors.WithMessagef(ErrIllegalMove, "unknown valid move after %v", move)}
		}
		indicesAfter = append(indicesAfter, idx)
	}
	validAfter := generics.SetWith(indicesAfter...)
	afterQ := l.model.Output(moment.After)
	_, maxNextQ, err := ai.MaxValidOutput(afterQ, validAfter.Has)
	if err != nil {
		return 0, moveIdx, &Error{Op: "TargetFor", Err: err}
	}
	return TDTarget(oldQ, moment.Reward, maxNextQ, l.config.LearningRate, discount, false), moveIdx, nil
}
