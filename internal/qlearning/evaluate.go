package qlearning

import (
	"context"

	"github.com/pkg/errors"
)

// Evaluate plays numEpisodes episodes without exploration (hints are still followed) and without
// learning, and returns their aggregate outcomes.
func (l *Learner[M]) Evaluate(ctx context.Context, numEpisodes int) (Outcomes, error) {
	var outcomes Outcomes
	for range numEpisodes {
		outcome, err := l.playWithoutLearning(ctx, nil)
		if err != nil {
			return outcomes, err
		}
		outcomes.Add(outcome)
	}
	return outcomes, nil
}

// DemoStep describes one move of PlayDemo.
type DemoStep[M comparable] struct {
	// Number of the move in the episode, starting from 1.
	Number int

	// QValues of the state before the move.
	QValues []MoveValue[M]

	// Move played, and whether it was hinted by the environment.
	Move   M
	Hinted bool

	// Reward after the move, and whether the episode is over.
	Reward     float64
	IsTerminal bool
}

// PlayDemo plays one episode without exploration or learning, calling onStep after every move.
// The environment can be inspected by onStep. If onStep returns an error, the demo stops with it.
func (l *Learner[M]) PlayDemo(ctx context.Context, onStep func(step DemoStep[M]) error) (Outcome, error) {
	return l.playWithoutLearning(ctx, onStep)
}

// playWithoutLearning plays one episode with SelectMove without exploration.
func (l *Learner[M]) playWithoutLearning(ctx context.Context, onStep func(step DemoStep[M]) error) (outcome Outcome, err error) {
	env := l.env
	env.Reset()
	for !env.IsTerminal() {
		if err = ctx.Err(); err != nil {
			return
		}
		var step DemoStep[M]
		if onStep != nil {
			step.QValues, err = l.QValues(env)
			if err != nil {
				return
			}
		}
		_, step.Hinted = env.Hint()
		step.Move, err = l.SelectMove(env, 0)
		if err != nil {
			return
		}
		env.MakeMove(step.Move)
		outcome.Moves++
		if step.Hinted {
			outcome.Hints++
		}
		step.Number = outcome.Moves
		step.Reward = env.Reward()
		step.IsTerminal = env.IsTerminal()
		outcome.Reward += step.Reward
		if onStep != nil {
			if err = onStep(step); err != nil {
				err = errors.WithMessagef(err, "demo interrupted at move %d", step.Number)
				return
			}
		}
	}
	outcome.Won = env.HasWon()
	outcome.Lost = env.HasLost()
	outcome.TimedOut = env.HasTimedOut()
	return
}
