// Package qlearning implements a Q-learning engine: it learns the value (Q) of each move of a discrete
// environment with an ai.Approximator, trained by temporal-difference updates over an experience
// replay memory filled by self-play.
//
// The main entry point is Learner.Learn. Learner.BestMove, Learner.Evaluate and Learner.PlayDemo
// use the learned values without exploration.
package qlearning

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"time"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Learner trains an approximator to estimate the Q-values of an environment.
//
// A Learner is driven by a single goroutine. Several Learner instances may share one approximator,
// since the approximators serialize GradientDescent and WriteToDirectory calls.
type Learner[M comparable] struct {
	env         environments.Environment[M]
	model       ai.Approximator
	config      Config
	schedule    Schedule
	rng         *rand.Rand
	memory      *Memory[M]
	moveIndices map[M]int
	reporters   []Reporter

	trainings int
	lastLoss  float64
}

// New creates a Learner of env with the given approximator.
//
// If rng is nil, one is created from config.Seed (or a random seed if config.Seed is 0).
// The approximator must take env.StateSize() inputs, and output one value per move in env.AllPossibleMoves().
func New[M comparable](env environments.Environment[M], model ai.Approximator, config Config, rng *rand.Rand) (*Learner[M], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	moveIndices, err := environments.MoveIndices(env)
	if err != nil {
		return nil, err
	}
	if model.InputSize() != env.StateSize() || model.OutputSize() != len(moveIndices) {
		return nil, errors.Errorf("approximator %s maps %d inputs to %d outputs, but environment has state size %d and %d moves",
			model, model.InputSize(), model.OutputSize(), env.StateSize(), len(moveIndices))
	}
	if rng == nil {
		seed := config.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		rng = rand.New(rand.NewPCG(seed, 0))
	}
	return &Learner[M]{
		env:         env,
		model:       model,
		config:      config,
		schedule:    config.Schedule(),
		rng:         rng,
		memory:      NewMemory[M](config.MemorySize),
		moveIndices: moveIndices,
		reporters:   []Reporter{LogReporter{}},
	}, nil
}

// SetReporters replaces the reporters of the progress of Learn. By default, it uses only LogReporter.
func (l *Learner[M]) SetReporters(reporters ...Reporter) {
	l.reporters = reporters
}

// Approximator used by the learner.
func (l *Learner[M]) Approximator() ai.Approximator { return l.model }

// Memory of transitions not yet trained on.
func (l *Learner[M]) Memory() *Memory[M] { return l.memory }

// Config of the learner.
func (l *Learner[M]) Config() Config { return l.config }

// Trainings returns the number of times LearnFromMemory trained the approximator.
func (l *Learner[M]) Trainings() int { return l.trainings }

// Learn plays totalEpisodes episodes (numbered 1 to totalEpisodes), selecting moves with SelectMove
// following the explore schedule, and training the approximator every time the memory is full.
//
// Every ReportEvery episodes the progress is reported, and every CheckpointEvery reports the approximator
// is saved to checkpointDir (if not empty), as it is at the end. Checkpoint failures don't stop training:
// they are reported, and a *CheckpointError is returned at the end.
//
// If ctx is cancelled, it stops at the next move, saves a checkpoint and returns the context error,
// joined with the *CheckpointError if any checkpoint failed. Transitions already in memory are kept.
func (l *Learner[M]) Learn(ctx context.Context, totalEpisodes int, checkpointDir string) error {
	if totalEpisodes <= 0 {
		return errors.Errorf("Learn requires a positive number of episodes, got %d", totalEpisodes)
	}
	reportEvery := l.config.ReportEvery
	if reportEvery <= 0 {
		reportEvery = max(totalEpisodes/100, 1)
	}
	checkpointEvery := reportEvery * l.config.CheckpointEvery // 0 means only at the end.

	var (
		window  Outcomes
		ckptErr *CheckpointError
		start   = time.Now()
	)
	checkpoint := func(episode int) error {
		if checkpointDir == "" {
			return nil
		}
		err := l.Checkpoint(checkpointDir)
		if err != nil {
			if ckptErr == nil {
				ckptErr = &CheckpointError{}
			}
			ckptErr.Failures++
			ckptErr.Last = err
			klog.Errorf("Failed to checkpoint at episode %d: %+v", episode, err)
		}
		return err
	}
	progress := func(episode int, explore, discount float64) *Progress {
		return &Progress{
			Outcomes:           window,
			Episode:            episode,
			TotalEpisodes:      totalEpisodes,
			ExploreProbability: explore,
			Discount:           discount,
			Trainings:          l.trainings,
			LastLoss:           l.lastLoss,
			MemoryLength:       l.memory.Len(),
			Elapsed:            time.Since(start),
		}
	}

	for episode := 1; episode <= totalEpisodes; episode++ {
		explore := l.schedule.ExploreProbability(episode, totalEpisodes)
		discount := l.schedule.DiscountFactor(episode, totalEpisodes)
		outcome, err := l.playEpisode(ctx, explore, discount)
		if err != nil {
			if ctx.Err() == nil {
				return err
			}
			// Interrupted: save what we have and return.
			klog.Infof("Training interrupted at episode %d of %d", episode, totalEpisodes)
			p := progress(episode, explore, discount)
			if checkpointDir != "" {
				p.Checkpointed = true
				p.CheckpointErr = checkpoint(episode)
			}
			l.report(context.WithoutCancel(ctx), p)
			err = errors.WithMessagef(ctx.Err(), "training interrupted at episode %d", episode)
			if ckptErr != nil {
				return stderrors.Join(err, ckptErr)
			}
			return err
		}
		window.Add(outcome)
		l.observeEpisode(explore, discount, outcome)

		if episode%reportEvery == 0 || episode == totalEpisodes {
			p := progress(episode, explore, discount)
			if checkpointDir != "" && ((checkpointEvery > 0 && episode%checkpointEvery == 0) || episode == totalEpisodes) {
				p.Checkpointed = true
				p.CheckpointErr = checkpoint(episode)
			}
			l.report(ctx, p)
			window = Outcomes{}
		}
	}
	if ckptErr != nil {
		return ckptErr
	}
	return nil
}

// playEpisode resets the environment and plays it until the end, recording the transitions in memory
// and training whenever the memory gets full.
func (l *Learner[M]) playEpisode(ctx context.Context, explore, discount float64) (outcome Outcome, err error) {
	env := l.env
	env.Reset()
	for !env.IsTerminal() {
		if err = ctx.Err(); err != nil {
			return
		}
		_, gaveHint := env.Hint()
		var move M
		move, err = l.SelectMove(env, explore)
		if err != nil {
			return
		}
		before := env.ToLayer()
		env.MakeMove(move)
		moment := Moment[M]{
			Before:     before,
			Move:       move,
			After:      env.ToLayer(),
			Reward:     env.Reward(),
			IsTerminal: env.IsTerminal(),
		}
		if !moment.IsTerminal {
			moment.ValidMovesAfter = environments.ValidMoves(env)
		}
		outcome.Moves++
		if gaveHint {
			outcome.Hints++
		}
		outcome.Reward += moment.Reward
		if err = l.memory.Add(moment); err != nil {
			return
		}
		if klog.V(2).Enabled() {
			klog.Infof("move %s: reward=%g, terminal=%v", env.MoveToString(move), moment.Reward, moment.IsTerminal)
		}
		if l.memory.IsFull() {
			if _, err = l.LearnFromMemory(discount); err != nil {
				return
			}
		}
	}
	outcome.Won = env.HasWon()
	outcome.Lost = env.HasLost()
	outcome.TimedOut = env.HasTimedOut()
	return
}

// LearnFromMemory trains the approximator on the memory in random order, and then clears it: each
// transition becomes a training pair whose target is the current Q-values of the state before the move,
// with the value of the move taken replaced by its TargetFor.
//
// It returns the loss reported by the approximator, or an error wrapping ErrEmptyMemory if the
// memory is empty. If computing a target or training fails, the memory is left untouched.
func (l *Learner[M]) LearnFromMemory(discount float64) (loss float64, err error) {
	if l.memory.Len() == 0 {
		return 0, &Error{Op: "LearnFromMemory", Err: ErrEmptyMemory}
	}
	start := time.Now()
	moments := l.memory.Shuffled(l.rng)
	pairs := make([]ai.TrainingPair, len(moments))
	for ii, moment := range moments {
		desired := l.model.Output(moment.Before)
		target, moveIdx, err := l.targetFor(moment, discount, desired)
		if err != nil {
			return 0, err
		}
		desired[moveIdx] = target
		pairs[ii] = ai.TrainingPair{Input: moment.Before, Target: desired}
	}
	loss, err = l.model.GradientDescent(pairs, l.config.BatchSize, l.config.NumEpochs, l.config.Parallel)
	if err != nil {
		return 0, errors.WithMessagef(err, "training %s on %d transitions", l.model, len(pairs))
	}
	l.memory.Clear()
	l.trainings++
	l.lastLoss = loss
	elapsed := time.Since(start)
	klog.V(1).Infof("Trained %s on %d transitions (discount=%.3f): loss=%.4g in %s", l.model, len(pairs), discount, loss, elapsed)
	for _, r := range l.reporters {
		if o, ok := r.(TrainingObserver); ok {
			o.ObserveTraining(len(pairs), loss, elapsed)
		}
	}
	return loss, nil
}

// Checkpoint saves the approximator to dir.
func (l *Learner[M]) Checkpoint(dir string) error {
	if err := l.model.WriteToDirectory(dir); err != nil {
		return errors.WithMessagef(err, "checkpoint of %s to %s", l.model, dir)
	}
	return nil
}

func (l *Learner[M]) observeEpisode(explore, discount float64, outcome Outcome) {
	for _, r := range l.reporters {
		if o, ok := r.(EpisodeObserver); ok {
			o.ObserveEpisode(explore, discount, outcome)
		}
	}
}

func (l *Learner[M]) report(ctx context.Context, p *Progress) {
	for _, r := range l.reporters {
		if err := r.ReportProgress(ctx, p); err != nil {
			klog.Warningf("Failed to report progress at episode %d: %v", p.Episode, err)
		}
	}
}
