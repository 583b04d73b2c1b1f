package qlearning

import (
	"context"
	"time"

	"k8s.io/klog/v2"
)

// Outcome of one episode.
type Outcome struct {
	Won, Lost, TimedOut bool

	// Reward is the sum of the rewards of the episode.
	Reward float64

	// Moves played, and how many of them were hints.
	Moves, Hints int
}

// Outcomes aggregates a number of episodes.
type Outcomes struct {
	Episodes, Won, Lost, TimedOut int
	TotalReward                   float64
	TotalMoves                    int
}

// Add the outcome of one episode.
func (o *Outcomes) Add(outcome Outcome) {
	o.Episodes++
	if outcome.Won {
		o.Won++
	}
	if outcome.Lost {
		o.Lost++
	}
	if outcome.TimedOut {
		o.TimedOut++
	}
	o.TotalReward += outcome.Reward
	o.TotalMoves += outcome.Moves
}

// MeanReward per episode.
func (o Outcomes) MeanReward() float64 {
	if o.Episodes == 0 {
		return 0
	}
	return o.TotalReward / float64(o.Episodes)
}

// MeanMoves per episode.
func (o Outcomes) MeanMoves() float64 {
	if o.Episodes == 0 {
		return 0
	}
	return float64(o.TotalMoves) / float64(o.Episodes)
}

// Progress is issued to the reporters periodically during Learner.Learn.
// Outcomes aggregate the episodes since the previous report.
type Progress struct {
	Outcomes

	Episode, TotalEpisodes int

	ExploreProbability, Discount float64

	// Trainings is the total number of times the memory was trained on, and LastLoss is the loss
	// returned by the last one.
	Trainings int
	LastLoss  float64

	MemoryLength int
	Elapsed      time.Duration

	// Checkpointed is set if a checkpoint was attempted with this report, and CheckpointErr if it failed.
	Checkpointed  bool
	CheckpointErr error
}

// Reporter receives the periodic progress of the training.
// Errors are logged and otherwise ignored: they don't interrupt training.
type Reporter interface {
	ReportProgress(ctx context.Context, p *Progress) error
}

// EpisodeObserver can optionally be implemented by a Reporter to be informed of every episode.
type EpisodeObserver interface {
	ObserveEpisode(explore, discount float64, outcome Outcome)
}

// TrainingObserver can optionally be implemented by a Reporter to be informed of every training
// from memory.
type TrainingObserver interface {
	ObserveTraining(numPairs int, loss float64, elapsed time.Duration)
}

// LogReporter logs the progress with klog.
type LogReporter struct{}

// Assert LogReporter is a Reporter.
var _ Reporter = LogReporter{}

// ReportProgress implements Reporter.
func (LogReporter) ReportProgress(_ context.Context, p *Progress) error {
	klog.Infof("episode %d / %d: explore=%.3f, discount=%.3f, won=%d, lost=%d, timed out=%d, "+
		"mean reward=%.3f, mean moves=%.1f, trainings=%d, loss=%.4g, elapsed=%s",
		p.Episode, p.TotalEpisodes, p.ExploreProbability, p.Discount, p.Won, p.Lost, p.TimedOut,
		p.MeanReward(), p.MeanMoves(), p.Trainings, p.LastLoss, p.Elapsed.Round(time.Millisecond))
	if p.CheckpointErr != nil {
		klog.Errorf("checkpoint at episode %d failed: %+v", p.Episode, p.CheckpointErr)
	} else if p.Checkpointed {
		klog.V(1).Infof("checkpoint saved at episode %d", p.Episode)
	}
	return nil
}
