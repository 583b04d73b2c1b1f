package qlearning

import (
	"math"

	"github.com/pkg/errors"
)

// ScheduleShape selects how the explore probability decays over the episodes.
type ScheduleShape string

const (
	// Exponential decays from the max to the min probability, halving the distance to the min
	// every HalfLife fraction of the episodes.
	Exponential ScheduleShape = "exponential"

	// Linear interpolates from the max (first episode) to the min (last episode) probability.
	Linear ScheduleShape = "linear"
)

// Schedule of the explore probability and of the future discount factor over the training episodes.
// Episodes are numbered from 1 to the total number of episodes.
type Schedule struct {
	MaxExplore, MinExplore float64

	// HalfLife of the exponential decay, as a fraction of the total number of episodes.
	HalfLife float64

	Shape ScheduleShape

	// WarmUp is the fraction of the total episodes during which the discount factor is kept at 0,
	// so the initial random Q-values are not bootstrapped into the targets.
	WarmUp float64
}

// Validate checks the schedule parameters.
func (s Schedule) Validate() error {
	if s.MinExplore < 0 || s.MaxExplore > 1 || s.MinExplore > s.MaxExplore {
		return errors.Errorf("explore probabilities must satisfy 0 <= min (%g) <= max (%g) <= 1", s.MinExplore, s.MaxExplore)
	}
	if s.Shape != Exponential && s.Shape != Linear {
		return errors.Errorf("unknown explore schedule shape %q, valid values are %q and %q", s.Shape, Exponential, Linear)
	}
	if s.Shape == Exponential && s.HalfLife <= 0 {
		return errors.Errorf("explore half-life must be > 0, got %g", s.HalfLife)
	}
	if s.WarmUp < 0 || s.WarmUp > 1 {
		return errors.Errorf("discount warm-up must be a fraction in [0, 1], got %g", s.WarmUp)
	}
	return nil
}

// ExploreProbability for the given episode. It is non-increasing with the episode and never goes below MinExplore.
func (s Schedule) ExploreProbability(episode, totalEpisodes int) float64 {
	if totalEpisodes <= 0 {
		return s.MaxExplore
	}
	progress := float64(max(episode-1, 0)) / float64(totalEpisodes)
	span := s.MaxExplore - s.MinExplore
	var p float64
	switch s.Shape {
	case Linear:
		if totalEpisodes > 1 {
			progress = float64(max(episode-1, 0)) / float64(totalEpisodes-1)
		}
		p = s.MaxExplore - span*min(progress, 1)
	default:
		p = s.MinExplore + span*math.Exp2(-progress/s.HalfLife)
	}
	return max(p, s.MinExplore)
}

// DiscountFactor for the given episode: 0 during the warm-up, and 1-ExploreProbability afterwards.
func (s Schedule) DiscountFactor(episode, totalEpisodes int) float64 {
	if float64(episode) <= s.WarmUp*float64(totalEpisodes) {
		return 0
	}
	return 1 - s.ExploreProbability(episode, totalEpisodes)
}
