package qlearning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExploreProbability(t *testing.T) {
	for _, s := range []Schedule{
		{MaxExplore: 0.9, MinExplore: 0.01, HalfLife: 0.1, Shape: Exponential},
		{MaxExplore: 0.5, MinExplore: 0.1, HalfLife: 0.5, Shape: Exponential},
		{MaxExplore: 1, MinExplore: 0, HalfLife: 0.01, Shape: Exponential},
		{MaxExplore: 0.9, MinExplore: 0.01, Shape: Linear},
		{MaxExplore: 0.3, MinExplore: 0.3, Shape: Linear},
	} {
		require.NoError(t, s.Validate())
		for _, total := range []int{1, 7, 100, 10_000} {
			previous := s.ExploreProbability(1, total)
			assert.InDelta(t, s.MaxExplore, previous, 1e-12, "first episode must use the max explore probability")
			for episode := 1; episode <= total; episode++ {
				p := s.ExploreProbability(episode, total)
				assert.LessOrEqual(t, p, previous, "schedule %+v, episode %d of %d", s, episode, total)
				assert.GreaterOrEqual(t, p, s.MinExplore, "schedule %+v, episode %d of %d", s, episode, total)
				previous = p
			}
		}
	}
}

func TestExploreProbabilityShapes(t *testing.T) {
	exp := Schedule{MaxExplore: 0.9, MinExplore: 0.1, HalfLife: 0.25, Shape: Exponential}
	// After one half-life the distance to the min halves.
	assert.InDelta(t, 0.1+0.8/2, exp.ExploreProbability(251, 1000), 1e-9)
	assert.InDelta(t, 0.1+0.8/4, exp.ExploreProbability(501, 1000), 1e-9)

	linear := Schedule{MaxExplore: 0.9, MinExplore: 0.1, Shape: Linear}
	assert.InDelta(t, 0.9, linear.ExploreProbability(1, 101), 1e-9)
	assert.InDelta(t, 0.5, linear.ExploreProbability(51, 101), 1e-9)
	assert.InDelta(t, 0.1, linear.ExploreProbability(101, 101), 1e-9)
}

func TestDiscountFactor(t *testing.T) {
	s := Schedule{MaxExplore: 0.9, MinExplore: 0.01, HalfLife: 0.1, Shape: Exponential, WarmUp: 0.2}
	const total = 1000
	for episode := 1; episode <= 200; episode++ {
		assert.Equal(t, 0.0, s.DiscountFactor(episode, total))
	}
	for episode := 201; episode <= total; episode++ {
		assert.InDelta(t, 1-s.ExploreProbability(episode, total), s.DiscountFactor(episode, total), 1e-12)
	}

	// Without warm-up discount starts right away.
	s.WarmUp = 0
	assert.InDelta(t, 1-0.9, s.DiscountFactor(1, total), 1e-12)
}

func TestScheduleValidate(t *testing.T) {
	valid := Schedule{MaxExplore: 0.9, MinExplore: 0.01, HalfLife: 0.1, Shape: Exponential, WarmUp: 0.1}
	require.NoError(t, valid.Validate())
	for _, modify := range []func(s *Schedule){
		func(s *Schedule) { s.MinExplore = 0.95 },
		func(s *Schedule) { s.MaxExplore = 1.5 },
		func(s *Schedule) { s.MinExplore = -0.1 },
		func(s *Schedule) { s.HalfLife = 0 },
		func(s *Schedule) { s.Shape = "cosine" },
		func(s *Schedule) { s.WarmUp = 2 },
	} {
		s := valid
		modify(&s)
		assert.Error(t, s.Validate(), "schedule %+v", s)
	}
}
