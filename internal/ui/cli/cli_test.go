package cli

import (
	"bytes"
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/environments/bandit"
	"github.com/janpfeifer/qlearner/internal/qlearning"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedApproximator always outputs the same Q-values.
type fixedApproximator struct {
	values []float64
}

var _ ai.Approximator = (*fixedApproximator)(nil)

func (f *fixedApproximator) Output([]float64) []float64 { return append([]float64(nil), f.values...) }
func (f *fixedApproximator) GradientDescent([]ai.TrainingPair, int, int, bool) (float64, error) {
	return 0, nil
}
func (f *fixedApproximator) WriteToDirectory(string) error { return nil }
func (f *fixedApproximator) InputSize() int                { return 1 }
func (f *fixedApproximator) OutputSize() int               { return len(f.values) }
func (f *fixedApproximator) String() string                { return "fixed" }

func newBanditLearner(t *testing.T, qA, qB float64) (*qlearning.Learner[bandit.Arm], *bandit.Bandit) {
	env := bandit.New()
	learner, err := qlearning.New[bandit.Arm](env, &fixedApproximator{values: []float64{qA, qB}},
		qlearning.DefaultConfig(), rand.New(rand.NewPCG(1, 0)))
	require.NoError(t, err)
	return learner, env
}

func TestFormatProgress(t *testing.T) {
	p := &qlearning.Progress{
		Outcomes:           qlearning.Outcomes{Episodes: 10, Won: 7, Lost: 3, TotalReward: 4, TotalMoves: 20},
		Episode:            50,
		TotalEpisodes:      200,
		ExploreProbability: 0.25,
	}
	line := FormatProgress(p)
	assert.Contains(t, line, "25.0%")
	assert.Contains(t, line, "episode 50/200")
	assert.Contains(t, line, "won 7, lost 3")
	assert.Contains(t, line, "reward 0.400")
	assert.NotContains(t, line, "checkpoint")

	p.CheckpointErr = errors.New("disk full")
	assert.Contains(t, FormatProgress(p), "checkpoint failed")

	out := &bytes.Buffer{}
	ui := NewWithIO(strings.NewReader(""), out, false)
	require.NoError(t, ProgressReporter{UI: ui}.ReportProgress(context.Background(), p))
	assert.True(t, strings.HasPrefix(out.String(), "\r"))
	assert.False(t, strings.HasSuffix(out.String(), "\n"))

	out.Reset()
	p.Episode = 200
	ui.PrintProgress(p)
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestFormatQValues(t *testing.T) {
	ui := NewWithIO(strings.NewReader(""), &bytes.Buffer{}, false)
	values := []qlearning.MoveValue[string]{
		{Move: "left", Value: 0.5, Valid: true},
		{Move: "right", Value: 1.25, Valid: true, IsBest: true},
		{Move: "jump", Value: 9, Valid: false},
	}
	table := FormatQValues(ui, values, func(m string) string { return m })
	lines := strings.Split(table, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Q-value")
	assert.Contains(t, lines[1], "0.5000")
	assert.Contains(t, lines[2], "1.2500 *")
	assert.Contains(t, lines[3], "jump")
	assert.NotContains(t, lines[3], "9.0000")
}

func TestShowDemo(t *testing.T) {
	learner, env := newBanditLearner(t, 0.2, 0.8)
	out := &bytes.Buffer{}
	ui := NewWithIO(strings.NewReader(""), out, false)
	outcome, err := ShowDemo(context.Background(), ui, learner, env, 0)
	require.NoError(t, err)
	assert.True(t, outcome.Lost)
	assert.Equal(t, 1, outcome.Moves)
	assert.Contains(t, out.String(), "move #1: B")
	assert.Contains(t, out.String(), "LOST")
}

func TestPlay(t *testing.T) {
	learner, env := newBanditLearner(t, 0.9, 0.1)

	// Invalid entries are retried, "?" assists, and moves can be selected by name.
	out := &bytes.Buffer{}
	ui := NewWithIO(strings.NewReader("7\nfoo\n?\na\n"), out, false)
	outcome, err := Play(context.Background(), ui, learner, env)
	require.NoError(t, err)
	assert.True(t, outcome.Won)
	assert.Equal(t, 1, outcome.Moves)
	assert.InDelta(t, bandit.RewardA, outcome.Reward, 1e-9)
	text := out.String()
	assert.Contains(t, text, "out of range")
	assert.Contains(t, text, `"foo" is not a legal move`)
	assert.Contains(t, text, "assist: A")
	assert.Contains(t, text, "WON")

	// By number.
	ui = NewWithIO(strings.NewReader("2\n"), &bytes.Buffer{}, false)
	outcome, err = Play(context.Background(), ui, learner, env)
	require.NoError(t, err)
	assert.True(t, outcome.Lost)

	// Quit.
	ui = NewWithIO(strings.NewReader("q\n"), &bytes.Buffer{}, false)
	_, err = Play(context.Background(), ui, learner, env)
	assert.True(t, errors.Is(err, ErrQuit))

	// End of input.
	ui = NewWithIO(strings.NewReader(""), &bytes.Buffer{}, false)
	_, err = Play(context.Background(), ui, learner, env)
	assert.Error(t, err)
}
