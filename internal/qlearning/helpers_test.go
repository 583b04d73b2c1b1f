package qlearning

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/pkg/errors"
)

// tableApproximator maps state vectors to fixed Q-values. GradientDescent overwrites the table with
// the targets, and records the pairs it was given.
type tableApproximator struct {
	inputSize, outputSize int
	table                 map[string][]float64
	defaultValues         []float64

	calls     [][]ai.TrainingPair
	writeErr  error
	writeDirs []string
}

var _ ai.Approximator = (*tableApproximator)(nil)

func newTable(inputSize, outputSize int) *tableApproximator {
	return &tableApproximator{
		inputSize:     inputSize,
		outputSize:    outputSize,
		table:         make(map[string][]float64),
		defaultValues: make([]float64, outputSize),
	}
}

func key(state []float64) string { return fmt.Sprint(state) }

func (t *tableApproximator) set(state []float64, values ...float64) { t.table[key(state)] = values }

func (t *tableApproximator) Output(input []float64) []float64 {
	if values, found := t.table[key(input)]; found {
		return slices.Clone(values)
	}
	return slices.Clone(t.defaultValues)
}

func (t *tableApproximator) GradientDescent(pairs []ai.TrainingPair, batchSize, numEpochs int, parallel bool) (float64, error) {
	t.calls = append(t.calls, pairs)
	var loss float64
	for _, pair := range pairs {
		current := t.Output(pair.Input)
		for ii := range current {
			diff := current[ii] - pair.Target[ii]
			loss += diff * diff / 2
		}
		t.set(pair.Input, pair.Target...)
	}
	return loss / float64(len(pairs)), nil
}

func (t *tableApproximator) WriteToDirectory(dir string) error {
	t.writeDirs = append(t.writeDirs, dir)
	return t.writeErr
}

func (t *tableApproximator) InputSize() int  { return t.inputSize }
func (t *tableApproximator) OutputSize() int { return t.outputSize }
func (t *tableApproximator) String() string  { return "table" }

// choiceEnv is a single-state environment with configurable legal moves and hint.
// Every move ends the episode, with the reward given in rewards.
type choiceEnv struct {
	moves    []string
	valid    map[string]bool
	hint     string
	rewards  map[string]float64
	state    []float64
	played   string
	finished bool
}

var _ environments.Environment[string] = (*choiceEnv)(nil)

func newChoiceEnv(moves ...string) *choiceEnv {
	e := &choiceEnv{
		moves:   moves,
		valid:   make(map[string]bool),
		rewards: make(map[string]float64),
		state:   []float64{1, 0},
	}
	for _, m := range moves {
		e.valid[m] = true
	}
	return e
}

func (e *choiceEnv) StateSize() int               { return len(e.state) }
func (e *choiceEnv) AllPossibleMoves() []string   { return e.moves }
func (e *choiceEnv) IsValidMove(m string) bool    { return !e.finished && e.valid[m] }
func (e *choiceEnv) Hint() (string, bool)         { return e.hint, e.hint != "" && !e.finished }
func (e *choiceEnv) MakeMove(m string)            { e.played, e.finished = m, true }
func (e *choiceEnv) IsTerminal() bool             { return e.finished }
func (e *choiceEnv) HasWon() bool                 { return e.finished && e.rewards[e.played] > 0 }
func (e *choiceEnv) HasLost() bool                { return e.finished && e.rewards[e.played] < 0 }
func (e *choiceEnv) HasTimedOut() bool            { return false }
func (e *choiceEnv) Reset()                       { e.played, e.finished = "", false }
func (e *choiceEnv) ToLayer() []float64           { return slices.Clone(e.state) }
func (e *choiceEnv) MoveToString(m string) string { return m }

func (e *choiceEnv) Reward() float64 {
	if !e.finished {
		return 0
	}
	return e.rewards[e.played]
}

// chainEnv walks through states 0, 1, ..., length-1 with move "next", or ends the episode with "stop".
// The reward is 1 when reaching the end of the chain, and 0 otherwise.
type chainEnv struct {
	length, pos int
	stopped     bool
}

var _ environments.Environment[string] = (*chainEnv)(nil)

func (e *chainEnv) StateSize() int             { return e.length }
func (e *chainEnv) AllPossibleMoves() []string { return []string{"next", "stop"} }
func (e *chainEnv) IsValidMove(m string) bool  { return !e.IsTerminal() && (m == "next" || m == "stop") }
func (e *chainEnv) Hint() (string, bool)       { return "", false }
func (e *chainEnv) IsTerminal() bool           { return e.stopped || e.pos == e.length-1 }
func (e *chainEnv) HasWon() bool               { return e.pos == e.length-1 }
func (e *chainEnv) HasLost() bool              { return e.stopped }
func (e *chainEnv) HasTimedOut() bool          { return false }
func (e *chainEnv) Reset()                     { e.pos, e.stopped = 0, false }
func (e *chainEnv) MoveToString(m string) string {
	return m
}

func (e *chainEnv) MakeMove(m string) {
	if m == "stop" {
		e.stopped = true
		return
	}
	e.pos++
}

func (e *chainEnv) Reward() float64 {
	if e.HasWon() {
		return 1
	}
	return 0
}

func (e *chainEnv) ToLayer() []float64 {
	layer := make([]float64, e.length)
	layer[e.pos] = 1
	return layer
}

// countingReporter records the progress reports and counts the observed episodes and trainings.
type countingReporter struct {
	reports  []Progress
	episodes int
	trains   int
	err      error
}

func (r *countingReporter) ReportProgress(_ context.Context, p *Progress) error {
	r.reports = append(r.reports, *p)
	return r.err
}

func (r *countingReporter) ObserveEpisode(_, _ float64, _ Outcome) { r.episodes++ }

func (r *countingReporter) ObserveTraining(_ int, _ float64, _ time.Duration) { r.trains++ }

var errDiskFull = errors.New("disk full")
