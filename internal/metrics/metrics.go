// Package metrics exports the progress of the Q-learning training loop as prometheus metrics.
//
// A Reporter is registered with the qlearning.Learner (see Learner.SetReporters): it observes every
// episode and every training of the approximator, besides the periodic progress reports.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/janpfeifer/qlearner/internal/qlearning"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "qlearner"
	subsystem = "training"
)

// knownEnvironments contains the environment names used as label values.
// Any other name is recorded as "other", to keep the cardinality bounded.
var knownEnvironments = map[string]bool{
	"bandit":    true,
	"gridworld": true,
	"nim":       true,
}

// sanitizeEnvironment returns the label value for the environment name.
func sanitizeEnvironment(name string) string {
	if knownEnvironments[name] {
		return name
	}
	return "other"
}

// outcomeLabel of an episode: "won", "lost", "timed_out" or "other".
func outcomeLabel(outcome qlearning.Outcome) string {
	switch {
	case outcome.Won:
		return "won"
	case outcome.Lost:
		return "lost"
	case outcome.TimedOut:
		return "timed_out"
	}
	return "other"
}

// Reporter implements qlearning.Reporter, qlearning.EpisodeObserver and qlearning.TrainingObserver,
// updating the prometheus collectors.
type Reporter struct {
	env string

	episodesTotal       *prometheus.CounterVec
	movesTotal          *prometheus.CounterVec
	hintsTotal          *prometheus.CounterVec
	trainingsTotal      *prometheus.CounterVec
	trainedMomentsTotal *prometheus.CounterVec
	checkpointsTotal    *prometheus.CounterVec
	checkpointFailures  *prometheus.CounterVec
	episodeReward       *prometheus.HistogramVec
	trainingDuration    *prometheus.HistogramVec
	exploreProbability  *prometheus.GaugeVec
	discount            *prometheus.GaugeVec
	lastLoss            *prometheus.GaugeVec
	memoryLength        *prometheus.GaugeVec
	episodeProgress     *prometheus.GaugeVec
}

var (
	_ qlearning.Reporter         = (*Reporter)(nil)
	_ qlearning.EpisodeObserver  = (*Reporter)(nil)
	_ qlearning.TrainingObserver = (*Reporter)(nil)
)

// New creates the collectors, registers them with reg, and returns a Reporter for the training of env.
// Creating two Reporters on the same registry panics, as with any duplicate prometheus registration.
func New(reg prometheus.Registerer, env string) *Reporter {
	factory := promauto.With(reg)
	envLabel := []string{"env"}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, append(envLabel, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, envLabel)
	}
	return &Reporter{
		env:                 sanitizeEnvironment(env),
		episodesTotal:       counter("episodes_total", "Total episodes played, by outcome", "outcome"),
		movesTotal:          counter("moves_total", "Total moves played"),
		hintsTotal:          counter("hints_total", "Total moves played following a hint of the environment"),
		trainingsTotal:      counter("trainings_total", "Total trainings of the approximator on the replay memory"),
		trainedMomentsTotal: counter("trained_moments_total", "Total transitions the approximator was trained on"),
		checkpointsTotal:    counter("checkpoints_total", "Total checkpoints attempted"),
		checkpointFailures:  counter("checkpoint_failures_total", "Total checkpoints that failed"),
		episodeReward: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "episode_reward",
			Help:      "Sum of the rewards of each episode",
			Buckets:   []float64{-10, -5, -2, -1, -0.5, 0, 0.5, 1, 2, 5, 10},
		}, envLabel),
		trainingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "training_duration_seconds",
			Help:      "Time to train the approximator on the replay memory",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, envLabel),
		exploreProbability: gauge("explore_probability", "Current probability of a random move"),
		discount:           gauge("discount", "Current discount of future rewards"),
		lastLoss:           gauge("last_loss", "Loss of the last training of the approximator"),
		memoryLength:       gauge("memory_length", "Number of transitions in the replay memory"),
		episodeProgress:    gauge("episode", "Last episode reported"),
	}
}

// ObserveEpisode implements qlearning.EpisodeObserver.
func (r *Reporter) ObserveEpisode(explore, discount float64, outcome qlearning.Outcome) {
	r.episodesTotal.WithLabelValues(r.env, outcomeLabel(outcome)).Inc()
	r.movesTotal.WithLabelValues(r.env).Add(float64(outcome.Moves))
	r.hintsTotal.WithLabelValues(r.env).Add(float64(outcome.Hints))
	r.episodeReward.WithLabelValues(r.env).Observe(outcome.Reward)
	r.exploreProbability.WithLabelValues(r.env).Set(explore)
	r.discount.WithLabelValues(r.env).Set(discount)
}

// ObserveTraining implements qlearning.TrainingObserver.
func (r *Reporter) ObserveTraining(numMoments int, loss float64, elapsed time.Duration) {
	r.trainingsTotal.WithLabelValues(r.env).Inc()
	r.trainedMomentsTotal.WithLabelValues(r.env).Add(float64(numMoments))
	r.lastLoss.WithLabelValues(r.env).Set(loss)
	r.trainingDuration.WithLabelValues(r.env).Observe(elapsed.Seconds())
}

// ReportProgress implements qlearning.Reporter.
func (r *Reporter) ReportProgress(_ context.Context, p *qlearning.Progress) error {
	r.episodeProgress.WithLabelValues(r.env).Set(float64(p.Episode))
	r.memoryLength.WithLabelValues(r.env).Set(float64(p.MemoryLength))
	if p.Checkpointed {
		r.checkpointsTotal.WithLabelValues(r.env).Inc()
		if p.CheckpointErr != nil {
			r.checkpointFailures.WithLabelValues(r.env).Inc()
		}
	}
	return nil
}

// Handler serves the metrics gathered by g in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
