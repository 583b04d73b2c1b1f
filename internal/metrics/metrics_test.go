package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/janpfeifer/qlearner/internal/qlearning"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "nim")

	r.ObserveEpisode(0.5, 0.25, qlearning.Outcome{Won: true, Reward: 1, Moves: 3, Hints: 1})
	r.ObserveEpisode(0.4, 0.3, qlearning.Outcome{Lost: true, Reward: -1, Moves: 2})
	r.ObserveEpisode(0.3, 0.35, qlearning.Outcome{Won: true, Reward: 1, Moves: 4})
	assert.Equal(t, 2.0, testutil.ToFloat64(r.episodesTotal.WithLabelValues("nim", "won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.episodesTotal.WithLabelValues("nim", "lost")))
	assert.Equal(t, 9.0, testutil.ToFloat64(r.movesTotal.WithLabelValues("nim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.hintsTotal.WithLabelValues("nim")))
	assert.Equal(t, 0.3, testutil.ToFloat64(r.exploreProbability.WithLabelValues("nim")))
	assert.Equal(t, 0.35, testutil.ToFloat64(r.discount.WithLabelValues("nim")))

	r.ObserveTraining(500, 0.125, 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trainingsTotal.WithLabelValues("nim")))
	assert.Equal(t, 500.0, testutil.ToFloat64(r.trainedMomentsTotal.WithLabelValues("nim")))
	assert.Equal(t, 0.125, testutil.ToFloat64(r.lastLoss.WithLabelValues("nim")))

	require.NoError(t, r.ReportProgress(context.Background(), &qlearning.Progress{Episode: 100, MemoryLength: 42}))
	require.NoError(t, r.ReportProgress(context.Background(), &qlearning.Progress{Episode: 200, Checkpointed: true}))
	require.NoError(t, r.ReportProgress(context.Background(), &qlearning.Progress{
		Episode: 300, Checkpointed: true, CheckpointErr: errors.New("disk full")}))
	assert.Equal(t, 300.0, testutil.ToFloat64(r.episodeProgress.WithLabelValues("nim")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.memoryLength.WithLabelValues("nim")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.checkpointsTotal.WithLabelValues("nim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.checkpointFailures.WithLabelValues("nim")))

	// Histograms.
	assert.Equal(t, 1, testutil.CollectAndCount(r.episodeReward))
	assert.Equal(t, 1, testutil.CollectAndCount(r.trainingDuration))
}

func TestEnvironmentLabelCardinality(t *testing.T) {
	assert.Equal(t, "gridworld", sanitizeEnvironment("gridworld"))
	assert.Equal(t, "other", sanitizeEnvironment("my-private-env"))
	assert.Equal(t, "other", sanitizeEnvironment(""))
	assert.Equal(t, "timed_out", outcomeLabel(qlearning.Outcome{TimedOut: true}))
	assert.Equal(t, "other", outcomeLabel(qlearning.Outcome{}))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "bandit")
	r.ObserveEpisode(0.9, 0, qlearning.Outcome{Won: true, Reward: 1, Moves: 1})

	server := httptest.NewServer(Handler(reg))
	defer server.Close()
	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `qlearner_training_episodes_total{env="bandit",outcome="won"} 1`)
	assert.Contains(t, string(body), "qlearner_training_episode_reward_bucket")
}
