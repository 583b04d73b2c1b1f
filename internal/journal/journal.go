// Package journal records training runs and their progress reports in a SQLite database.
//
// Each call to qlearning.Learner.Learn is a run: StartRun stores its configuration, the returned Run
// is a qlearning.Reporter that appends every progress report, and Run.Finish records how it ended.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/janpfeifer/qlearner/internal/qlearning"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	environment   TEXT NOT NULL,
	approximator  TEXT NOT NULL,
	episodes      INTEGER NOT NULL,
	config_yaml   TEXT NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT,
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE TABLE IF NOT EXISTS reports (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	episode          INTEGER NOT NULL,
	episodes         INTEGER NOT NULL,
	won              INTEGER NOT NULL,
	lost             INTEGER NOT NULL,
	timed_out        INTEGER NOT NULL,
	mean_reward      REAL NOT NULL,
	mean_moves       REAL NOT NULL,
	explore          REAL NOT NULL,
	discount         REAL NOT NULL,
	trainings        INTEGER NOT NULL,
	last_loss        REAL NOT NULL,
	memory_length    INTEGER NOT NULL,
	checkpointed     INTEGER NOT NULL,
	checkpoint_error TEXT,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS reports_by_run ON reports(run_id, episode);
`

// Status of a run.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Journal of training runs.
type Journal struct {
	db *sql.DB
}

// Open the SQLite database at path, creating it and its tables if needed.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open journal %s", path)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "journal %s: %s", path, pragma)
		}
	}
	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to create journal tables in %s", path)
	}
	return &Journal{db: db}, nil
}

// Close the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RunInfo describes a training run.
type RunInfo struct {
	ID           string
	Environment  string
	Approximator string
	Episodes     int
	ConfigYAML   string
	Status       string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time // Zero if the run hasn't finished.
}

// Run is a training run being recorded. It implements qlearning.Reporter.
type Run struct {
	journal *Journal
	ID      string
}

var _ qlearning.Reporter = (*Run)(nil)

// StartRun records the start of the training of env with the given approximator (its configuration string)
// and learner configuration.
func (j *Journal) StartRun(env, approximator string, episodes int, config qlearning.Config) (*Run, error) {
	id := uuid.New().String()
	_, err := j.db.Exec(
		`INSERT INTO runs (run_id, environment, approximator, episodes, config_yaml, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, env, approximator, episodes, config.YAML(), StatusRunning, now(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to record start of run for %s", env)
	}
	klog.V(1).Infof("Journal: started run %s", id)
	return &Run{journal: j, ID: id}, nil
}

// ReportProgress implements qlearning.Reporter.
func (r *Run) ReportProgress(ctx context.Context, p *qlearning.Progress) error {
	var checkpointErr any
	if p.CheckpointErr != nil {
		checkpointErr = p.CheckpointErr.Error()
	}
	_, err := r.journal.db.ExecContext(ctx,
		`INSERT INTO reports (run_id, episode, episodes, won, lost, timed_out, mean_reward, mean_moves,
		     explore, discount, trainings, last_loss, memory_length, checkpointed, checkpoint_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, p.Episode, p.Episodes, p.Won, p.Lost, p.TimedOut, p.MeanReward(), p.MeanMoves(),
		p.ExploreProbability, p.Discount, p.Trainings, p.LastLoss, p.MemoryLength, p.Checkpointed,
		checkpointErr, now(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record progress of run %s at episode %d", r.ID, p.Episode)
	}
	return nil
}

// Finish records the end of the run, given the error returned by Learn.
func (r *Run) Finish(learnErr error) error {
	status := StatusCompleted
	var errMsg any
	if learnErr != nil {
		errMsg = learnErr.Error()
		status = StatusFailed
		if errors.Is(learnErr, context.Canceled) || errors.Is(learnErr, context.DeadlineExceeded) {
			status = StatusInterrupted
		}
	}
	_, err := r.journal.db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, errMsg, now(), r.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record end of run %s", r.ID)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(limit int) ([]RunInfo, error) {
	rows, err := j.db.Query(
		`SELECT run_id, environment, approximator, episodes, config_yaml, status, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer func() { _ = rows.Close() }()

	var runs []RunInfo
	for rows.Next() {
		var (
			info               RunInfo
			errMsg, finishedAt sql.NullString
			startedAt          string
		)
		err = rows.Scan(&info.ID, &info.Environment, &info.Approximator, &info.Episodes, &info.ConfigYAML,
			&info.Status, &errMsg, &startedAt, &finishedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read run")
		}
		info.Error = errMsg.String
		info.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if finishedAt.Valid {
			info.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt.String)
		}
		runs = append(runs, info)
	}
	return runs, errors.Wrap(rows.Err(), "failed to list runs")
}

// Report is one progress report of a run.
type Report struct {
	Episode            int
	Outcomes           qlearning.Outcomes
	MeanReward         float64
	MeanMoves          float64
	ExploreProbability float64
	Discount           float64
	Trainings          int
	LastLoss           float64
	MemoryLength       int
	Checkpointed       bool
	CheckpointError    string
	CreatedAt          time.Time
}

// Reports returns the progress reports of the run, in order of episode.
func (j *Journal) Reports(runID string) ([]Report, error) {
	rows, err := j.db.Query(
		`SELECT episode, episodes, won, lost, timed_out, mean_reward, mean_moves, explore, discount,
		     trainings, last_loss, memory_length, checkpointed, checkpoint_error, created_at
		 FROM reports WHERE run_id = ? ORDER BY episode, id`, runID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query reports of run %s", runID)
	}
	defer func() { _ = rows.Close() }()

	var reports []Report
	for rows.Next() {
		var (
			r             Report
			checkpointErr sql.NullString
			createdAt     string
		)
		err = rows.Scan(&r.Episode, &r.Outcomes.Episodes, &r.Outcomes.Won, &r.Outcomes.Lost, &r.Outcomes.TimedOut,
			&r.MeanReward, &r.MeanMoves, &r.ExploreProbability, &r.Discount, &r.Trainings, &r.LastLoss,
			&r.MemoryLength, &r.Checkpointed, &checkpointErr, &createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read report of run %s", runID)
		}
		r.CheckpointError = checkpointErr.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		reports = append(reports, r)
	}
	return reports, errors.Wrapf(rows.Err(), "failed to read reports of run %s", runID)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
