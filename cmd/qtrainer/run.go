package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/janpfeifer/qlearner/internal/journal"
	"github.com/janpfeifer/qlearner/internal/metrics"
	"github.com/janpfeifer/qlearner/internal/qlearning"
	"github.com/janpfeifer/qlearner/internal/ui/cli"
	"github.com/janpfeifer/qlearner/internal/ui/spinning"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/klog/v2"
)

// run loads or creates the approximator for env, and then trains, evaluates, demos and plays
// as configured by the flags.
func run[M comparable](ctx context.Context, envName string, env environments.Environment[M], config qlearning.Config) error {
	model, err := ai.LoadOrCreate(approximatorConfig(), *flagCheckpoint, env.StateSize(), len(env.AllPossibleMoves()))
	if err != nil {
		return err
	}
	learner, err := qlearning.New(env, model, config, nil)
	if err != nil {
		return err
	}
	klog.Infof("Environment %s: %d state dimensions, %d moves, approximator %s",
		envName, env.StateSize(), len(env.AllPossibleMoves()), model)
	ui := cli.New(*flagColor, *flagClearScreen)

	if *flagEpisodes > 0 {
		if err = train(ctx, envName, learner, ui); err != nil {
			return err
		}
	}

	if *flagEvaluate > 0 {
		spinner := spinning.New(ctx, fmt.Sprintf("Evaluating %d episodes", *flagEvaluate))
		outcomes, err := learner.Evaluate(ctx, *flagEvaluate)
		spinner.Done()
		if err != nil {
			return err
		}
		fmt.Printf("Evaluation: %d episodes, won %d, lost %d, timed out %d, mean reward %.3f, mean moves %.1f\n",
			outcomes.Episodes, outcomes.Won, outcomes.Lost, outcomes.TimedOut, outcomes.MeanReward(), outcomes.MeanMoves())
	}

	if *flagDemo {
		if _, err = cli.ShowDemo(ctx, ui, learner, env, *flagDemoDelay); err != nil {
			return err
		}
	}

	if *flagInteractive {
		for {
			_, err = cli.Play(ctx, ui, learner, env)
			if errors.Is(err, cli.ErrQuit) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// train the learner for -episodes, with the reporters configured by the flags.
func train[M comparable](ctx context.Context, envName string, learner *qlearning.Learner[M], ui *cli.UI) (err error) {
	reporters := []qlearning.Reporter{qlearning.LogReporter{}}
	if ui.IsTerminal() {
		reporters = append(reporters, cli.ProgressReporter{UI: ui})
	}

	if *flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reporters = append(reporters, metrics.New(reg, envName))
		server := &http.Server{
			Addr:              *flagMetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			klog.Infof("Serving metrics on http://%s/metrics", *flagMetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Errorf("Metrics server on %s failed: %v", *flagMetricsAddr, err)
			}
		}()
		defer func() { _ = server.Close() }()
	}

	if *flagJournal != "" {
		var (
			j          *journal.Journal
			journalRun *journal.Run
		)
		j, err = journal.Open(*flagJournal)
		if err != nil {
			return err
		}
		defer func() { _ = j.Close() }()
		journalRun, err = j.StartRun(envName, approximatorConfig(), *flagEpisodes, learner.Config())
		if err != nil {
			return err
		}
		klog.Infof("Recording run %s in %s", journalRun.ID, *flagJournal)
		reporters = append(reporters, journalRun)
		defer func() {
			if finishErr := journalRun.Finish(err); finishErr != nil {
				klog.Errorf("Failed to record the end of run %s: %+v", journalRun.ID, finishErr)
			}
		}()
	}

	learner.SetReporters(reporters...)
	start := time.Now()
	err = learner.Learn(ctx, *flagEpisodes, *flagCheckpoint)
	klog.Infof("Training of %d episodes finished in %s", *flagEpisodes, time.Since(start).Round(time.Millisecond))
	var checkpointErr *qlearning.CheckpointError
	if errors.As(err, &checkpointErr) {
		// Training itself succeeded, only saving the model failed.
		klog.Errorf("%v", checkpointErr)
	}
	return err
}
