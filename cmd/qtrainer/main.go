// qtrainer trains a Q-learning agent on one of the environments, and can evaluate it, show a demo
// episode or let the user play with the learned Q-values as assistance.
//
// Examples:
//
//	$ qtrainer -env=gridworld -episodes=20000 -checkpoint=~/tmp/gridworld -approximator="mlp:hidden_nodes=32x32"
//	$ qtrainer -env=gridworld -episodes=0 -checkpoint=~/tmp/gridworld -demo
//	$ qtrainer -env=nim -env_params="sticks=15,skill=0.8" -episodes=50000 -journal=runs.db -metrics_addr=:9090
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/janpfeifer/must"
	"github.com/janpfeifer/qlearner/internal/ai"
	_ "github.com/janpfeifer/qlearner/internal/ai/default"
	"github.com/janpfeifer/qlearner/internal/environments/bandit"
	"github.com/janpfeifer/qlearner/internal/environments/gridworld"
	"github.com/janpfeifer/qlearner/internal/environments/nim"
	"github.com/janpfeifer/qlearner/internal/journal"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/janpfeifer/qlearner/internal/profilers"
	"github.com/janpfeifer/qlearner/internal/qlearning"
	"github.com/janpfeifer/qlearner/internal/ui/spinning"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Flags
var (
	flagEnv       = flag.String("env", "gridworld", "Environment to train on: bandit, gridworld or nim.")
	flagEnvParams = flag.String("env_params", "", "Comma-separated parameters of the environment, "+
		"e.g. \"layout=M.C/.T.,max_steps=50\" for gridworld, or \"sticks=15,skill=0.8\" for nim.")
	flagEpisodes   = flag.Int("episodes", 10_000, "Number of episodes to train. If 0, no training is done.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory where to load the approximator from, "+
		"if there is one saved there, and where to save it during and at the end of training.")
	flagApproximator = flag.String("approximator", "", "Configuration string of the approximator, "+
		"e.g. \"mlp:hidden_layers=3,learning_rate=0.001\". Use \"<name>:help\" for a list of parameters. "+
		"Defaults to \"mlp\".")
	flagConfig = flag.String("config", "", "YAML file with the Q-learning configuration.")
	flagParams = flag.String("params", "", "Comma-separated Q-learning parameters that overwrite the "+
		"configuration, e.g. \"learning_rate=0.2,memory_size=1000,explore_min=0.05\".")
	flagSeed = flag.Uint64("seed", 0, "If set, seed of the random number generators, for reproducible runs.")

	flagJournal     = flag.String("journal", "", "SQLite file where to record the training runs and their progress.")
	flagListRuns    = flag.Int("list_runs", 0, "If > 0, lists the latest runs recorded in -journal and exits.")
	flagMetricsAddr = flag.String("metrics_addr", "", "If set, serves Prometheus metrics of the training at the "+
		"given address, e.g. \":9090\".")

	flagEvaluate    = flag.Int("evaluate", 0, "Number of episodes to evaluate the approximator on, after training.")
	flagDemo        = flag.Bool("demo", false, "Show a demo episode after training.")
	flagDemoDelay   = flag.Duration("demo_delay", 500*time.Millisecond, "Delay between moves of the demo.")
	flagInteractive = flag.Bool("interactive", false, "Play an episode interactively after training, "+
		"with the Q-values displayed and \"?\" to ask for the best move.")
	flagColor       = flag.Bool("color", true, "Use colors in the terminal.")
	flagClearScreen = flag.Bool("clear", false, "Clear the screen between states in demo and interactive modes.")
)

// Globals
var (
	// globalCtx used everywhere. It is cancelled when the program is about to exit either by
	// an interrupt (ctrl+C) or by reaching the end.
	globalCtx = context.Background()
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C
	var globalCancel func()
	globalCtx, globalCancel = context.WithCancel(context.Background())
	spinning.SafeInterrupt(globalCancel, 10*time.Second)
	defer globalCancel()

	// Profilers: HTTP profiler server and CPU profile.
	prof := must.M1(profilers.Setup(globalCtx))
	defer prof.OnQuit()

	if *flagListRuns > 0 {
		must.M(listRuns(*flagListRuns))
		return
	}

	config := must.M1(loadConfig())
	rng := newRNG(config.Seed)
	envParams := parameters.NewFromConfigString(*flagEnvParams)
	var err error
	switch *flagEnv {
	case "bandit":
		err = run[bandit.Arm](globalCtx, *flagEnv, bandit.New(), config)
	case "gridworld":
		env := must.M1(gridworld.NewFromParams(envParams))
		must.M(parameters.CheckAllUsed(envParams))
		err = run[gridworld.Direction](globalCtx, *flagEnv, env, config)
	case "nim":
		env := must.M1(nim.NewFromParams(envParams, rng))
		must.M(parameters.CheckAllUsed(envParams))
		err = run[nim.Take](globalCtx, *flagEnv, env, config)
	default:
		klog.Fatalf("Unknown environment -env=%q, valid values are bandit, gridworld or nim", *flagEnv)
	}
	if errors.Is(err, context.Canceled) {
		klog.Warningf("Interrupted: %v", err)
		return
	}
	if err != nil {
		spinning.Reset()
		klog.Fatalf("Failed: %+v", err)
	}
}

// loadConfig from the defaults, -config and then -params and -seed.
func loadConfig() (config qlearning.Config, err error) {
	config = qlearning.DefaultConfig()
	if *flagConfig != "" {
		config, err = qlearning.LoadConfig(*flagConfig)
		if err != nil {
			return
		}
	}
	if err = config.ApplyParams(parameters.NewFromConfigString(*flagParams)); err != nil {
		err = errors.WithMessage(err, "invalid -params")
		return
	}
	if *flagSeed != 0 {
		config.Seed = *flagSeed
	}
	klog.V(1).Infof("Q-learning configuration:\n%s", config.YAML())
	return
}

// newRNG for the environments: deterministic if a seed is given.
func newRNG(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	// Use a different stream than the learner's.
	return rand.New(rand.NewPCG(seed, 1))
}

func listRuns(limit int) error {
	if *flagJournal == "" {
		return errors.New("-list_runs requires -journal")
	}
	j, err := journal.Open(*flagJournal)
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()
	runs, err := j.Runs(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("No runs recorded in %s\n", *flagJournal)
		return nil
	}
	for _, info := range runs {
		fmt.Printf("%s  %s  %-10s %-12s episodes=%-8d approximator=%q\n", info.ID,
			info.StartedAt.Local().Format(time.DateTime), info.Environment, info.Status, info.Episodes, info.Approximator)
		if info.Error != "" {
			fmt.Printf("    error: %s\n", info.Error)
		}
		reports, err := j.Reports(info.ID)
		if err != nil {
			return err
		}
		if len(reports) > 0 {
			last := reports[len(reports)-1]
			fmt.Printf("    last report: episode %d, won %d/%d, mean reward %.3f, loss %.4g\n",
				last.Episode, last.Outcomes.Won, last.Outcomes.Episodes, last.MeanReward, last.LastLoss)
		}
	}
	return nil
}

// approximatorConfig returns the configuration of the approximator, with the default filled in.
func approximatorConfig() string {
	if *flagApproximator == "" {
		return ai.DefaultConfig
	}
	return *flagApproximator
}
