package qlearning

import (
	"bytes"
	"os"

	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the hyperparameters of the Learner.
//
// It can be loaded from a YAML file (LoadConfig) and overwritten by a parameters string (ApplyParams).
type Config struct {
	// LearningRate is the step of the temporal-difference update blended into the old Q-value.
	// It is independent of the approximator's own optimizer learning rate.
	LearningRate float64 `yaml:"learning_rate"`

	// MemorySize is the capacity of the experience replay memory: the number of transitions
	// collected before each training.
	MemorySize int `yaml:"memory_size"`

	// BatchSize and NumEpochs are passed to the approximator's GradientDescent.
	BatchSize int `yaml:"batch_size"`
	NumEpochs int `yaml:"num_epochs"`

	// Parallel allows the approximator to compute gradients concurrently.
	Parallel bool `yaml:"parallel"`

	Explore ExploreConfig `yaml:"explore"`

	// DiscountWarmUp is the fraction of episodes during which the future discount is 0.
	DiscountWarmUp float64 `yaml:"discount_warmup"`

	// ReportEvery episodes a progress report is issued. If 0, it uses 1/100 of the total episodes.
	ReportEvery int `yaml:"report_every"`

	// CheckpointEvery progress reports the approximator is saved. If 0 it is only saved at the end.
	CheckpointEvery int `yaml:"checkpoint_every"`

	// Seed for the random number generator. If 0 a random seed is used.
	Seed uint64 `yaml:"seed"`
}

// ExploreConfig configures the explore probability schedule.
type ExploreConfig struct {
	Max      float64       `yaml:"max"`
	Min      float64       `yaml:"min"`
	HalfLife float64       `yaml:"half_life"`
	Shape    ScheduleShape `yaml:"shape"`
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() Config {
	return Config{
		LearningRate: 0.1,
		MemorySize:   500,
		BatchSize:    256,
		NumEpochs:    10,
		Parallel:     true,
		Explore: ExploreConfig{
			Max:      0.9,
			Min:      0.01,
			HalfLife: 0.1,
			Shape:    Exponential,
		},
		DiscountWarmUp:  0.1,
		CheckpointEvery: 10,
	}
}

// Schedule returns the explore/discount schedule configured.
func (c Config) Schedule() Schedule {
	return Schedule{
		MaxExplore: c.Explore.Max,
		MinExplore: c.Explore.Min,
		HalfLife:   c.Explore.HalfLife,
		Shape:      c.Explore.Shape,
		WarmUp:     c.DiscountWarmUp,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return errors.Errorf("learning_rate must be in (0, 1], got %g", c.LearningRate)
	}
	if c.MemorySize <= 0 {
		return errors.Errorf("memory_size must be > 0, got %d", c.MemorySize)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.NumEpochs <= 0 {
		return errors.Errorf("num_epochs must be > 0, got %d", c.NumEpochs)
	}
	if c.ReportEvery < 0 || c.CheckpointEvery < 0 {
		return errors.Errorf("report_every (%d) and checkpoint_every (%d) can't be negative", c.ReportEvery, c.CheckpointEvery)
	}
	return c.Schedule().Validate()
}

// LoadConfig reads the YAML file at path on top of DefaultConfig, and validates the result.
// Unknown fields are an error.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "failed to read configuration file %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err = dec.Decode(&c); err != nil {
		return c, errors.Wrapf(err, "failed to parse configuration file %s", path)
	}
	if err = c.Validate(); err != nil {
		return c, errors.WithMessagef(err, "invalid configuration in %s", path)
	}
	return c, nil
}

// YAML returns the configuration serialized as YAML.
func (c Config) YAML() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "#" + err.Error()
	}
	return string(data)
}

// ApplyParams overwrites the configuration with the values in params, e.g.: "learning_rate=0.2,explore_min=0.05".
// Parameters used are popped from params, and unknown parameters are an error.
func (c *Config) ApplyParams(params parameters.Params) error {
	var err error
	setFloat := func(key string, field *float64) {
		if err == nil {
			*field, err = parameters.PopParamOr(params, key, *field)
		}
	}
	setInt := func(key string, field *int) {
		if err == nil {
			*field, err = parameters.PopParamOr(params, key, *field)
		}
	}
	setFloat("learning_rate", &c.LearningRate)
	setInt("memory_size", &c.MemorySize)
	setInt("batch_size", &c.BatchSize)
	setInt("num_epochs", &c.NumEpochs)
	if err == nil {
		c.Parallel, err = parameters.PopParamOr(params, "parallel", c.Parallel)
	}
	setFloat("explore_max", &c.Explore.Max)
	setFloat("explore_min", &c.Explore.Min)
	setFloat("explore_half_life", &c.Explore.HalfLife)
	if err == nil {
		var shape string
		shape, err = parameters.PopParamOr(params, "explore_shape", string(c.Explore.Shape))
		c.Explore.Shape = ScheduleShape(shape)
	}
	setFloat("discount_warmup", &c.DiscountWarmUp)
	setInt("report_every", &c.ReportEvery)
	setInt("checkpoint_every", &c.CheckpointEvery)
	if err == nil {
		seed := int(c.Seed)
		seed, err = parameters.PopParamOr(params, "seed", seed)
		c.Seed = uint64(seed)
	}
	if err != nil {
		return err
	}
	if err = parameters.CheckAllUsed(params); err != nil {
		return err
	}
	return c.Validate()
}
