// Package _default registers the default approximators that can be included in any
// front-end.
//
// Currently, it includes the pure Go MLP ("mlp") and linear ("linear") models.
package _default

import (
	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/ai/linear"
	"github.com/janpfeifer/qlearner/internal/ai/mlp"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"k8s.io/klog/v2"
	"slices"
)

func init() {
	ai.RegisterModule("mlp", &MLP{})
	ai.RegisterModule("linear", &Linear{})
}

// MLP implements ai.Module for the mlp package.
type MLP struct{}

// Assert MLP implements Module.
var _ ai.Module = (*MLP)(nil)

// New implements ai.Module.
func (*MLP) New(inputSize, outputSize int, params parameters.Params) (ai.Approximator, error) {
	config, err := mlp.ConfigFromParams(mlp.DefaultConfig(), params)
	if err != nil {
		return nil, err
	}
	return mlp.New(inputSize, outputSize, config)
}

// ReadFromDirectory implements ai.Module.
//
// The optimizer parameters (learning_rate, gradient_l2_clip) given in params overwrite the saved ones.
// Parameters that define the shape of the network are ignored.
func (*MLP) ReadFromDirectory(dir string, params parameters.Params) (ai.Approximator, error) {
	m, err := mlp.ReadFromDirectory(dir)
	if err != nil {
		return nil, err
	}
	config, err := mlp.ConfigFromParams(m.Config(), params)
	if err != nil {
		return nil, err
	}
	if sizes := mlp.LayerSizes(m.InputSize(), m.OutputSize(), config); !slices.Equal(sizes, m.Sizes()) {
		klog.Warningf("Model in %s has layer sizes %v, shape parameters (%v) ignored", dir, m.Sizes(), sizes)
	}
	m.SetLearningRate(config.LearningRate)
	m.SetGradientL2Clip(config.GradientL2Clip)
	return m, nil
}

// Linear implements ai.Module for the linear package.
type Linear struct{}

var _ ai.Module = (*Linear)(nil)

// New implements ai.Module.
func (*Linear) New(inputSize, outputSize int, params parameters.Params) (ai.Approximator, error) {
	return linear.NewFromParams(inputSize, outputSize, params)
}

// ReadFromDirectory implements ai.Module. The hyperparameters are taken from params.
func (*Linear) ReadFromDirectory(dir string, params parameters.Params) (ai.Approximator, error) {
	l, err := linear.ReadFromDirectory(dir)
	if err != nil {
		return nil, err
	}
	if err = l.ApplyParams(params); err != nil {
		return nil, err
	}
	return l, nil
}
