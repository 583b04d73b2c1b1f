// Package gomlx implements an ai.Approximator with GoMLX models: for now only FNN
// (Feedforward Neural Network) and KAN models, selected with the "kan" hyperparameter.
//
// It registers itself as the "fnn" approximator. The backend used is selected by the
// blank imports of the binary (see the gomlx/backends packages) or by $GOMLX_BACKEND.
package gomlx

import (
	"io/fs"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
)

var (
	// Backend is a singleton, the same for all approximators.
	backend = sync.OnceValue(func() backends.Backend { return backends.New() })

	// muNewClient is a Mutex used to synchronize access to GoMLX client initialization
	// or related critical sections.
	muNewClient sync.Mutex
)

// Module implements ai.Module for the GoMLX approximators.
type Module struct{}

var _ ai.Module = Module{}

// init registers the module as "fnn", so end users can select it.
func init() {
	ai.RegisterModule("fnn", Module{})
}

// New implements ai.Module.
func (Module) New(inputSize, outputSize int, params parameters.Params) (ai.Approximator, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, errors.Errorf("fnn requires positive input and output sizes, got %d and %d", inputSize, outputSize)
	}
	return newApproximator(NewFNN(inputSize, outputSize), "", params)
}

// ReadFromDirectory implements ai.Module.
// Hyperparameters given in params overwrite the ones saved in the checkpoint.
func (Module) ReadFromDirectory(dir string, params parameters.Params) (ai.Approximator, error) {
	if !HasCheckpoint(dir) {
		return nil, errors.Wrapf(fs.ErrNotExist, "no GoMLX checkpoint in %s", dir)
	}
	return newApproximator(NewFNN(0, 0), dir, params)
}

// HasCheckpoint returns whether there is any GoMLX checkpoint saved in dir.
func HasCheckpoint(dir string) bool {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	return len(matches) > 0
}

// nonConfigurableParams are set by the approximator itself.
var nonConfigurableParams = []string{ParamInputSize, ParamOutputSize}

// extractParams and write them as context hyperparameters
func extractParams(modelName string, params parameters.Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If error happened skip the rest.
			return
		}
		if scope != context.RootScope || slices.Contains(nonConfigurableParams, key) {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			value, _ := parameters.PopParamOr(params, key, defaultValue)
			ctx.SetParam(key, value)
		case int:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (int) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case float64:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float64) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case float32:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float32) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case bool:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (bool) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		default:
			err = errors.Errorf("model %s parameter %q is of unknown type %T", modelName, key, defaultValue)
		}
	})
	return err
}

// intParam reads an int hyperparameter that may have been restored from a checkpoint as a float.
func intParam(ctx *context.Context, key string) (int, error) {
	value, found := ctx.GetParam(key)
	if !found {
		return 0, errors.Errorf("hyperparameter %q not set", key)
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	}
	return 0, errors.Errorf("hyperparameter %q has unexpected type %T", key, value)
}
