package ai

import (
	"io/fs"
	"slices"
	"strings"

	"github.com/janpfeifer/qlearner/internal/generics"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Module creates or loads approximators of one kind. Modules register themselves with RegisterModule.
type Module interface {
	// New creates a freshly initialized approximator. The module should pop the params it uses.
	New(inputSize, outputSize int, params parameters.Params) (Approximator, error)

	// ReadFromDirectory loads an approximator previously saved with Approximator.WriteToDirectory.
	// If there is no model saved in dir, it must return an error that wraps fs.ErrNotExist.
	ReadFromDirectory(dir string, params parameters.Params) (Approximator, error)
}

var (
	// Registered approximator modules.
	keywordToModules = make(map[string]Module)
)

// RegisterModule so it can be selected by name by any of the front-ends.
func RegisterModule(name string, module Module) {
	keywordToModules[name] = module
}

// RegisteredModules returns the sorted names of the registered modules.
func RegisteredModules() []string {
	return slices.Collect(generics.SortedKeys(keywordToModules))
}

var (
	// DefaultConfig is used if no configuration was given for the approximator.
	DefaultConfig = "mlp"
)

// parseConfig splits config into the module and its parameters.
func parseConfig(config string) (Module, string, parameters.Params, error) {
	if config == "" {
		config = DefaultConfig
	}
	moduleName := config
	paramsStr := ""
	if moduleSplit := strings.Index(config, ":"); moduleSplit != -1 {
		moduleName = config[:moduleSplit]
		paramsStr = config[moduleSplit+1:]
	}
	module, ok := keywordToModules[moduleName]
	if !ok {
		return nil, moduleName, nil, errors.Errorf("unknown approximator %q, registered approximators are %q",
			moduleName, RegisteredModules())
	}
	return module, moduleName, parameters.NewFromConfigString(paramsStr), nil
}

// New creates a new approximator given the configuration string.
//
// Args:
//
//	config: the approximator name followed by a colon (":"), followed by a comma-separated list of optional
//		parameters with optional values associated, e.g.: "mlp:hidden_layers=3,learning_rate=0.001".
//		If empty, the default is given by DefaultConfig.
func New(config string, inputSize, outputSize int) (Approximator, error) {
	module, name, params, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	a, err := module.New(inputSize, outputSize, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create approximator %q", name)
	}
	if err = parameters.CheckAllUsed(params); err != nil {
		return nil, errors.WithMessagef(err, "approximator %q", name)
	}
	return a, nil
}

// ReadFromDirectory loads the approximator saved in dir, using the module selected in config.
func ReadFromDirectory(config, dir string) (Approximator, error) {
	module, name, params, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	a, err := module.ReadFromDirectory(dir, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read approximator %q from %s", name, dir)
	}
	if err = parameters.CheckAllUsed(params); err != nil {
		return nil, errors.WithMessagef(err, "approximator %q", name)
	}
	return a, nil
}

// LoadOrCreate reads the approximator from dir if there is one saved there, otherwise it creates a new one.
// An empty dir always creates a new approximator.
//
// If the loaded approximator doesn't have the requested dimensions it returns an error.
func LoadOrCreate(config, dir string, inputSize, outputSize int) (Approximator, error) {
	if dir == "" {
		return New(config, inputSize, outputSize)
	}
	a, err := ReadFromDirectory(config, dir)
	if errors.Is(err, fs.ErrNotExist) {
		klog.V(1).Infof("No approximator saved in %s, creating a new one", dir)
		return New(config, inputSize, outputSize)
	}
	if err != nil {
		return nil, err
	}
	if a.InputSize() != inputSize || a.OutputSize() != outputSize {
		return nil, errors.Errorf("approximator %s in %s maps %d inputs to %d outputs, but the environment requires %d to %d",
			a, dir, a.InputSize(), a.OutputSize(), inputSize, outputSize)
	}
	klog.V(1).Infof("Loaded approximator %s from %s", a, dir)
	return a, nil
}
