package gomlx

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/generics"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Approximator implements ai.Approximator with a GoMLX Model.
type Approximator struct {
	model                 Model
	inputSize, outputSize int

	// Executors.
	outputExec, lossExec, trainStepExec *context.Exec

	// checkpoint handler, once the model is bound to a directory: either loaded from it, or saved to it.
	checkpoint *checkpoints.Handler

	// checkpointsToKeep is the number of copies of older checkpoints to keep around.
	// Default to 10.
	checkpointsToKeep int

	// muLearning "write" for learning, and "read" for Output.
	muLearning sync.RWMutex

	// optimizer used when training the model.
	optimizer optimizers.Interface

	// muSave makes saving sequential.
	muSave sync.Mutex
}

var _ ai.Approximator = (*Approximator)(nil)

// newApproximator wraps model. If dir is given, the model is loaded from the checkpoint in dir.
func newApproximator(model Model, dir string, params parameters.Params) (*Approximator, error) {
	s := &Approximator{model: model}

	// Help if requested.
	if _, found := params["help"]; found {
		s.writeHyperparametersHelp()
		return nil, errors.New("fnn help requested")
	}

	// Number of checkpoints to keep.
	var err error
	s.checkpointsToKeep, err = parameters.PopParamOr(params, "keep", 10)
	if err != nil {
		return nil, err
	}

	// Load checkpoint, if one is given.
	ctx := model.Context()
	if dir != "" {
		if err = s.bindCheckpoint(dir); err != nil {
			return nil, errors.WithMessagef(err, "failed to load checkpoint in %s", dir)
		}
	}
	if s.inputSize, err = intParam(ctx, ParamInputSize); err != nil {
		return nil, err
	}
	if s.outputSize, err = intParam(ctx, ParamOutputSize); err != nil {
		return nil, err
	}
	if s.inputSize <= 0 || s.outputSize <= 0 {
		return nil, errors.Errorf("invalid model dimensions %d -> %d", s.inputSize, s.outputSize)
	}
	if fnn, ok := model.(*FNN); ok {
		fnn.SetSizes(s.inputSize, s.outputSize)
	}

	// Create the backend.
	_ = backend()

	// Overwrite hyperparameters from given params.
	if err = extractParams("fnn", params, ctx); err != nil {
		return nil, err
	}

	// Create optimizer to be used in training.
	s.optimizer = optimizers.FromContext(ctx)
	s.createExecutors()
	klog.V(1).Infof("Created %s", s)
	return s, nil
}

func (s *Approximator) createExecutors() {
	muNewClient.Lock()
	defer muNewClient.Unlock()
	ctx := s.model.Context().Checked(false)
	s.outputExec = context.NewExec(backend(), ctx,
		func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			return s.model.ForwardGraph(ctx, inputs)
		})
	s.lossExec = context.NewExec(backend(), ctx,
		func(ctx *context.Context, inputsAndLabels []*graph.Node) *graph.Node {
			inputs := inputsAndLabels[:len(inputsAndLabels)-1]
			labels := inputsAndLabels[len(inputsAndLabels)-1]
			return s.model.LossGraph(ctx, inputs, labels)
		})
	s.trainStepExec = context.NewExec(backend(), ctx,
		func(ctx *context.Context, inputsAndLabels []*graph.Node) *graph.Node {
			inputs := inputsAndLabels[:len(inputsAndLabels)-1]
			labels := inputsAndLabels[len(inputsAndLabels)-1]
			g := labels.Graph()
			ctx.SetTraining(g, true)
			loss := s.model.LossGraph(ctx, inputs, labels)
			s.optimizer.UpdateGraph(ctx, g, loss)
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return loss
		})

	// Force creating/loading of variables without race conditions first.
	_ = s.Output(make([]float64, s.inputSize))
}

// String implements fmt.Stringer and ai.Approximator.
func (s *Approximator) String() string {
	if s == nil {
		return "<nil>[GoMLX]"
	}
	gomlxName := fmt.Sprintf("fnn[GoMLX/%s]", backend().Name())
	if s.checkpoint == nil || s.checkpoint.Dir() == "" {
		return gomlxName
	}
	return fmt.Sprintf("%s@%s", gomlxName, s.checkpoint.Dir())
}

// InputSize implements ai.Approximator.
func (s *Approximator) InputSize() int { return s.inputSize }

// OutputSize implements ai.Approximator.
func (s *Approximator) OutputSize() int { return s.outputSize }

// Output implements ai.Approximator.
func (s *Approximator) Output(input []float64) []float64 {
	if len(input) != s.inputSize {
		exceptions.Panicf("%s takes inputs of size %d, got input of size %d", s, s.inputSize, len(input))
	}
	inputs := s.model.CreateInputs([][]float64{input})
	s.muLearning.RLock()
	defer s.muLearning.RUnlock()
	donatedInputs := generics.SliceMap(inputs, func(t *tensors.Tensor) any {
		return graph.DonateTensorBuffer(t, backend())
	})
	outputT := s.outputExec.Call(donatedInputs...)[0]
	padded := tensors.CopyFlatData[float32](outputT)
	return generics.SliceMap(padded[:s.outputSize], func(v float32) float64 { return float64(v) })
}

// GradientDescent implements ai.Approximator, running one training step per batch.
// GoMLX already parallelizes each step, so parallel is ignored.
func (s *Approximator) GradientDescent(pairs []ai.TrainingPair, batchSize, numEpochs int, _ bool) (loss float64, err error) {
	if len(pairs) == 0 {
		return 0, errors.New("fnn.GradientDescent called with no training pairs")
	}
	if batchSize <= 0 || numEpochs <= 0 {
		return 0, errors.Errorf("fnn.GradientDescent requires positive batch size and epochs, got %d and %d", batchSize, numEpochs)
	}
	if err = ai.CheckPairs(s, pairs); err != nil {
		return 0, err
	}
	s.muLearning.Lock()
	defer s.muLearning.Unlock()
	for range numEpochs {
		loss = 0
		for start := 0; start < len(pairs); start += batchSize {
			batch := pairs[start:min(start+batchSize, len(pairs))]
			lossT := s.trainStepExec.Call(s.createInputsAndLabels(batch)...)[0]
			batchLoss := tensors.ToScalar[float32](lossT)
			if math32.IsNaN(batchLoss) || math32.IsInf(batchLoss, 0) {
				return 0, errors.Errorf("%s got non-finite loss %g training on %d examples", s, batchLoss, len(batch))
			}
			loss += float64(batchLoss) * float64(len(batch))
		}
		loss /= float64(len(pairs))
	}
	return loss, nil
}

// Loss returns the mean loss of the model on the pairs, without training.
func (s *Approximator) Loss(pairs []ai.TrainingPair) float64 {
	s.muLearning.RLock()
	defer s.muLearning.RUnlock()
	lossT := s.lossExec.Call(s.createInputsAndLabels(pairs)...)[0]
	return float64(tensors.ToScalar[float32](lossT))
}

func (s *Approximator) createInputsAndLabels(pairs []ai.TrainingPair) []any {
	states := generics.SliceMap(pairs, func(p ai.TrainingPair) []float64 { return p.Input })
	targets := generics.SliceMap(pairs, func(p ai.TrainingPair) []float64 { return p.Target })
	inputs := s.model.CreateInputs(states)
	inputs = append(inputs, s.model.CreateLabels(targets))
	return generics.SliceMap(inputs, func(t *tensors.Tensor) any {
		return graph.DonateTensorBuffer(t, backend())
	})
}

// WriteToDirectory implements ai.Approximator.
//
// The first call binds the model to dir, and later calls must use the same directory. A directory
// that already holds a checkpoint of another model is refused, since binding to it would load it.
func (s *Approximator) WriteToDirectory(dir string) error {
	s.muSave.Lock()
	defer s.muSave.Unlock()
	if s.checkpoint == nil {
		if HasCheckpoint(dir) {
			return errors.Errorf("%s can't be saved to %s: it already holds another checkpoint", s, dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
		}
		if err := s.bindCheckpoint(dir); err != nil {
			return err
		}
	} else if filepath.Clean(s.checkpoint.Dir()) != filepath.Clean(dir) {
		return errors.Errorf("%s is bound to %s, it can't be saved to %s", s, s.checkpoint.Dir(), dir)
	}
	s.muLearning.RLock()
	defer s.muLearning.RUnlock()
	if err := s.checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save %s", s)
	}
	return nil
}

func (s *Approximator) bindCheckpoint(dir string) error {
	checkpoint, err := checkpoints.
		Build(s.model.Context()).
		Dir(dir).
		Immediate().
		Keep(s.checkpointsToKeep).
		Done()
	if err != nil {
		return err
	}
	s.checkpoint = checkpoint
	return nil
}

// writeHyperparametersHelp enumerates all the hyperparameters set in the context.
func (s *Approximator) writeHyperparametersHelp() {
	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, "Approximator fnn parameters:\n")
	_, _ = fmt.Fprintf(buf, "\tkeep=<n> number of checkpoints to keep, default is 10\n")
	s.model.Context().EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		_, _ = fmt.Fprintf(buf, "\t%q: default value is %v\n", key, value)
	})
	klog.Info(buf)
}
