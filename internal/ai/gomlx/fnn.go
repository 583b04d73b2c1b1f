package gomlx

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/kan"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	// ParamInputSize and ParamOutputSize are context hyperparameters with the dimensions of the model.
	// They are saved with the checkpoints, and are not configurable.
	ParamInputSize  = "input_size"
	ParamOutputSize = "output_size"
)

// FNN implement a feed-forward model from the state vector to the Q-values.
// It's the simpler GoMLX model.
type FNN struct {
	ctx                   *context.Context
	inputSize, outputSize int
}

var _ Model = (*FNN)(nil)

// NewFNN creates an FNN model with a fresh context, initialized with hyperparameters set to their defaults.
// The sizes may be 0 if they are going to be loaded from a checkpoint, see SetSizes.
func NewFNN(inputSize, outputSize int) *FNN {
	fnn := &FNN{ctx: context.New()}
	fnn.ctx.RngStateReset()
	fnn.ctx.SetParams(map[string]any{
		ParamInputSize:  inputSize,
		ParamOutputSize: outputSize,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
		optimizers.ParamAdamEpsilon:  1e-7,
		optimizers.ParamAdamDType:    "",
		activations.ParamActivation:  "relu",
		layers.ParamDropoutRate:      0.0,
		regularizers.ParamL2:         1e-5,
		regularizers.ParamL1:         0.0,

		// FNN network parameters:
		fnnLayer.ParamNumHiddenLayers: 2,
		fnnLayer.ParamNumHiddenNodes:  32,
		fnnLayer.ParamResidual:        true,
		fnnLayer.ParamNormalization:   "none",

		// KAN network parameters:
		"kan":                       false, // Enable kan
		kan.ParamNumControlPoints:   20,    // Number of control points
		kan.ParamNumHiddenNodes:     8,
		kan.ParamNumHiddenLayers:    1,
		kan.ParamBSplineDegree:      2,
		kan.ParamBSplineMagnitudeL1: 1e-5,
		kan.ParamBSplineMagnitudeL2: 0.0,
		kan.ParamResidual:           true,
	})
	fnn.ctx = fnn.ctx.Checked(false)
	fnn.inputSize, fnn.outputSize = inputSize, outputSize
	return fnn
}

// Context implements Model.
func (fnn *FNN) Context() *context.Context {
	return fnn.ctx
}

// SetSizes after the context has been loaded from a checkpoint.
func (fnn *FNN) SetSizes(inputSize, outputSize int) {
	fnn.inputSize, fnn.outputSize = inputSize, outputSize
	fnn.ctx.SetParam(ParamInputSize, inputSize)
	fnn.ctx.SetParam(ParamOutputSize, outputSize)
}

// paddedBatchSize returns a padded batchSize for the given number of examples.
// This is important so we don't have too many different versions of the program for every different batch size.
func paddedBatchSize(numExamples int) int {
	paddedSize := 1
	for paddedSize < numExamples {
		// Increase 1.5x at a time.
		paddedSize = paddedSize + (paddedSize+1)/2
	}
	return paddedSize
}

// CreateInputs implements Model.CreateInputs.
// It returns the padded states and the number of states used.
func (fnn *FNN) CreateInputs(states [][]float64) []*tensors.Tensor {
	numStates := len(states)
	stateVectors := tensors.FromShape(shapes.Make(dtypes.Float32, paddedBatchSize(numStates), fnn.inputSize))
	tensors.MutableFlatData(stateVectors, func(flat []float32) {
		for stateIdx, state := range states {
			row := flat[stateIdx*fnn.inputSize : (stateIdx+1)*fnn.inputSize]
			for ii, value := range state {
				row[ii] = float32(value)
			}
		}
	})
	return []*tensors.Tensor{stateVectors, tensors.FromScalar(int32(numStates))}
}

// CreateLabels implements Model.CreateLabels.
func (fnn *FNN) CreateLabels(targets [][]float64) *tensors.Tensor {
	labels := tensors.FromShape(shapes.Make(dtypes.Float32, paddedBatchSize(len(targets)), fnn.outputSize))
	tensors.MutableFlatData(labels, func(flat []float32) {
		for idx, target := range targets {
			row := flat[idx*fnn.outputSize : (idx+1)*fnn.outputSize]
			for ii, value := range target {
				row[ii] = float32(value)
			}
		}
	})
	return labels
}

// getBatchMask based on padding on the inputs, shaped [batch_size, output_size].
func (fnn *FNN) getBatchMask(inputs []*Node) *Node {
	x := inputs[0]
	numUsed := inputs[1]
	g := x.Graph()
	batchSize := x.Shape().Dim(0)
	batchMask := LessThan(Iota(g, shapes.Make(dtypes.Int32, batchSize, 1), 0), numUsed)
	return BroadcastToDims(batchMask, batchSize, fnn.outputSize)
}

// ForwardGraph calculates the Q-values of the states.
func (fnn *FNN) ForwardGraph(ctx *context.Context, inputs []*Node) *Node {
	x := inputs[0]
	batchSize := x.Shape().Dim(0)

	var qValues *Node
	if context.GetParamOr(ctx, "kan", false) {
		// Use KAN, all configured by context hyperparameters.
		qValues = kan.New(ctx.In("kan"), x, fnn.outputSize).Done()
	} else {
		// Normal FNN, all configured by context hyperparameters.
		qValues = fnnLayer.New(ctx.In("fnn"), x, fnn.outputSize).Done()
	}
	qValues.AssertDims(batchSize, fnn.outputSize)
	return qValues
}

// LossGraph calculates the mean squared error over the examples actually used (not padding).
func (fnn *FNN) LossGraph(ctx *context.Context, inputs []*Node, labels *Node) *Node {
	predictions := fnn.ForwardGraph(ctx, inputs)
	batchMask := fnn.getBatchMask(inputs)
	loss := losses.MeanSquaredError([]*Node{labels, batchMask}, []*Node{predictions})
	if !loss.IsScalar() {
		loss = ReduceAllMean(loss)
	}
	return loss
}
