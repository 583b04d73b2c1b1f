package gomlx

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
)

// Model is a GoMLX supported Q-value model, the backend of the gomlx.Approximator.
type Model interface {
	// Context used by the model: with both it weights and hyperparameters.
	Context() *context.Context

	// CreateInputs for a batch of state vectors as tensors.
	// It should also do the padding.
	CreateInputs(states [][]float64) []*tensors.Tensor

	// CreateLabels tensor for the desired Q-values of a batch.
	// It should also do the padding to match the inputs.
	CreateLabels(targets [][]float64) *tensors.Tensor

	// ForwardGraph is the GoMLX model graph function with the forward path.
	// It must return the Q-values for each state, shaped [batch_size, output_size].
	ForwardGraph(ctx *context.Context, inputs []*graph.Node) *graph.Node

	// LossGraph should calculate the loss given the inputs and the labels (shaped [batch_size, output_size]).
	// It must return a scalar with the loss value.
	LossGraph(ctx *context.Context, inputs []*graph.Node, labels *graph.Node) *graph.Node
}
