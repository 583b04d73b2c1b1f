// Package ai (Artificial Intelligence) defines the interface the Q-learning engine uses to
// query and train its action-value (Q) model, and a registry of the available implementations.
package ai

import (
	"math"

	"github.com/janpfeifer/qlearner/internal/generics"
	"github.com/pkg/errors"
)

// ErrNonFiniteQValue is returned when an approximator predicts NaN or infinity for a legal move.
var ErrNonFiniteQValue = errors.New("non-finite Q-value")

// TrainingPair is one labeled example: the state vector and the full vector of desired Q-values,
// one per move in the environment's global move ordering.
type TrainingPair struct {
	Input, Target []float64
}

// Approximator is a trainable function from a state vector to one Q-value per move.
//
// Output must be safe to call concurrently, GradientDescent and WriteToDirectory are
// serialized by the implementations.
type Approximator interface {
	// Output returns the predicted Q-values for the given state vector.
	// The returned slice is owned by the caller.
	Output(input []float64) []float64

	// GradientDescent trains on pairs for numEpochs, in minibatches of batchSize.
	// If parallel is true the implementation may compute per-example gradients concurrently.
	// It returns the mean loss over the last epoch.
	GradientDescent(pairs []TrainingPair, batchSize, numEpochs int, parallel bool) (loss float64, err error)

	// WriteToDirectory saves the parameters of the model under dir, creating it if needed.
	WriteToDirectory(dir string) error

	// InputSize is the dimension of the state vector accepted.
	InputSize() int

	// OutputSize is the number of Q-values returned, the number of moves.
	OutputSize() int

	// String returns the model name.
	String() string
}

// MaxValidOutput returns the index and value of the largest q-value for which valid(index) is true.
// Ties are resolved in favor of the lowest index.
// If no index is valid it returns -1 and negative infinity.
//
// It fails with ErrNonFiniteQValue if the value of a valid index is NaN or infinite.
func MaxValidOutput(qValues []float64, valid func(idx int) bool) (bestIdx int, bestValue float64, err error) {
	var indices []int
	var values []float64
	for idx, value := range qValues {
		if !valid(idx) {
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return -1, value, errors.WithMessagef(ErrNonFiniteQValue, "q-value #%d is %g", idx, value)
		}
		indices = append(indices, idx)
		values = append(values, value)
	}
	if len(values) == 0 {
		return -1, math.Inf(-1), nil
	}
	best := generics.ArgMax(values)
	return indices[best], values[best], nil
}

// CheckPairs validates that all pairs have the dimensions of the given approximator.
func CheckPairs(a Approximator, pairs []TrainingPair) error {
	for ii, pair := range pairs {
		if len(pair.Input) != a.InputSize() {
			return errors.Errorf("training pair #%d has input of size %d, but %s takes inputs of size %d",
				ii, len(pair.Input), a, a.InputSize())
		}
		if len(pair.Target) != a.OutputSize() {
			return errors.Errorf("training pair #%d has target of size %d, but %s outputs %d values",
				ii, len(pair.Target), a, a.OutputSize())
		}
	}
	return nil
}
