// Package linear implements a pure Go linear approximator of the Q-values: one weight per state
// feature and move, plus one bias per move. It defines its own gradient, used by a simple SGD.
//
// With one-hot encoded states (like the gridworld and nim environments) it is equivalent to a
// Q-table.
package linear

import (
	"fmt"
	"math"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
)

// Linear model: Q(x)[move] = w[move] · x + b[move].
// It implements ai.Approximator.
type Linear struct {
	inputSize, outputSize int

	// weights are stored per move (output), each row with inputSize weights followed by the bias.
	weights []float64

	// LearningRate to use when training the linear model and L2Reg to use.
	LearningRate, L2Reg float64

	// GradientL2Clip clips the gradient to this l2 length before applying. If 0 there is no clipping.
	GradientL2Clip float64

	// muLearning "write" for learning, and "read" for Output.
	muLearning sync.RWMutex

	muSave sync.Mutex
}

var _ ai.Approximator = (*Linear)(nil)

// Default hyperparameters.
const (
	DefaultLearningRate   = 0.1
	DefaultL2Reg          = 0.0
	DefaultGradientL2Clip = 10.0
)

// New creates a zero-initialized Linear model.
func New(inputSize, outputSize int) (*Linear, error) {
	return NewWithWeights(inputSize, outputSize, make([]float64, outputSize*(inputSize+1)))
}

// NewWithWeights creates a new Linear model with the given weights: for each move, inputSize
// weights followed by its bias. Ownership of the weights is transferred.
func NewWithWeights(inputSize, outputSize int, weights []float64) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, errors.Errorf("linear model requires positive input and output sizes, got %d and %d", inputSize, outputSize)
	}
	if len(weights) != outputSize*(inputSize+1) {
		return nil, errors.Errorf("linear model %d -> %d requires %d weights (including biases), got %d",
			inputSize, outputSize, outputSize*(inputSize+1), len(weights))
	}
	return &Linear{
		inputSize:      inputSize,
		outputSize:     outputSize,
		weights:        weights,
		LearningRate:   DefaultLearningRate,
		L2Reg:          DefaultL2Reg,
		GradientL2Clip: DefaultGradientL2Clip,
	}, nil
}

// NewFromParams creates a zero-initialized Linear model configured by params, see ApplyParams.
func NewFromParams(inputSize, outputSize int, params parameters.Params) (*Linear, error) {
	l, err := New(inputSize, outputSize)
	if err != nil {
		return nil, err
	}
	if err = l.ApplyParams(params); err != nil {
		return nil, err
	}
	return l, nil
}

// ApplyParams pops the hyperparameters "learning_rate", "l2_reg" and "gradient_l2_clip" from params.
func (l *Linear) ApplyParams(params parameters.Params) (err error) {
	l.muLearning.Lock()
	defer l.muLearning.Unlock()
	for key, field := range map[string]*float64{
		"learning_rate":    &l.LearningRate,
		"l2_reg":           &l.L2Reg,
		"gradient_l2_clip": &l.GradientL2Clip,
	} {
		if *field, err = parameters.PopParamOr(params, key, *field); err != nil {
			return errors.WithMessage(err, "linear model")
		}
	}
	if l.LearningRate <= 0 || l.L2Reg < 0 || l.GradientL2Clip < 0 {
		return errors.Errorf("linear model requires learning_rate > 0, l2_reg >= 0 and gradient_l2_clip >= 0, got %g, %g and %g",
			l.LearningRate, l.L2Reg, l.GradientL2Clip)
	}
	return nil
}

// String implements fmt.Stringer and ai.Approximator.
func (l *Linear) String() string {
	return fmt.Sprintf("linear[%d->%d]", l.inputSize, l.outputSize)
}

// InputSize implements ai.Approximator.
func (l *Linear) InputSize() int { return l.inputSize }

// OutputSize implements ai.Approximator.
func (l *Linear) OutputSize() int { return l.outputSize }

// Output implements ai.Approximator.
func (l *Linear) Output(input []float64) []float64 {
	l.muLearning.RLock()
	defer l.muLearning.RUnlock()
	return l.output(input)
}

func (l *Linear) output(input []float64) []float64 {
	if len(input) != l.inputSize {
		exceptions.Panicf("%s takes inputs of size %d, got input of size %d", l, l.inputSize, len(input))
	}
	output := make([]float64, l.outputSize)
	for move := range output {
		row := l.row(move)
		// Sum starts with bias.
		sum := row[l.inputSize]
		for ii, x := range input {
			sum += x * row[ii]
		}
		output[move] = sum
	}
	return output
}

// row of weights of the move, with the bias as the last element.
func (l *Linear) row(move int) []float64 {
	return l.weights[move*(l.inputSize+1) : (move+1)*(l.inputSize+1)]
}

// GradientDescent implements ai.Approximator, with plain SGD over mini-batches.
// The model is small enough that parallel is ignored.
func (l *Linear) GradientDescent(pairs []ai.TrainingPair, batchSize, numEpochs int, _ bool) (loss float64, err error) {
	if len(pairs) == 0 {
		return 0, errors.New("linear.GradientDescent called with no training pairs")
	}
	if batchSize <= 0 || numEpochs <= 0 {
		return 0, errors.Errorf("linear.GradientDescent requires positive batch size and epochs, got %d and %d", batchSize, numEpochs)
	}
	if err = ai.CheckPairs(l, pairs); err != nil {
		return 0, err
	}
	l.muLearning.Lock()
	defer l.muLearning.Unlock()

	grad := make([]float64, len(l.weights))
	for range numEpochs {
		for start := 0; start < len(pairs); start += batchSize {
			batch := pairs[start:min(start+batchSize, len(pairs))]
			l.calculateGradient(batch, grad)

			// Clip gradient.
			if l.GradientL2Clip > 0 {
				clipL2(grad, l.GradientL2Clip)
			}

			// Apply gradient with the learning rate.
			for ii := range grad {
				l.weights[ii] -= l.LearningRate * grad[ii]
			}
		}
	}
	loss = l.loss(pairs)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, errors.Errorf("%s got non-finite loss %g training on %d examples", l, loss, len(pairs))
	}
	return loss, nil
}

// calculateGradient of the MSE (MeanSquaredError) loss:
//
//	  x, x_i: input and x term i
//	  w_m, w_mi: weights of move m, and its weight term i
//	  b_m: bias term of move m
//	  q_m: w_m*x+b_m
//	Loss = Sum_m (q_m - label_m)^2 / 2N + L2Reg * |w|^2
//	  dLoss/dw_mi = (q_m-label_m)*x_i/N + 2*L2Reg*w_mi
//	  dLoss/db_m = (q_m-label_m)/N
func (l *Linear) calculateGradient(pairs []ai.TrainingPair, gradient []float64) {
	for ii := range gradient {
		gradient[ii] = 0
	}
	n := float64(len(pairs))
	stride := l.inputSize + 1
	for _, pair := range pairs {
		q := l.output(pair.Input)
		for move, qValue := range q {
			c := (qValue - pair.Target[move]) / n
			gradRow := gradient[move*stride : (move+1)*stride]
			for ii, x := range pair.Input {
				gradRow[ii] += c * x
			}
			gradRow[l.inputSize] += c
		}
	}
	if l.L2Reg > 0 {
		for move := range l.outputSize {
			// Biases are not regularized.
			row := l.row(move)
			for ii := range l.inputSize {
				gradient[move*stride+ii] += 2 * l.L2Reg * row[ii]
			}
		}
	}
}

// Loss returns the loss of the model on the pairs, without training.
func (l *Linear) Loss(pairs []ai.TrainingPair) float64 {
	l.muLearning.RLock()
	defer l.muLearning.RUnlock()
	return l.loss(pairs)
}

func (l *Linear) loss(pairs []ai.TrainingPair) (loss float64) {
	for _, pair := range pairs {
		q := l.output(pair.Input)
		for move, qValue := range q {
			diff := qValue - pair.Target[move]
			loss += diff * diff / 2
		}
	}
	loss /= float64(len(pairs))
	if l.L2Reg > 0 {
		for move := range l.outputSize {
			for _, w := range l.row(move)[:l.inputSize] {
				loss += l.L2Reg * w * w
			}
		}
	}
	return
}

func l2Len(vec []float64) float64 {
	total := 0.0
	for _, value := range vec {
		total += value * value
	}
	return math.Sqrt(total)
}

// clipL2 clips the L2 length of the vector.
func clipL2(vec []float64, maxLen float64) {
	l2 := l2Len(vec)
	if l2 > maxLen {
		ratio := maxLen / l2
		for ii := range vec {
			vec[ii] *= ratio
		}
	}
}
