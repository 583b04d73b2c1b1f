// Package mlp implements a pure Go multi-layer perceptron approximator: ReLU hidden layers,
// an identity output layer, and minibatch SGD on the mean squared error.
//
// It has no dependencies beyond gonum, and it is the default approximator.
package mlp

import (
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/qlearner/internal/ai"
	"github.com/janpfeifer/qlearner/internal/generics"
	"github.com/janpfeifer/qlearner/internal/parameters"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Config of the network shape and of its optimizer.
type Config struct {
	// HiddenNodes lists the size of each hidden layer. If empty, NumHiddenLayers sizes are
	// interpolated linearly from the input size to the output size.
	HiddenNodes []int

	// NumHiddenLayers used when HiddenNodes is empty.
	NumHiddenLayers int

	// MinHiddenNodes is the smallest size of an interpolated hidden layer.
	MinHiddenNodes int

	// LearningRate of the SGD.
	LearningRate float64

	// GradientL2Clip clips the gradient to this l2 length before applying. 0 disables it.
	GradientL2Clip float64

	// Seed used to initialize the weights. If 0 a random seed is used.
	Seed uint64
}

// DefaultConfig returns 2 interpolated hidden layers and a learning rate of 0.001.
func DefaultConfig() Config {
	return Config{
		NumHiddenLayers: 2,
		MinHiddenNodes:  8,
		LearningRate:    0.001,
		GradientL2Clip:  10,
	}
}

// ConfigFromParams overwrites base with the values in params, popping the keys it uses:
//
//   - hidden_layers: number of interpolated hidden layers.
//   - hidden_nodes: explicit hidden layer sizes, separated by "x", e.g. "64x32".
//   - min_hidden_nodes, learning_rate, gradient_l2_clip, seed.
func ConfigFromParams(base Config, params parameters.Params) (Config, error) {
	c := base
	var err error
	if c.NumHiddenLayers, err = parameters.PopParamOr(params, "hidden_layers", c.NumHiddenLayers); err != nil {
		return c, err
	}
	if c.MinHiddenNodes, err = parameters.PopParamOr(params, "min_hidden_nodes", c.MinHiddenNodes); err != nil {
		return c, err
	}
	if c.LearningRate, err = parameters.PopParamOr(params, "learning_rate", c.LearningRate); err != nil {
		return c, err
	}
	if c.GradientL2Clip, err = parameters.PopParamOr(params, "gradient_l2_clip", c.GradientL2Clip); err != nil {
		return c, err
	}
	seed, err := parameters.PopParamOr(params, "seed", int(c.Seed))
	if err != nil {
		return c, err
	}
	c.Seed = uint64(seed)
	hiddenNodes, _ := parameters.PopParamOr(params, "hidden_nodes", "")
	if hiddenNodes != "" {
		c.HiddenNodes = nil
		for _, part := range strings.Split(hiddenNodes, "x") {
			n, err := strconv.Atoi(part)
			if err != nil || n <= 0 {
				return c, errors.Errorf("invalid hidden_nodes=%q, it should be a list of positive sizes separated by \"x\"", hiddenNodes)
			}
			c.HiddenNodes = append(c.HiddenNodes, n)
		}
	}
	return c, c.Validate()
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if len(c.HiddenNodes) == 0 && c.NumHiddenLayers < 0 {
		return errors.Errorf("hidden_layers must be >= 0, got %d", c.NumHiddenLayers)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0, got %g", c.LearningRate)
	}
	if c.GradientL2Clip < 0 {
		return errors.Errorf("gradient_l2_clip must be >= 0, got %g", c.GradientL2Clip)
	}
	return nil
}

// LayerSizes returns the size of every layer, including input and output.
func LayerSizes(inputSize, outputSize int, config Config) []int {
	if len(config.HiddenNodes) > 0 {
		sizes := []int{inputSize}
		sizes = append(sizes, config.HiddenNodes...)
		return append(sizes, outputSize)
	}
	numLayers := config.NumHiddenLayers + 2
	sizes := make([]int, numLayers)
	start, end := float64(inputSize), float64(outputSize)
	step := 1.0 / float64(numLayers-1)
	for ii := range sizes {
		sizes[ii] = int(start + float64(ii)*step*(end-start))
		if ii > 0 && ii < numLayers-1 {
			sizes[ii] = max(sizes[ii], config.MinHiddenNodes, 1)
		}
	}
	sizes[0], sizes[numLayers-1] = inputSize, outputSize
	return sizes
}

// MLP is a fully connected feed-forward network. It implements ai.Approximator.
type MLP struct {
	sizes   []int
	weights []*mat.Dense    // weights[l] has shape [sizes[l+1], sizes[l]].
	biases  []*mat.VecDense // biases[l] has size sizes[l+1].
	config  Config

	// Serializes training, and Output while training.
	muLearning sync.RWMutex

	muSave sync.Mutex
}

// Assert MLP is an ai.Approximator.
var _ ai.Approximator = (*MLP)(nil)

// New creates a new MLP with He initialized weights and zero biases.
func New(inputSize, outputSize int, config Config) (*MLP, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, errors.Errorf("mlp requires positive input and output sizes, got %d and %d", inputSize, outputSize)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	m := &MLP{
		sizes:  LayerSizes(inputSize, outputSize, config),
		config: config,
	}
	for l := range len(m.sizes) - 1 {
		fanIn, fanOut := m.sizes[l], m.sizes[l+1]
		stddev := math.Sqrt(2 / float64(fanIn))
		data := make([]float64, fanIn*fanOut)
		for ii := range data {
			data[ii] = rng.NormFloat64() * stddev
		}
		m.weights = append(m.weights, mat.NewDense(fanOut, fanIn, data))
		m.biases = append(m.biases, mat.NewVecDense(fanOut, nil))
	}
	klog.V(1).Infof("Created %s", m)
	return m, nil
}

// String implements ai.Approximator.
func (m *MLP) String() string {
	return fmt.Sprintf("mlp%v", m.sizes)
}

// InputSize implements ai.Approximator.
func (m *MLP) InputSize() int { return m.sizes[0] }

// OutputSize implements ai.Approximator.
func (m *MLP) OutputSize() int { return m.sizes[len(m.sizes)-1] }

// Sizes of the layers, including input and output.
func (m *MLP) Sizes() []int { return m.sizes }

// Config returns the configuration of the network.
func (m *MLP) Config() Config { return m.config }

// SetLearningRate changes the SGD step used by the next GradientDescent.
func (m *MLP) SetLearningRate(learningRate float64) {
	m.muLearning.Lock()
	defer m.muLearning.Unlock()
	m.config.LearningRate = learningRate
}

// SetGradientL2Clip changes the clipping of the gradient used by the next GradientDescent.
func (m *MLP) SetGradientL2Clip(clip float64) {
	m.muLearning.Lock()
	defer m.muLearning.Unlock()
	m.config.GradientL2Clip = clip
}

// Output implements ai.Approximator.
func (m *MLP) Output(input []float64) []float64 {
	m.muLearning.RLock()
	defer m.muLearning.RUnlock()
	activations, _ := m.forward(input)
	output := activations[len(activations)-1]
	return toSlice(output)
}

// forward returns the activations of every layer (starting with the input) and the
// pre-activations of every layer after the input.
func (m *MLP) forward(input []float64) (activations, preActivations []*mat.VecDense) {
	if len(input) != m.InputSize() {
		exceptions.Panicf("%s takes inputs of size %d, got input of size %d", m, m.InputSize(), len(input))
	}
	a := mat.NewVecDense(len(input), append([]float64(nil), input...))
	activations = make([]*mat.VecDense, 0, len(m.sizes))
	preActivations = make([]*mat.VecDense, 0, len(m.weights))
	activations = append(activations, a)
	lastLayer := len(m.weights) - 1
	for l, w := range m.weights {
		z := mat.NewVecDense(m.sizes[l+1], nil)
		z.MulVec(w, a)
		z.AddVec(z, m.biases[l])
		preActivations = append(preActivations, z)
		if l < lastLayer {
			a = relu(z)
		} else {
			a = z
		}
		activations = append(activations, a)
	}
	return
}

func relu(z *mat.VecDense) *mat.VecDense {
	a := mat.NewVecDense(z.Len(), nil)
	for ii := range z.Len() {
		if v := z.AtVec(ii); v > 0 {
			a.SetVec(ii, v)
		}
	}
	return a
}

func toSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for ii := range out {
		out[ii] = v.AtVec(ii)
	}
	return out
}

// gradients holds one gradient per parameter of the MLP.
type gradients struct {
	weights []*mat.Dense
	biases  []*mat.VecDense
}

func (m *MLP) newGradients() *gradients {
	g := &gradients{}
	for l := range m.weights {
		g.weights = append(g.weights, mat.NewDense(m.sizes[l+1], m.sizes[l], nil))
		g.biases = append(g.biases, mat.NewVecDense(m.sizes[l+1], nil))
	}
	return g
}

// add other to g.
func (g *gradients) add(other *gradients) {
	for l := range g.weights {
		g.weights[l].Add(g.weights[l], other.weights[l])
		g.biases[l].AddVec(g.biases[l], other.biases[l])
	}
}

// scale all gradients by f.
func (g *gradients) scale(f float64) {
	for l := range g.weights {
		g.weights[l].Scale(f, g.weights[l])
		g.biases[l].ScaleVec(f, g.biases[l])
	}
}

// l2Len of all the gradients taken as one vector.
func (g *gradients) l2Len() float64 {
	var total float64
	for l := range g.weights {
		norm := mat.Norm(g.weights[l], 2)
		total += norm * norm
		bNorm := mat.Norm(g.biases[l], 2)
		total += bNorm * bNorm
	}
	return math.Sqrt(total)
}

// clipL2 clips the L2 length of the gradients.
func (g *gradients) clipL2(maxLen float64) {
	l2 := g.l2Len()
	if l2 > maxLen {
		ratio := maxLen / l2
		klog.V(2).Infof("clip: l2=%g, maxLen=%g, ratio=%g", l2, maxLen, ratio)
		g.scale(ratio)
	}
}

// accumulateGradient of the loss 0.5*sum((output-target)^2) for one example into g, and returns its loss.
//
// Backpropagation:
//
//	delta_L = output - target  (identity output)
//	dLoss/dW_l = delta_{l+1} * a_l^T
//	dLoss/db_l = delta_{l+1}
//	delta_l = (W_l^T * delta_{l+1}) .* relu'(z_l)
func (m *MLP) accumulateGradient(pair ai.TrainingPair, g *gradients) float64 {
	activations, preActivations := m.forward(pair.Input)
	output := activations[len(activations)-1]
	delta := mat.NewVecDense(output.Len(), nil)
	var loss float64
	for ii := range output.Len() {
		diff := output.AtVec(ii) - pair.Target[ii]
		delta.SetVec(ii, diff)
		loss += diff * diff / 2
	}
	outer := &mat.Dense{}
	for l := len(m.weights) - 1; l >= 0; l-- {
		outer.Reset()
		outer.Outer(1, delta, activations[l])
		g.weights[l].Add(g.weights[l], outer)
		g.biases[l].AddVec(g.biases[l], delta)
		if l == 0 {
			break
		}
		previous := mat.NewVecDense(m.sizes[l], nil)
		previous.MulVec(m.weights[l].T(), delta)
		z := preActivations[l-1]
		for ii := range previous.Len() {
			if z.AtVec(ii) <= 0 {
				previous.SetVec(ii, 0)
			}
		}
		delta = previous
	}
	return loss
}

// batchGradient returns the mean gradient and the mean loss over the batch.
func (m *MLP) batchGradient(batch []ai.TrainingPair, parallel bool) (*gradients, float64, error) {
	numWorkers := 1
	if parallel {
		numWorkers = min(runtime.NumCPU(), len(batch))
	}
	partials := make([]*gradients, numWorkers)
	losses := make([]float64, numWorkers)
	var g errgroup.Group
	for worker := range numWorkers {
		g.Go(func() error {
			partial := m.newGradients()
			for ii := worker; ii < len(batch); ii += numWorkers {
				loss := m.accumulateGradient(batch[ii], partial)
				if math.IsNaN(loss) || math.IsInf(loss, 0) {
					return errors.Errorf("%s got non-finite loss %g for training example", m, loss)
				}
				losses[worker] += loss
			}
			partials[worker] = partial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	total := partials[0]
	var loss float64
	for worker, partial := range partials {
		if worker > 0 {
			total.add(partial)
		}
		loss += losses[worker]
	}
	n := float64(len(batch))
	total.scale(1 / n)
	return total, loss / n, nil
}

// GradientDescent implements ai.Approximator.
// The pairs are visited in order: callers are expected to shuffle them.
func (m *MLP) GradientDescent(pairs []ai.TrainingPair, batchSize, numEpochs int, parallel bool) (loss float64, err error) {
	if len(pairs) == 0 {
		return 0, errors.New("mlp.GradientDescent called with no training pairs")
	}
	if batchSize <= 0 || numEpochs <= 0 {
		return 0, errors.Errorf("mlp.GradientDescent requires positive batch size and epochs, got %d and %d", batchSize, numEpochs)
	}
	if err = ai.CheckPairs(m, pairs); err != nil {
		return 0, err
	}
	m.muLearning.Lock()
	defer m.muLearning.Unlock()

	for range numEpochs {
		loss = 0
		for start := 0; start < len(pairs); start += batchSize {
			batch := pairs[start:min(start+batchSize, len(pairs))]
			grad, batchLoss, err := m.batchGradient(batch, parallel)
			if err != nil {
				return 0, err
			}
			loss += batchLoss * float64(len(batch))
			if m.config.GradientL2Clip > 0 {
				grad.clipL2(m.config.GradientL2Clip)
			}
			grad.scale(m.config.LearningRate)
			for l := range m.weights {
				m.weights[l].Sub(m.weights[l], grad.weights[l])
				m.biases[l].SubVec(m.biases[l], grad.biases[l])
			}
		}
		loss /= float64(len(pairs))
	}
	return loss, nil
}

// Loss returns the mean loss 0.5*sum((output-target)^2) over the pairs, without training.
func (m *MLP) Loss(pairs []ai.TrainingPair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	losses := generics.SliceMap(pairs, func(pair ai.TrainingPair) (loss float64) {
		for ii, value := range m.Output(pair.Input) {
			diff := value - pair.Target[ii]
			loss += diff * diff / 2
		}
		return
	})
	return generics.Mean(losses)
}
