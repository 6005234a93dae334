package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W + b
// where:
//   - x is the input with shape [batch_size, in_channels]
//   - W is the weight matrix with shape [in_channels, out_channels]
//   - b is the bias vector with shape [out_channels]
//   - y is the output with shape [batch_size, out_channels]
//
// Weights are initialized from a normal distribution scaled by
// 1/sqrt(in_channels); biases are initialized to zeros. Dimensions are
// fixed at construction and never change.
type Linear struct {
	inChannels  int
	outChannels int
	weights     *mat.Dense    // [in_channels, out_channels]
	bias        *mat.VecDense // [out_channels]

	// Single-slot cache of the most recent Forward input. Overwritten on
	// every Forward call; nil until the first one.
	input *mat.Dense

	eval bool
}

var _ Layer = (*Linear)(nil)

// NewLinear creates a new Linear layer.
//
// rng seeds the weight initialization; pass nil for a time-seeded source.
func NewLinear(inChannels, outChannels int, rng *rand.Rand) (*Linear, error) {
	if inChannels <= 0 {
		return nil, fmt.Errorf("linear: in_channels must be positive, got %d", inChannels)
	}
	if outChannels <= 0 {
		return nil, fmt.Errorf("linear: out_channels must be positive, got %d", outChannels)
	}

	return &Linear{
		inChannels:  inChannels,
		outChannels: outChannels,
		weights:     randomWeights(inChannels, outChannels, newRand(rng)),
		bias:        mat.NewVecDense(outChannels, nil),
	}, nil
}

// LinearFromState restores a Linear layer from a serialized snapshot.
func LinearFromState(state LayerState) (*Linear, error) {
	if state.Class != linearClass {
		return nil, fmt.Errorf("linear: invalid class %q in state, want %q", state.Class, linearClass)
	}
	if state.InChannels <= 0 || state.OutChannels <= 0 {
		return nil, fmt.Errorf("linear: invalid dimensions %dx%d in state", state.InChannels, state.OutChannels)
	}
	if len(state.Weights) != state.InChannels*state.OutChannels {
		return nil, fmt.Errorf("linear: state has %d weights, want %d",
			len(state.Weights), state.InChannels*state.OutChannels)
	}
	if len(state.Bias) != state.OutChannels {
		return nil, fmt.Errorf("linear: state has %d bias values, want %d",
			len(state.Bias), state.OutChannels)
	}

	weights := mat.NewDense(state.InChannels, state.OutChannels, append([]float64(nil), state.Weights...))
	bias := mat.NewVecDense(state.OutChannels, append([]float64(nil), state.Bias...))
	return &Linear{
		inChannels:  state.InChannels,
		outChannels: state.OutChannels,
		weights:     weights,
		bias:        bias,
	}, nil
}

// Forward computes y = x @ W + b and caches the input for the next Update.
//
// Input shape: [batch_size, in_channels]. The cache holds one slot only, so
// gradients can be computed for the most recent call alone.
func (l *Linear) Forward(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	if cols != l.inChannels {
		return nil, &ShapeError{
			Op:   "Linear.Forward",
			Want: fmt.Sprintf("[batch, %d]", l.inChannels),
			Got:  fmt.Sprintf("[%d, %d]", rows, cols),
		}
	}

	var out mat.Dense
	out.Mul(input, l.weights)
	out.Apply(func(_, j int, v float64) float64 {
		return v + l.bias.AtVec(j)
	}, &out)

	l.input = mat.DenseCopyOf(input)
	return &out, nil
}

// Update performs the backward pass and the parameter update in one step.
//
// Given the gradient of the loss with respect to this layer's output, it
// computes:
//
//	dW = xᵀ @ grad          (outer product with the cached input)
//	db = column sums of grad
//	dx = grad @ Wᵀ          (returned, for the layer upstream)
//
// and then mutates W -= lr*dW and b -= lr*db in place. The incoming
// gradient is already batch-scaled by the loss; no extra averaging happens
// here.
func (l *Linear) Update(outputGrad *mat.Dense, learningRate float64) (*mat.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("Linear.Update: %w", ErrNotComputed)
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("Linear.Update: learning rate must be positive, got %g", learningRate)
	}

	batch, _ := l.input.Dims()
	gradRows, gradCols := outputGrad.Dims()
	if gradRows != batch || gradCols != l.outChannels {
		return nil, &ShapeError{
			Op:   "Linear.Update",
			Want: fmt.Sprintf("[%d, %d]", batch, l.outChannels),
			Got:  fmt.Sprintf("[%d, %d]", gradRows, gradCols),
		}
	}

	// Gradient w.r.t. the input, for the next layer upstream.
	var inputGrad mat.Dense
	inputGrad.Mul(outputGrad, l.weights.T())

	// Gradient w.r.t. the weights.
	var weightGrad mat.Dense
	weightGrad.Mul(l.input.T(), outputGrad)

	// Gradient w.r.t. the bias: column sums of the output gradient.
	biasGrad := mat.NewVecDense(l.outChannels, nil)
	for j := 0; j < l.outChannels; j++ {
		var sum float64
		for i := 0; i < gradRows; i++ {
			sum += outputGrad.At(i, j)
		}
		biasGrad.SetVec(j, sum)
	}

	// In-place SGD step: param -= lr * grad.
	weightGrad.Scale(learningRate, &weightGrad)
	l.weights.Sub(l.weights, &weightGrad)
	l.bias.AddScaledVec(l.bias, -learningRate, biasGrad)

	return &inputGrad, nil
}

// InChannels returns the input vector size.
func (l *Linear) InChannels() int {
	return l.inChannels
}

// OutChannels returns the output vector size.
func (l *Linear) OutChannels() int {
	return l.outChannels
}

// SetEval toggles evaluation mode. Linear has no training-only behavior,
// so this only records the flag.
func (l *Linear) SetEval(eval bool) {
	l.eval = eval
}

// Weights returns the weight matrix. The caller must not resize it.
func (l *Linear) Weights() *mat.Dense {
	return l.weights
}

// Bias returns the bias vector.
func (l *Linear) Bias() *mat.VecDense {
	return l.bias
}

// State returns a serializable snapshot of the layer.
func (l *Linear) State() LayerState {
	weights := make([]float64, 0, l.inChannels*l.outChannels)
	for i := 0; i < l.inChannels; i++ {
		weights = append(weights, l.weights.RawRowView(i)...)
	}
	bias := append([]float64(nil), l.bias.RawVector().Data...)
	return LayerState{
		Class:       linearClass,
		InChannels:  l.inChannels,
		OutChannels: l.outChannels,
		Weights:     weights,
		Bias:        bias,
	}
}

// Equal reports whether two layers have the same dimensions and parameters.
func (l *Linear) Equal(other *Linear) bool {
	return l.inChannels == other.inChannels &&
		l.outChannels == other.outChannels &&
		mat.Equal(l.weights, other.weights) &&
		mat.Equal(l.bias, other.bias)
}
