// Package nn implements the neural network building blocks for the Ember
// training engine.
//
// This package provides:
//   - Layer interface: Base capability for all parametric transformations
//   - Linear: Fully connected layer with hand-derived gradients
//   - CrossEntropyLoss: Numerically stable softmax cross-entropy
//   - Reduction: Closed set of strategies for collapsing per-sample losses
//
// There is no automatic differentiation. Each Layer owns the gradient math
// for its own parameters and for the gradient it passes upstream, so layers
// compose into an arbitrary sequential chain:
//
//	h, _ := layer1.Forward(x)
//	logits, _ := layer2.Forward(h)
//	loss, _ := criterion.ForwardLabels(logits, labels)
//	grad, _ := criterion.Backward()
//	grad, _ = layer2.Update(grad, lr)
//	grad, _ = layer1.Update(grad, lr)
//
// Design inspired by PyTorch's nn.Module, adapted to explicit Go error
// handling and gonum matrices.
package nn

import (
	"gonum.org/v1/gonum/mat"
)

// Layer is the capability set every parametric transformation in a model
// chain must provide.
//
// A Layer is a two-state machine: it starts uninitialized, and each Forward
// call caches exactly one input (a single slot, not a stack) and moves the
// layer to the computed state. Update is only legal in the computed state;
// calling Forward twice before Update discards the first call's cache.
type Layer interface {
	// Forward consumes a batch of row vectors of size InChannels and
	// returns a batch of row vectors of size OutChannels. The input is
	// cached for the next Update call.
	Forward(input *mat.Dense) (*mat.Dense, error)

	// Update consumes the gradient of the loss with respect to this
	// layer's output (same shape as the last Forward output), mutates the
	// layer's parameters in place and returns the gradient with respect
	// to this layer's input, for the layer upstream to consume.
	//
	// The incoming gradient arrives already batch-scaled by the loss;
	// layers must not re-average it.
	Update(outputGrad *mat.Dense, learningRate float64) (*mat.Dense, error)

	// InChannels returns the size of the input vectors.
	InChannels() int

	// OutChannels returns the size of the output vectors.
	OutChannels() int

	// SetEval toggles evaluation mode. Linear layers behave identically
	// in both modes; the hook exists for variants with training-only
	// behavior. Setting the current value is a no-op.
	SetEval(eval bool)

	// State returns a serializable snapshot of the layer's configuration
	// and learned parameters.
	State() LayerState
}

// Argmax returns the index of the largest value in each row of m.
//
// Used to turn logits into predicted class indices.
func Argmax(m *mat.Dense) []int {
	rows, cols := m.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		best := 0
		bestVal := m.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := m.At(i, j); v > bestVal {
				bestVal = v
				best = j
			}
		}
		out[i] = best
	}
	return out
}
