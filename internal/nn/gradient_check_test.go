package nn_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/ember-ml/ember/internal/nn"
)

// lossForWeights evaluates the scalar loss as a pure function of the
// flattened weight matrix, with the input, bias and labels held fixed.
func lossForWeights(t *testing.T, in, out int, bias, input []float64, batch int, labels []int, reduction nn.Reduction) func([]float64) float64 {
	t.Helper()
	return func(weights []float64) float64 {
		layer, err := nn.LinearFromState(nn.LayerState{
			Class:       "Linear",
			InChannels:  in,
			OutChannels: out,
			Weights:     weights,
			Bias:        bias,
		})
		require.NoError(t, err)

		logits, err := layer.Forward(mat.NewDense(batch, in, input))
		require.NoError(t, err)

		loss, err := nn.NewCrossEntropyLoss(reduction)
		require.NoError(t, err)
		value, err := loss.ForwardLabels(logits, labels)
		require.NoError(t, err)
		return value
	}
}

// TestWeightGradientMatchesFiniteDifference verifies the analytic weight
// and bias gradients applied by Update against central finite differences
// of the loss.
func TestWeightGradientMatchesFiniteDifference(t *testing.T) {
	const (
		in    = 3
		out   = 4
		batch = 2
		lr    = 1.0
	)
	weights := []float64{
		0.2, -0.4, 0.1, 0.7,
		-0.3, 0.5, 0.05, -0.1,
		0.6, 0.0, -0.2, 0.3,
	}
	bias := []float64{0.1, -0.2, 0.0, 0.4}
	input := []float64{
		0.5, -1.2, 0.8,
		1.5, 0.3, -0.7,
	}
	labels := []int{1, 3}

	for _, reduction := range []nn.Reduction{nn.Mean, nn.Sum} {
		t.Run(reduction.String(), func(t *testing.T) {
			// Analytic gradient, recovered from the in-place update:
			// dW = (W_before - W_after) / lr.
			layer, err := nn.LinearFromState(nn.LayerState{
				Class:       "Linear",
				InChannels:  in,
				OutChannels: out,
				Weights:     append([]float64(nil), weights...),
				Bias:        append([]float64(nil), bias...),
			})
			require.NoError(t, err)

			logits, err := layer.Forward(mat.NewDense(batch, in, append([]float64(nil), input...)))
			require.NoError(t, err)
			loss, err := nn.NewCrossEntropyLoss(reduction)
			require.NoError(t, err)
			_, err = loss.ForwardLabels(logits, labels)
			require.NoError(t, err)
			grad, err := loss.Backward()
			require.NoError(t, err)
			_, err = layer.Update(grad, lr)
			require.NoError(t, err)

			analytic := make([]float64, len(weights))
			for i := 0; i < in; i++ {
				for j := 0; j < out; j++ {
					analytic[i*out+j] = (weights[i*out+j] - layer.Weights().At(i, j)) / lr
				}
			}

			numeric := fd.Gradient(nil,
				lossForWeights(t, in, out, bias, input, batch, labels, reduction),
				weights,
				&fd.Settings{Formula: fd.Central},
			)

			for k := range analytic {
				require.InDelta(t, numeric[k], analytic[k], 1e-6, "weight %d", k)
			}

			// Bias gradient the same way.
			analyticBias := make([]float64, out)
			for j := 0; j < out; j++ {
				analyticBias[j] = (bias[j] - layer.Bias().AtVec(j)) / lr
			}
			numericBias := fd.Gradient(nil, func(b []float64) float64 {
				return lossForWeights(t, in, out, b, input, batch, labels, reduction)(weights)
			}, bias, &fd.Settings{Formula: fd.Central})

			for j := range analyticBias {
				require.InDelta(t, numericBias[j], analyticBias[j], 1e-6, "bias %d", j)
			}
		})
	}
}

// TestInputGradientMatchesFiniteDifference verifies the gradient a layer
// hands upstream against finite differences of the loss with respect to
// the layer input, across a two-layer chain. This exercises the invariant
// that batch averaging happens exactly once, in the loss.
func TestInputGradientMatchesFiniteDifference(t *testing.T) {
	const (
		in     = 4
		hidden = 3
		out    = 2
		batch  = 3
	)

	first := nn.LayerState{
		Class:       "Linear",
		InChannels:  in,
		OutChannels: hidden,
		Weights: []float64{
			0.3, -0.2, 0.5,
			0.1, 0.4, -0.6,
			-0.5, 0.2, 0.1,
			0.7, -0.1, 0.2,
		},
		Bias: []float64{0.05, -0.3, 0.2},
	}
	second := nn.LayerState{
		Class:       "Linear",
		InChannels:  hidden,
		OutChannels: out,
		Weights: []float64{
			0.4, -0.3,
			-0.2, 0.6,
			0.1, 0.5,
		},
		Bias: []float64{-0.1, 0.2},
	}
	input := []float64{
		0.2, -0.5, 1.1, 0.4,
		-0.9, 0.3, 0.0, 0.7,
		0.6, 0.6, -0.4, -0.2,
	}
	labels := []int{0, 1, 0}

	chainLoss := func(x []float64) float64 {
		l1, err := nn.LinearFromState(first)
		require.NoError(t, err)
		l2, err := nn.LinearFromState(second)
		require.NoError(t, err)

		h, err := l1.Forward(mat.NewDense(batch, in, append([]float64(nil), x...)))
		require.NoError(t, err)
		logits, err := l2.Forward(h)
		require.NoError(t, err)

		loss, err := nn.NewCrossEntropyLoss(nn.Mean)
		require.NoError(t, err)
		value, err := loss.ForwardLabels(logits, labels)
		require.NoError(t, err)
		return value
	}

	// Analytic input gradient via the full backward chain.
	l1, err := nn.LinearFromState(first)
	require.NoError(t, err)
	l2, err := nn.LinearFromState(second)
	require.NoError(t, err)
	h, err := l1.Forward(mat.NewDense(batch, in, append([]float64(nil), input...)))
	require.NoError(t, err)
	logits, err := l2.Forward(h)
	require.NoError(t, err)
	loss, err := nn.NewCrossEntropyLoss(nn.Mean)
	require.NoError(t, err)
	_, err = loss.ForwardLabels(logits, labels)
	require.NoError(t, err)
	grad, err := loss.Backward()
	require.NoError(t, err)
	grad, err = l2.Update(grad, 0.01)
	require.NoError(t, err)
	grad, err = l1.Update(grad, 0.01)
	require.NoError(t, err)

	numeric := fd.Gradient(nil, chainLoss, input, &fd.Settings{Formula: fd.Central})

	for i := 0; i < batch; i++ {
		for j := 0; j < in; j++ {
			require.InDelta(t, numeric[i*in+j], grad.At(i, j), 1e-6, "input (%d,%d)", i, j)
		}
	}
}
