package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CrossEntropyLoss computes softmax cross-entropy for multi-class
// classification.
//
// The loss follows a two-phase contract: Forward scores a batch of logits
// against targets and caches the computed probabilities and targets;
// Backward then returns the gradient with respect to the logits from that
// cache. The cache holds one slot, overwritten by each Forward, and calling
// Backward before any Forward is an invalid-state error.
//
// Numerical stability: the row-wise maximum is subtracted before
// exponentiating, and the log term uses the stabilized values directly
// (log-sum-exp) rather than log(softmax(x)), which would reintroduce
// cancellation error.
//
// Gradient:
//
//	∂L/∂logits = probabilities - targets
//
// divided by the batch size when the reduction is Mean. This is the single
// point of batch normalization in the whole chain; layers consume the
// gradient as-is.
type CrossEntropyLoss struct {
	reduction Reduction

	// Cache from the most recent Forward; both nil until the first call.
	probabilities *mat.Dense
	targets       *mat.Dense
}

// NewCrossEntropyLoss creates a cross-entropy loss with the given
// reduction strategy.
func NewCrossEntropyLoss(reduction Reduction) (*CrossEntropyLoss, error) {
	if !reduction.valid() {
		return nil, fmt.Errorf("cross entropy: invalid reduction %d", int(reduction))
	}
	return &CrossEntropyLoss{reduction: reduction}, nil
}

// LossFromState restores a loss from a serialized snapshot.
func LossFromState(state LossState) (*CrossEntropyLoss, error) {
	if state.Class != crossEntropyClass {
		return nil, fmt.Errorf("cross entropy: invalid class %q in state, want %q",
			state.Class, crossEntropyClass)
	}
	reduction, err := ParseReduction(state.Reduction)
	if err != nil {
		return nil, fmt.Errorf("cross entropy: %w", err)
	}
	return &CrossEntropyLoss{reduction: reduction}, nil
}

// Reduction returns the configured reduction strategy.
func (c *CrossEntropyLoss) Reduction() Reduction {
	return c.reduction
}

// Forward computes the loss for raw (pre-softmax) logits against one-hot
// targets of identical shape.
//
// The per-sample loss is -Σ target * log_softmax(logits) over classes,
// reduced to a scalar by the configured strategy. The computed
// probabilities and the targets are cached for Backward, overwriting any
// previous cache.
func (c *CrossEntropyLoss) Forward(logits, targets *mat.Dense) (float64, error) {
	rows, cols := logits.Dims()
	if rows == 0 || cols == 0 {
		return 0, fmt.Errorf("CrossEntropyLoss.Forward: logits must be non-empty")
	}
	tRows, tCols := targets.Dims()
	if tRows != rows || tCols != cols {
		return 0, &ShapeError{
			Op:   "CrossEntropyLoss.Forward",
			Want: fmt.Sprintf("[%d, %d]", rows, cols),
			Got:  fmt.Sprintf("[%d, %d]", tRows, tCols),
		}
	}

	probs := mat.NewDense(rows, cols, nil)
	perSample := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(v - maxVal)
		}
		logSumExp := maxVal + math.Log(sumExp)

		var loss float64
		for j, v := range row {
			logProb := v - logSumExp
			probs.Set(i, j, math.Exp(logProb))
			loss -= targets.At(i, j) * logProb
		}
		perSample[i] = loss
	}

	c.probabilities = probs
	c.targets = mat.DenseCopyOf(targets)
	return c.reduction.reduce(perSample), nil
}

// ForwardLabels computes the loss for integer class labels, expanding them
// to one-hot targets sized to the logits' class dimension. A label outside
// [0, num_classes) is an error, never a silent wraparound.
func (c *CrossEntropyLoss) ForwardLabels(logits *mat.Dense, labels []int) (float64, error) {
	_, cols := logits.Dims()
	targets, err := OneHot(labels, cols)
	if err != nil {
		return 0, fmt.Errorf("CrossEntropyLoss.ForwardLabels: %w", err)
	}
	return c.Forward(logits, targets)
}

// Backward returns the gradient of the loss with respect to the logits,
// computed from the cache of the most recent Forward:
//
//	grad = (probabilities - targets) / scale
//
// where scale is the batch row count for the Mean reduction (a single
// sample is a one-row batch, so it is left effectively unscaled) and 1 for
// Sum. The cache remains consumable until the next Forward overwrites it.
func (c *CrossEntropyLoss) Backward() (*mat.Dense, error) {
	if c.probabilities == nil || c.targets == nil {
		return nil, fmt.Errorf("CrossEntropyLoss.Backward: %w", ErrNotComputed)
	}

	var grad mat.Dense
	grad.Sub(c.probabilities, c.targets)
	if c.reduction == Mean {
		rows, _ := c.probabilities.Dims()
		grad.Scale(1/float64(rows), &grad)
	}
	return &grad, nil
}

// Probabilities returns the class probabilities cached by the most recent
// Forward, or nil before the first call.
func (c *CrossEntropyLoss) Probabilities() *mat.Dense {
	return c.probabilities
}

// State returns a serializable snapshot of the loss configuration.
func (c *CrossEntropyLoss) State() LossState {
	return LossState{
		Class:     crossEntropyClass,
		Reduction: c.reduction.String(),
	}
}

// Equal reports whether two losses share the same configuration.
func (c *CrossEntropyLoss) Equal(other *CrossEntropyLoss) bool {
	return c.reduction == other.reduction
}

// Softmax returns the row-wise softmax of the given matrix, subtracting
// each row's maximum before exponentiating for numerical stability.
func Softmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		var sum float64
		for j, v := range row {
			e := math.Exp(v - maxVal)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

// OneHot expands integer class labels into a one-hot matrix with numClasses
// columns. Labels outside [0, numClasses) are an error.
func OneHot(labels []int, numClasses int) (*mat.Dense, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("one hot: labels must be non-empty")
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("one hot: num classes must be positive, got %d", numClasses)
	}
	out := mat.NewDense(len(labels), numClasses, nil)
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("one hot: label %d out of range [0, %d)", label, numClasses)
		}
		out.Set(i, label, 1)
	}
	return out, nil
}
