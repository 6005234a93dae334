// Package metrics accumulates classification quality measures during
// training. The model computes and stores these; formatting for display is
// the only presentation concern and stays here, out of the core.
package metrics

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ConfusionMatrix counts predicted-vs-actual class occurrences. Rows are
// predicted classes, columns are actual classes.
type ConfusionMatrix struct {
	numClasses int
	counts     *mat.Dense
}

// NewConfusionMatrix creates an empty numClasses x numClasses matrix.
func NewConfusionMatrix(numClasses int) (*ConfusionMatrix, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("confusion matrix: num classes must be positive, got %d", numClasses)
	}
	return &ConfusionMatrix{
		numClasses: numClasses,
		counts:     mat.NewDense(numClasses, numClasses, nil),
	}, nil
}

// Add records one prediction.
func (c *ConfusionMatrix) Add(predicted, actual int) error {
	if predicted < 0 || predicted >= c.numClasses {
		return fmt.Errorf("confusion matrix: predicted class %d out of range [0, %d)", predicted, c.numClasses)
	}
	if actual < 0 || actual >= c.numClasses {
		return fmt.Errorf("confusion matrix: actual class %d out of range [0, %d)", actual, c.numClasses)
	}
	c.counts.Set(predicted, actual, c.counts.At(predicted, actual)+1)
	return nil
}

// NumClasses returns the matrix dimension.
func (c *ConfusionMatrix) NumClasses() int {
	return c.numClasses
}

// At returns the count of samples predicted as class p with actual class a.
func (c *ConfusionMatrix) At(predicted, actual int) int {
	return int(c.counts.At(predicted, actual))
}

// Total returns the number of recorded predictions.
func (c *ConfusionMatrix) Total() int {
	var sum float64
	for i := 0; i < c.numClasses; i++ {
		for j := 0; j < c.numClasses; j++ {
			sum += c.counts.At(i, j)
		}
	}
	return int(sum)
}

// Accuracy returns the fraction of correct predictions, or 0 when empty.
func (c *ConfusionMatrix) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return mat.Trace(c.counts) / float64(total)
}

// Precision returns the per-class precision: diagonal over row sum. A class
// never predicted yields 0.
func (c *ConfusionMatrix) Precision() []float64 {
	out := make([]float64, c.numClasses)
	for i := 0; i < c.numClasses; i++ {
		var rowSum float64
		for j := 0; j < c.numClasses; j++ {
			rowSum += c.counts.At(i, j)
		}
		if rowSum > 0 {
			out[i] = c.counts.At(i, i) / rowSum
		}
	}
	return out
}

// Recall returns the per-class recall: diagonal over column sum. A class
// never observed yields 0.
func (c *ConfusionMatrix) Recall() []float64 {
	out := make([]float64, c.numClasses)
	for j := 0; j < c.numClasses; j++ {
		var colSum float64
		for i := 0; i < c.numClasses; i++ {
			colSum += c.counts.At(i, j)
		}
		if colSum > 0 {
			out[j] = c.counts.At(j, j) / colSum
		}
	}
	return out
}

// MacroPrecision returns the unweighted mean of the per-class precisions.
func (c *ConfusionMatrix) MacroPrecision() float64 {
	precision := c.Precision()
	return floats.Sum(precision) / float64(len(precision))
}

// MacroRecall returns the unweighted mean of the per-class recalls.
func (c *ConfusionMatrix) MacroRecall() float64 {
	recall := c.Recall()
	return floats.Sum(recall) / float64(len(recall))
}

// Format renders a per-class precision/recall table. classes must have one
// name per class.
func (c *ConfusionMatrix) Format(classes []string) string {
	precision := c.Precision()
	recall := c.Recall()

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Class\tPrecision\tRecall")
	for i := 0; i < c.numClasses; i++ {
		name := fmt.Sprintf("%d", i)
		if i < len(classes) {
			name = classes[i]
		}
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\n", name, precision[i], recall[i])
	}
	w.Flush()
	return sb.String()
}
