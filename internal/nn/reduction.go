package nn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Reduction selects how per-sample losses collapse into one scalar.
//
// The set is closed: the two variants below are the only valid values.
type Reduction int

const (
	// Mean averages the per-sample losses over the batch.
	Mean Reduction = iota
	// Sum adds the per-sample losses without averaging.
	Sum
)

// ParseReduction converts a reduction name ("mean" or "sum") to its enum
// value.
func ParseReduction(name string) (Reduction, error) {
	switch name {
	case "mean":
		return Mean, nil
	case "sum":
		return Sum, nil
	default:
		return 0, fmt.Errorf("unknown reduction %q, want \"mean\" or \"sum\"", name)
	}
}

// String returns the reduction name.
func (r Reduction) String() string {
	switch r {
	case Mean:
		return "mean"
	case Sum:
		return "sum"
	default:
		return fmt.Sprintf("Reduction(%d)", int(r))
	}
}

func (r Reduction) valid() bool {
	return r == Mean || r == Sum
}

// reduce collapses per-sample losses according to the strategy.
func (r Reduction) reduce(perSample []float64) float64 {
	total := floats.Sum(perSample)
	if r == Mean {
		return total / float64(len(perSample))
	}
	return total
}
