package nn

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// randomWeights creates an in×out weight matrix with values drawn from
// N(0, 1/in).
//
// Scaling the standard normal by 1/sqrt(in) keeps the variance of
// pre-activations roughly constant across layers, avoiding saturation at
// the start of training.
func randomWeights(in, out int, rng *rand.Rand) *mat.Dense {
	scale := 1.0 / math.Sqrt(float64(in))
	w := mat.NewDense(in, out, nil)
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			w.Set(i, j, rng.NormFloat64()*scale)
		}
	}
	return w
}

// newRand returns a seeded source when the caller did not supply one.
func newRand(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	//nolint:gosec // weight initialization is not security-critical
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
