// Package dataset provides deterministic discovery, splitting and batching
// of labeled samples for the Ember training engine.
//
// A DataSource (ImageSource for directory trees of images, SliceSource for
// in-memory vectors) partitions its samples into disjoint train/test
// subsets and hands out Iterators over either subset. Iterators resolve
// raw sample references lazily, one batch at a time, run them through a
// preprocessing pipeline and emit gonum matrices ready for a model.
//
// All randomness is explicit: shuffling uses a caller-seeded source, so
// any pass over the data is exactly reproducible.
package dataset

import (
	"fmt"
	"image"
	"os"

	// Register the decoders for the supported sample formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"gonum.org/v1/gonum/mat"
)

// Sample is a reference to one labeled input. Ref is the file path for
// on-disk sources; Index addresses the backing store for in-memory
// sources. Resolution is deferred until iteration.
type Sample struct {
	Ref   string
	Index int
	Label int
}

// Batch is one minibatch of resolved samples.
type Batch struct {
	Data   *mat.Dense // [batch_size, features]
	Labels []int      // [batch_size]
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	rows, _ := b.Data.Dims()
	return rows
}

// Transform is one unary preprocessing step. Transforms run in order at
// iteration time, so a transform that violates the shape contract surfaces
// as an error from Iterator.Err, not at construction.
type Transform func([]float64) ([]float64, error)

// ResolveFunc turns a sample reference into its feature vector.
type ResolveFunc func(Sample) ([]float64, error)

// DecodeImage resolves a sample by decoding the image file at its Ref into
// a flattened grayscale vector with intensities in [0, 1].
//
// The file handle is closed before returning on every path, including
// decode failure.
func DecodeImage(s Sample) ([]float64, error) {
	f, err := os.Open(s.Ref)
	if err != nil {
		return nil, fmt.Errorf("decode sample: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", s.Ref, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("decode sample %s: empty image", s.Ref)
	}

	features := make([]float64, 0, width*height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			features = append(features, (float64(r)+float64(g)+float64(b))/(3*65535.0))
		}
	}
	return features, nil
}
