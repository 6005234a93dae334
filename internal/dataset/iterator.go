package dataset

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// IteratorConfig configures a batch iterator.
type IteratorConfig struct {
	// BatchSize is the number of samples per emitted batch. Must be
	// positive.
	BatchSize int

	// DropLast discards a final batch smaller than BatchSize instead of
	// emitting it.
	DropLast bool

	// Shuffle permutes the sample order at construction and again on
	// every Reset.
	Shuffle bool

	// Rand is the source used for shuffling. When nil, a source seeded
	// with Seed is created.
	Rand *rand.Rand
	Seed int64

	// Transforms run in order over every resolved sample.
	Transforms []Transform

	// Resolve turns sample references into feature vectors. Defaults to
	// DecodeImage.
	Resolve ResolveFunc
}

// Iterator is a deterministic, restartable, lazy batch producer over a
// fixed set of labeled samples.
//
// It follows the bufio.Scanner protocol:
//
//	for it.Next() {
//	    batch := it.Batch()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
//
// Within one pass every stored sample is consumed left to right exactly
// once (when DropLast is false), never skipped or repeated. Reset begins a
// new pass without reconstructing the iterator.
type Iterator struct {
	samples    []Sample // private snapshot, detached from the caller's slice
	classIndex map[string]int
	batchSize  int
	dropLast   bool
	shuffle    bool
	rng        *rand.Rand
	transforms []Transform
	resolve    ResolveFunc

	cursor int
	batch  *Batch
	err    error
}

// NewIterator creates an iterator over a copy of the given samples.
//
// The copy means later mutation of the caller's slice does not affect
// iteration. If shuffling is requested the copy is permuted immediately.
func NewIterator(samples []Sample, classIndex map[string]int, cfg IteratorConfig) (*Iterator, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("iterator: batch size must be positive, got %d", cfg.BatchSize)
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible shuffling
	}
	resolve := cfg.Resolve
	if resolve == nil {
		resolve = DecodeImage
	}

	it := &Iterator{
		samples:    append([]Sample(nil), samples...),
		classIndex: classIndex,
		batchSize:  cfg.BatchSize,
		dropLast:   cfg.DropLast,
		shuffle:    cfg.Shuffle,
		rng:        rng,
		transforms: cfg.Transforms,
		resolve:    resolve,
	}
	if it.shuffle {
		it.rng.Shuffle(len(it.samples), func(i, j int) {
			it.samples[i], it.samples[j] = it.samples[j], it.samples[i]
		})
	}
	return it, nil
}

// Len returns the number of batches one full pass yields:
// floor(n/batch_size) when DropLast, ceil(n/batch_size) otherwise.
func (it *Iterator) Len() int {
	n := len(it.samples)
	if it.dropLast {
		return n / it.batchSize
	}
	return (n + it.batchSize - 1) / it.batchSize
}

// NumSamples returns the number of samples in the snapshot.
func (it *Iterator) NumSamples() int {
	return len(it.samples)
}

// ClassIndex returns a copy of the class-name to label-index mapping.
func (it *Iterator) ClassIndex() map[string]int {
	out := make(map[string]int, len(it.classIndex))
	for k, v := range it.classIndex {
		out[k] = v
	}
	return out
}

// Next advances to the next batch. It returns false when the pass is
// complete or a sample failed to resolve; Err distinguishes the two.
func (it *Iterator) Next() bool {
	if it.err != nil || it.cursor >= len(it.samples) {
		return false
	}

	end := it.cursor + it.batchSize
	if end > len(it.samples) {
		if it.dropLast {
			return false
		}
		end = len(it.samples)
	}

	batch, err := it.loadBatch(it.samples[it.cursor:end])
	if err != nil {
		it.err = err
		return false
	}

	it.batch = batch
	it.cursor = end
	return true
}

// Batch returns the batch produced by the most recent successful Next.
func (it *Iterator) Batch() *Batch {
	return it.batch
}

// Err returns the first error encountered while resolving samples, or nil
// if iteration ended cleanly.
func (it *Iterator) Err() error {
	return it.err
}

// Reset begins a new pass: the cursor returns to zero, any sticky error is
// cleared and, when shuffling is enabled, the snapshot is reshuffled.
func (it *Iterator) Reset() {
	it.cursor = 0
	it.batch = nil
	it.err = nil
	if it.shuffle {
		it.rng.Shuffle(len(it.samples), func(i, j int) {
			it.samples[i], it.samples[j] = it.samples[j], it.samples[i]
		})
	}
}

// loadBatch resolves a window of samples into one matrix. Every vector in
// the batch must come out of the preprocessing pipeline with the same
// non-zero length.
func (it *Iterator) loadBatch(window []Sample) (*Batch, error) {
	labels := make([]int, len(window))
	var data *mat.Dense
	width := 0

	for i, sample := range window {
		features, err := it.resolve(sample)
		if err != nil {
			return nil, err
		}
		for _, transform := range it.transforms {
			features, err = transform(features)
			if err != nil {
				return nil, fmt.Errorf("iterator: transform failed for %s: %w", sample.Ref, err)
			}
		}
		if len(features) == 0 {
			return nil, fmt.Errorf("iterator: empty feature vector for %s", sample.Ref)
		}

		if data == nil {
			width = len(features)
			data = mat.NewDense(len(window), width, nil)
		} else if len(features) != width {
			return nil, fmt.Errorf("iterator: feature length mismatch for %s: got %d, want %d",
				sample.Ref, len(features), width)
		}

		data.SetRow(i, features)
		labels[i] = sample.Label
	}

	return &Batch{Data: data, Labels: labels}, nil
}
