package dataset_test

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-ml/ember/internal/dataset"
)

// memResolve serves each sample's index as a one-element feature vector, so
// tests can follow exactly which samples land in which batch.
func memResolve(s dataset.Sample) ([]float64, error) {
	return []float64{float64(s.Index)}, nil
}

func memSamples(n int) []dataset.Sample {
	samples := make([]dataset.Sample, n)
	for i := range samples {
		samples[i] = dataset.Sample{Ref: fmt.Sprintf("sample-%d", i), Index: i, Label: i % 2}
	}
	return samples
}

func TestNewIterator_InvalidBatchSize(t *testing.T) {
	for _, batchSize := range []int{0, -1, -4354} {
		_, err := dataset.NewIterator(memSamples(3), nil, dataset.IteratorConfig{
			BatchSize: batchSize,
			Resolve:   memResolve,
		})
		assert.Error(t, err, "batch size %d", batchSize)
	}
}

func TestIterator_Len(t *testing.T) {
	tests := []struct {
		n, batchSize int
		dropLast     bool
		want         int
	}{
		{3, 1, false, 3},
		{3, 1, true, 3},
		{3, 2, false, 2},
		{3, 2, true, 1},
		{3, 3, false, 1},
		{3, 3, true, 1},
		{3, 4, false, 1},
		{3, 4, true, 0},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("n=%d batch=%d drop=%v", tt.n, tt.batchSize, tt.dropLast)
		t.Run(name, func(t *testing.T) {
			it, err := dataset.NewIterator(memSamples(tt.n), nil, dataset.IteratorConfig{
				BatchSize: tt.batchSize,
				DropLast:  tt.dropLast,
				Resolve:   memResolve,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, it.Len())
		})
	}
}

func TestIterator_YieldsEverySampleInOrder(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(5), nil, dataset.IteratorConfig{
		BatchSize: 2,
		Resolve:   memResolve,
	})
	require.NoError(t, err)

	var seen []float64
	var sizes []int
	batches := 0
	for it.Next() {
		batch := it.Batch()
		sizes = append(sizes, batch.Size())
		for i := 0; i < batch.Size(); i++ {
			seen = append(seen, batch.Data.At(i, 0))
			assert.Equal(t, int(batch.Data.At(i, 0))%2, batch.Labels[i])
		}
		batches++
	}
	require.NoError(t, it.Err())

	assert.Equal(t, it.Len(), batches)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, seen)
}

func TestIterator_DropLast(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(5), nil, dataset.IteratorConfig{
		BatchSize: 2,
		DropLast:  true,
		Resolve:   memResolve,
	})
	require.NoError(t, err)

	batches := 0
	for it.Next() {
		assert.Equal(t, 2, it.Batch().Size())
		batches++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 2, batches)
}

func TestIterator_DropLastSmallerThanBatch(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(3), nil, dataset.IteratorConfig{
		BatchSize: 4,
		DropLast:  true,
		Resolve:   memResolve,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, it.Len())
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func collectPass(t *testing.T, it *dataset.Iterator) []float64 {
	t.Helper()
	var seen []float64
	for it.Next() {
		batch := it.Batch()
		for i := 0; i < batch.Size(); i++ {
			seen = append(seen, batch.Data.At(i, 0))
		}
	}
	require.NoError(t, it.Err())
	return seen
}

func TestIterator_ShufflePreservesMultiset(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(20), nil, dataset.IteratorConfig{
		BatchSize: 3,
		Shuffle:   true,
		Seed:      7,
		Resolve:   memResolve,
	})
	require.NoError(t, err)

	seen := collectPass(t, it)
	require.Len(t, seen, 20)

	sorted := append([]float64(nil), seen...)
	sort.Float64s(sorted)
	for i, v := range sorted {
		assert.Equal(t, float64(i), v)
	}
}

func TestIterator_ResetRestarts(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(6), nil, dataset.IteratorConfig{
		BatchSize: 2,
		Resolve:   memResolve,
	})
	require.NoError(t, err)

	first := collectPass(t, it)
	assert.False(t, it.Next(), "pass is exhausted until Reset")

	it.Reset()
	second := collectPass(t, it)
	assert.Equal(t, first, second)
}

func TestIterator_ResetReshuffles(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(50), nil, dataset.IteratorConfig{
		BatchSize: 5,
		Shuffle:   true,
		Seed:      3,
		Resolve:   memResolve,
	})
	require.NoError(t, err)

	first := collectPass(t, it)
	it.Reset()
	second := collectPass(t, it)

	// Same multiset, almost surely a different order for 50 samples.
	assert.NotEqual(t, first, second)
	sort.Float64s(first)
	sort.Float64s(second)
	assert.Equal(t, first, second)
}

func TestIterator_SnapshotIsolation(t *testing.T) {
	samples := memSamples(4)
	it, err := dataset.NewIterator(samples, nil, dataset.IteratorConfig{
		BatchSize: 4,
		Resolve:   memResolve,
	})
	require.NoError(t, err)

	// Mutating the caller's slice must not leak into the iterator.
	samples[0] = dataset.Sample{Ref: "poisoned", Index: 999, Label: 1}

	seen := collectPass(t, it)
	assert.Equal(t, []float64{0, 1, 2, 3}, seen)
}

func TestIterator_ClassIndexCopy(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(2), map[string]int{"even": 0, "odd": 1}, dataset.IteratorConfig{
		BatchSize: 1,
		Resolve:   memResolve,
	})
	require.NoError(t, err)

	leaked := it.ClassIndex()
	leaked["even"] = 99

	assert.Equal(t, map[string]int{"even": 0, "odd": 1}, it.ClassIndex())
}

func TestIterator_TransformError(t *testing.T) {
	boom := errors.New("bad transform")
	it, err := dataset.NewIterator(memSamples(3), nil, dataset.IteratorConfig{
		BatchSize: 1,
		Resolve:   memResolve,
		Transforms: []dataset.Transform{
			func(v []float64) ([]float64, error) { return nil, boom },
		},
	})
	// Transforms can only be validated once invoked, so construction
	// succeeds and the error surfaces during iteration.
	require.NoError(t, err)

	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), boom)

	// A sticky error clears on Reset.
	it.Reset()
	assert.NoError(t, it.Err())
}

func TestIterator_TransformPipelineOrder(t *testing.T) {
	it, err := dataset.NewIterator(memSamples(2), nil, dataset.IteratorConfig{
		BatchSize: 2,
		Resolve:   memResolve,
		Transforms: []dataset.Transform{
			func(v []float64) ([]float64, error) {
				out := append([]float64(nil), v...)
				for i := range out {
					out[i] += 1
				}
				return out, nil
			},
			func(v []float64) ([]float64, error) {
				out := append([]float64(nil), v...)
				for i := range out {
					out[i] *= 10
				}
				return out, nil
			},
		},
	})
	require.NoError(t, err)

	require.True(t, it.Next())
	batch := it.Batch()
	// (0+1)*10 and (1+1)*10, in order.
	assert.Equal(t, 10.0, batch.Data.At(0, 0))
	assert.Equal(t, 20.0, batch.Data.At(1, 0))
}

func TestIterator_InconsistentFeatureLength(t *testing.T) {
	resolve := func(s dataset.Sample) ([]float64, error) {
		if s.Index == 1 {
			return []float64{1, 2}, nil
		}
		return []float64{1}, nil
	}
	it, err := dataset.NewIterator(memSamples(2), nil, dataset.IteratorConfig{
		BatchSize: 2,
		Resolve:   resolve,
	})
	require.NoError(t, err)

	assert.False(t, it.Next())
	assert.Error(t, it.Err())
}
