package dataset

import (
	"fmt"
	"math/rand"
)

// SliceSource serves pre-decoded feature vectors held in memory. It obeys
// the same split and iterator contracts as ImageSource and is the natural
// source for synthetic data and tests.
type SliceSource struct {
	data       [][]float64
	classes    []string
	classIndex map[string]int
	train      []Sample
	test       []Sample
	transforms []Transform
	seed       int64
}

// NewSliceSource builds a source over vectors and their labels. Labels
// index into classes; data and labels must have equal length.
func NewSliceSource(data [][]float64, labels []int, classes []string, cfg SourceConfig) (*SliceSource, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("slice source: %d vectors but %d labels", len(data), len(labels))
	}
	if err := validateFraction(cfg.TrainFraction); err != nil {
		return nil, err
	}

	classIndex := make(map[string]int, len(classes))
	for i, name := range classes {
		classIndex[name] = i
	}

	stored := make([][]float64, len(data))
	samples := make([]Sample, len(data))
	for i, vec := range data {
		if labels[i] < 0 || labels[i] >= len(classes) {
			return nil, fmt.Errorf("slice source: label %d out of range [0, %d)", labels[i], len(classes))
		}
		stored[i] = append([]float64(nil), vec...)
		samples[i] = Sample{Ref: fmt.Sprintf("sample-%d", i), Index: i, Label: labels[i]}
	}

	if cfg.Shuffle {
		rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible split
		rng.Shuffle(len(samples), func(i, j int) {
			samples[i], samples[j] = samples[j], samples[i]
		})
	}

	split := splitIndex(cfg.TrainFraction, len(samples))
	return &SliceSource{
		data:       stored,
		classes:    append([]string(nil), classes...),
		classIndex: classIndex,
		train:      samples[:split],
		test:       samples[split:],
		transforms: cfg.Transforms,
		seed:       cfg.Seed,
	}, nil
}

// Iterator returns a new iterator over the named subset ("train" or
// "test").
func (s *SliceSource) Iterator(subset string, batchSize int, shuffle bool) (*Iterator, error) {
	var samples []Sample
	switch subset {
	case TrainSubset:
		samples = s.train
	case TestSubset:
		samples = s.test
	default:
		return nil, fmt.Errorf("slice source: unknown subset %q, want %q or %q",
			subset, TrainSubset, TestSubset)
	}
	return NewIterator(samples, s.classIndex, IteratorConfig{
		BatchSize:  batchSize,
		Shuffle:    shuffle,
		Seed:       s.seed,
		Transforms: s.transforms,
		Resolve: func(smp Sample) ([]float64, error) {
			return append([]float64(nil), s.data[smp.Index]...), nil
		},
	})
}

// Classes returns the category names.
func (s *SliceSource) Classes() []string {
	return append([]string(nil), s.classes...)
}

// TrainSize returns the number of samples in the train subset.
func (s *SliceSource) TrainSize() int {
	return len(s.train)
}

// TestSize returns the number of samples in the test subset.
func (s *SliceSource) TestSize() int {
	return len(s.test)
}
