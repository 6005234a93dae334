package dataset

import (
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Subset names accepted by a source's Iterator method.
const (
	TrainSubset = "train"
	TestSubset  = "test"
)

// SourceConfig configures dataset discovery and the train/test split.
type SourceConfig struct {
	// TrainFraction is the fraction of samples assigned to the train
	// subset, in [0, 1]. The split index is floor(TrainFraction * n).
	TrainFraction float64

	// Extensions filters discovered files. Defaults to common image
	// extensions when empty.
	Extensions []string

	// Shuffle permutes the discovered samples once, before splitting.
	Shuffle bool

	// Seed drives the pre-split shuffle and every iterator created by
	// this source.
	Seed int64

	// Transforms are handed to every iterator this source creates.
	Transforms []Transform
}

var defaultExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// ImageSource discovers labeled image samples under a root directory whose
// immediate subdirectories name the categories:
//
//	root/
//	  cats/ a.png b.png ...
//	  dogs/ c.png ...
//
// Category names are sorted to build a deterministic class-name to index
// mapping, and the sample set is split once, at construction, into two
// disjoint subsets that together cover every discovered sample.
type ImageSource struct {
	root       string
	classes    []string
	classIndex map[string]int
	train      []Sample
	test       []Sample
	transforms []Transform
	seed       int64
}

// NewImageSource enumerates all samples under root and splits them.
func NewImageSource(root string, cfg SourceConfig) (*ImageSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("image source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("image source: %s is not a directory", root)
	}
	if err := validateFraction(cfg.TrainFraction); err != nil {
		return nil, err
	}

	classes, err := discoverClasses(root)
	if err != nil {
		return nil, err
	}
	classIndex := make(map[string]int, len(classes))
	for i, name := range classes {
		classIndex[name] = i
	}

	extensions := cfg.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}

	var samples []Sample
	for _, class := range classes {
		paths, err := discoverFiles(filepath.Join(root, class), extensions)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			samples = append(samples, Sample{Ref: path, Label: classIndex[class]})
		}
	}

	if cfg.Shuffle {
		rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible split
		rng.Shuffle(len(samples), func(i, j int) {
			samples[i], samples[j] = samples[j], samples[i]
		})
	}

	split := splitIndex(cfg.TrainFraction, len(samples))
	return &ImageSource{
		root:       root,
		classes:    classes,
		classIndex: classIndex,
		train:      samples[:split],
		test:       samples[split:],
		transforms: cfg.Transforms,
		seed:       cfg.Seed,
	}, nil
}

// Iterator returns a new iterator over the named subset ("train" or
// "test").
func (s *ImageSource) Iterator(subset string, batchSize int, shuffle bool) (*Iterator, error) {
	samples, err := s.subset(subset)
	if err != nil {
		return nil, err
	}
	return NewIterator(samples, s.classIndex, IteratorConfig{
		BatchSize:  batchSize,
		Shuffle:    shuffle,
		Seed:       s.seed,
		Transforms: s.transforms,
	})
}

// Classes returns the sorted category names.
func (s *ImageSource) Classes() []string {
	return append([]string(nil), s.classes...)
}

// ClassIndex returns the class-name to label-index mapping.
func (s *ImageSource) ClassIndex() map[string]int {
	out := make(map[string]int, len(s.classIndex))
	for k, v := range s.classIndex {
		out[k] = v
	}
	return out
}

// TrainSize returns the number of samples in the train subset.
func (s *ImageSource) TrainSize() int {
	return len(s.train)
}

// TestSize returns the number of samples in the test subset.
func (s *ImageSource) TestSize() int {
	return len(s.test)
}

func (s *ImageSource) subset(name string) ([]Sample, error) {
	switch name {
	case TrainSubset:
		return s.train, nil
	case TestSubset:
		return s.test, nil
	default:
		return nil, fmt.Errorf("image source: unknown subset %q, want %q or %q",
			name, TrainSubset, TestSubset)
	}
}

// discoverClasses lists the immediate subdirectories of root, sorted.
func discoverClasses(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("image source: %w", err)
	}
	var classes []string
	for _, entry := range entries {
		if entry.IsDir() {
			classes = append(classes, entry.Name())
		}
	}
	sort.Strings(classes)
	return classes, nil
}

// discoverFiles walks a category directory collecting files with a
// matching extension, in lexical walk order for determinism.
func discoverFiles(dir string, extensions []string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		for _, want := range extensions {
			if ext == want {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover samples: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func validateFraction(fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return fmt.Errorf("train fraction must be in [0, 1], got %g", fraction)
	}
	return nil
}

// splitIndex computes floor(fraction * n).
func splitIndex(fraction float64, n int) int {
	return int(math.Floor(fraction * float64(n)))
}
