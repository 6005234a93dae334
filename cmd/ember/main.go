// Command ember trains an image classifier from a directory of labeled
// samples:
//
//	ember train -data ./dataset -hidden 64,32 -epochs 10 -out model.json
//
// The data directory must contain one subdirectory per category. The
// trained model is written in the format implied by the output extension
// (.json or .gob).
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/ember-ml/ember/internal/dataset"
	"github.com/ember-ml/ember/internal/model"
	"github.com/ember-ml/ember/internal/nn"
)

const version = "v0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("ember %s\n", version)
	case "train":
		if err := runTrain(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "ember:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ember <train|version> [flags]")
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dataDir := fs.String("data", "", "directory of labeled samples, one subdirectory per category")
	inputSize := fs.Int("input", 784, "flattened input size each decoded sample must have")
	hidden := fs.String("hidden", "64", "comma-separated hidden layer sizes")
	split := fs.Float64("split", 0.8, "fraction of samples used for training")
	lr := fs.Float64("lr", 0.05, "learning rate")
	batchSize := fs.Int("batch", 32, "batch size")
	epochs := fs.Int("epochs", 10, "number of epochs")
	seed := fs.Int64("seed", 42, "random seed for shuffling and weight init")
	reduction := fs.String("reduction", "mean", "loss reduction: mean or sum")
	out := fs.String("out", "model.json", "path to save the trained model (.json or .gob)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataDir == "" {
		return fmt.Errorf("the -data flag is required")
	}

	source, err := dataset.NewImageSource(*dataDir, dataset.SourceConfig{
		TrainFraction: *split,
		Shuffle:       true,
		Seed:          *seed,
	})
	if err != nil {
		return err
	}
	classes := source.Classes()
	if len(classes) == 0 {
		return fmt.Errorf("no categories found under %s", *dataDir)
	}

	dims, err := parseDims(*inputSize, *hidden, len(classes))
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(*seed)) //nolint:gosec // reproducible init

	layers := make([]nn.Layer, 0, len(dims)-1)
	for i := 0; i < len(dims)-1; i++ {
		layer, err := nn.NewLinear(dims[i], dims[i+1], rng)
		if err != nil {
			return err
		}
		layers = append(layers, layer)
	}

	red, err := nn.ParseReduction(*reduction)
	if err != nil {
		return err
	}
	loss, err := nn.NewCrossEntropyLoss(red)
	if err != nil {
		return err
	}

	mdl, err := model.New(layers, loss, model.Config{})
	if err != nil {
		return err
	}

	fmt.Printf("training on %d samples (%d held out) across %d classes\n",
		source.TrainSize(), source.TestSize(), len(classes))
	if err := mdl.Train(source, *lr, *batchSize, *epochs); err != nil {
		return err
	}

	// Per-class quality report over the held-out subset, or the train
	// subset when nothing was held out.
	subset := dataset.TestSubset
	if source.TestSize() == 0 {
		subset = dataset.TrainSubset
	}
	confusion, err := mdl.Evaluate(source, subset, *batchSize)
	if err != nil {
		return err
	}
	fmt.Print(confusion.Format(classes))

	if err := mdl.Save(*out); err != nil {
		return err
	}
	fmt.Printf("saved model to %s after %d total epochs\n", *out, mdl.TotalEpochs())
	return nil
}

// parseDims builds the full dimension chain input -> hidden... -> classes.
func parseDims(inputSize int, hidden string, numClasses int) ([]int, error) {
	dims := []int{inputSize}
	for _, part := range strings.Split(hidden, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid hidden layer size %q", part)
		}
		dims = append(dims, size)
	}
	return append(dims, numClasses), nil
}
