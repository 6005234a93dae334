// Package model orchestrates the Ember training protocol: it owns an
// ordered chain of layers and a loss, runs forward inference, the
// per-minibatch training step and the epoch loop, and keeps per-epoch
// metric histories.
package model

import (
	"fmt"
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/ember-ml/ember/internal/dataset"
	"github.com/ember-ml/ember/internal/metrics"
	"github.com/ember-ml/ember/internal/nn"
)

// Metric names recordable into a history. The set is closed. Precision and
// recall are recorded as macro averages over the classes, so every history
// stays a scalar series.
const (
	MetricLoss      = "loss"
	MetricAccuracy  = "accuracy"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
)

var defaultMetrics = []string{MetricLoss, MetricAccuracy}

// DataSource produces iterators over the train and test subsets of a
// labeled sample set. Both dataset.ImageSource and dataset.SliceSource
// satisfy it.
type DataSource interface {
	Iterator(subset string, batchSize int, shuffle bool) (*dataset.Iterator, error)
	Classes() []string
}

// Config carries the optional knobs for a model.
type Config struct {
	// TotalEpochs seeds the epoch counter, for models restored mid-way.
	TotalEpochs int

	// TrainMetrics and ValidationMetrics name the histories to record.
	// Defaults to loss and accuracy.
	TrainMetrics      []string
	ValidationMetrics []string
}

// Model owns an ordered, non-empty sequence of layers and a loss.
type Model struct {
	layers []nn.Layer
	loss   *nn.CrossEntropyLoss

	eval        bool
	totalEpochs int

	trainHistory      map[string][]float64
	validationHistory map[string][]float64
}

// New validates and assembles a model. The layer sequence must be
// non-empty, free of nil entries, and dimension-compatible: each layer's
// OutChannels must equal the next layer's InChannels.
func New(layers []nn.Layer, loss *nn.CrossEntropyLoss, cfg Config) (*Model, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("model: layers must be non-empty")
	}
	for i, layer := range layers {
		if layer == nil {
			return nil, fmt.Errorf("model: layer %d is nil", i)
		}
		if i > 0 && layers[i-1].OutChannels() != layer.InChannels() {
			return nil, fmt.Errorf("model: layer %d expects %d input channels but layer %d produces %d",
				i, layer.InChannels(), i-1, layers[i-1].OutChannels())
		}
	}
	if loss == nil {
		return nil, fmt.Errorf("model: loss must not be nil")
	}
	if cfg.TotalEpochs < 0 {
		return nil, fmt.Errorf("model: total epochs must be non-negative, got %d", cfg.TotalEpochs)
	}

	trainHistory, err := newHistory(cfg.TrainMetrics)
	if err != nil {
		return nil, err
	}
	validationHistory, err := newHistory(cfg.ValidationMetrics)
	if err != nil {
		return nil, err
	}

	return &Model{
		layers:            layers,
		loss:              loss,
		totalEpochs:       cfg.TotalEpochs,
		trainHistory:      trainHistory,
		validationHistory: validationHistory,
	}, nil
}

func newHistory(names []string) (map[string][]float64, error) {
	if names == nil {
		names = defaultMetrics
	}
	history := make(map[string][]float64, len(names))
	for _, name := range names {
		switch name {
		case MetricLoss, MetricAccuracy, MetricPrecision, MetricRecall:
			history[name] = []float64{}
		default:
			return nil, fmt.Errorf("model: unknown metric %q", name)
		}
	}
	return history, nil
}

// Forward threads the input through every layer in order and returns the
// final output. No state is kept beyond what each layer itself caches.
func (m *Model) Forward(input *mat.Dense) (*mat.Dense, error) {
	out := input
	for i, layer := range m.layers {
		var err error
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("model: layer %d: %w", i, err)
		}
	}
	return out, nil
}

// Predict returns the predicted class index for each input row.
func (m *Model) Predict(input *mat.Dense) ([]int, error) {
	logits, err := m.Forward(input)
	if err != nil {
		return nil, err
	}
	return nn.Argmax(logits), nil
}

// SetEval switches evaluation mode, propagating the flag to every layer.
// Setting the current value is a no-op.
func (m *Model) SetEval(eval bool) {
	if m.eval == eval {
		return
	}
	for _, layer := range m.layers {
		layer.SetEval(eval)
	}
	m.eval = eval
}

// Eval reports whether the model is in evaluation mode.
func (m *Model) Eval() bool {
	return m.eval
}

// Layers returns the ordered layer sequence.
func (m *Model) Layers() []nn.Layer {
	return m.layers
}

// Loss returns the model's loss.
func (m *Model) Loss() *nn.CrossEntropyLoss {
	return m.loss
}

// TotalEpochs returns how many epochs the model has trained for.
func (m *Model) TotalEpochs() int {
	return m.totalEpochs
}

// TrainHistory returns the recorded training metrics, keyed by name.
func (m *Model) TrainHistory() map[string][]float64 {
	return m.trainHistory
}

// ValidationHistory returns the recorded validation metrics, keyed by name.
func (m *Model) ValidationHistory() map[string][]float64 {
	return m.validationHistory
}

// scoreBatch runs the forward pass, records predictions into the confusion
// matrix and returns the batch loss. No parameters change.
func (m *Model) scoreBatch(batch *dataset.Batch, confusion *metrics.ConfusionMatrix) (float64, error) {
	logits, err := m.Forward(batch.Data)
	if err != nil {
		return 0, err
	}
	for i, predicted := range nn.Argmax(logits) {
		if err := confusion.Add(predicted, batch.Labels[i]); err != nil {
			return 0, err
		}
	}
	return m.loss.ForwardLabels(logits, batch.Labels)
}

// trainStep performs one minibatch update: forward, loss, backward through
// the layer chain in reverse, each layer updating its parameters in place.
func (m *Model) trainStep(batch *dataset.Batch, learningRate float64, confusion *metrics.ConfusionMatrix) (float64, error) {
	loss, err := m.scoreBatch(batch, confusion)
	if err != nil {
		return 0, err
	}

	grad, err := m.loss.Backward()
	if err != nil {
		return 0, err
	}
	for i := len(m.layers) - 1; i >= 0; i-- {
		grad, err = m.layers[i].Update(grad, learningRate)
		if err != nil {
			return 0, fmt.Errorf("model: layer %d: %w", i, err)
		}
	}
	return loss, nil
}

// Train runs the epoch loop: for each epoch, one full pass over the train
// subset with parameter updates, then a forward-only pass over the test
// subset (in eval mode) when it is non-empty. Per-epoch loss and accuracy
// land in the metric histories, and the epoch counter advances by epochs
// regardless of validation availability.
//
// Both iterators are built once and restarted with Reset, so the training
// pass consumes a freshly shuffled order every epoch.
func (m *Model) Train(source DataSource, learningRate float64, batchSize, epochs int) error {
	if learningRate <= 0 {
		return fmt.Errorf("model: learning rate must be positive, got %g", learningRate)
	}
	if epochs < 0 {
		return fmt.Errorf("model: epochs must be non-negative, got %d", epochs)
	}

	numClasses := m.layers[len(m.layers)-1].OutChannels()

	training, err := source.Iterator(dataset.TrainSubset, batchSize, true)
	if err != nil {
		return err
	}
	validation, err := source.Iterator(dataset.TestSubset, batchSize, false)
	if err != nil {
		return err
	}

	for epoch := 1; epoch <= epochs; epoch++ {
		training.Reset()
		confusion, err := metrics.NewConfusionMatrix(numClasses)
		if err != nil {
			return err
		}

		var totalLoss float64
		batches := 0
		for training.Next() {
			loss, err := m.trainStep(training.Batch(), learningRate, confusion)
			if err != nil {
				return err
			}
			totalLoss += loss
			batches++
		}
		if err := training.Err(); err != nil {
			return err
		}

		trainLoss := averageLoss(totalLoss, batches)
		m.record(m.trainHistory, trainLoss, confusion)
		log.Printf("epoch %d/%d: train loss=%.4f accuracy=%.4f",
			epoch, epochs, trainLoss, confusion.Accuracy())

		if validation.Len() == 0 {
			continue
		}

		validation.Reset()
		m.SetEval(true)
		confusion, err = metrics.NewConfusionMatrix(numClasses)
		if err != nil {
			m.SetEval(false)
			return err
		}
		totalLoss = 0
		batches = 0
		for validation.Next() {
			loss, err := m.scoreBatch(validation.Batch(), confusion)
			if err != nil {
				m.SetEval(false)
				return err
			}
			totalLoss += loss
			batches++
		}
		m.SetEval(false)
		if err := validation.Err(); err != nil {
			return err
		}

		validationLoss := averageLoss(totalLoss, batches)
		m.record(m.validationHistory, validationLoss, confusion)
		log.Printf("epoch %d/%d: validation loss=%.4f accuracy=%.4f",
			epoch, epochs, validationLoss, confusion.Accuracy())
	}

	m.totalEpochs += epochs
	return nil
}

// Evaluate runs a forward-only pass over the named subset in eval mode and
// returns the resulting confusion matrix. No parameters change.
func (m *Model) Evaluate(source DataSource, subset string, batchSize int) (*metrics.ConfusionMatrix, error) {
	it, err := source.Iterator(subset, batchSize, false)
	if err != nil {
		return nil, err
	}
	confusion, err := metrics.NewConfusionMatrix(m.layers[len(m.layers)-1].OutChannels())
	if err != nil {
		return nil, err
	}

	m.SetEval(true)
	defer m.SetEval(false)
	for it.Next() {
		if _, err := m.scoreBatch(it.Batch(), confusion); err != nil {
			return nil, err
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return confusion, nil
}

// record appends the epoch's values to every metric the history tracks.
func (m *Model) record(history map[string][]float64, loss float64, confusion *metrics.ConfusionMatrix) {
	for name := range history {
		switch name {
		case MetricLoss:
			history[name] = append(history[name], loss)
		case MetricAccuracy:
			history[name] = append(history[name], confusion.Accuracy())
		case MetricPrecision:
			history[name] = append(history[name], confusion.MacroPrecision())
		case MetricRecall:
			history[name] = append(history[name], confusion.MacroRecall())
		}
	}
}

func averageLoss(total float64, batches int) float64 {
	if batches == 0 {
		return 0
	}
	return total / float64(batches)
}

// Equal reports whether two models have equal layers and loss
// configuration. Epoch counters and metric histories are not compared.
func (m *Model) Equal(other *Model) bool {
	if len(m.layers) != len(other.layers) {
		return false
	}
	for i := range m.layers {
		a, aOK := m.layers[i].(*nn.Linear)
		b, bOK := other.layers[i].(*nn.Linear)
		if aOK != bOK {
			return false
		}
		if aOK && !a.Equal(b) {
			return false
		}
	}
	return m.loss.Equal(other.loss)
}
