package model

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ember-ml/ember/internal/nn"
)

const modelClass = "Model"

// State is the serializable snapshot of a model: a class discriminator, the
// ordered per-layer states, the loss state, the trained-epoch count and the
// metric histories.
type State struct {
	Class             string               `json:"class"`
	Layers            []nn.LayerState      `json:"layers"`
	Loss              nn.LossState         `json:"loss"`
	Epochs            int                  `json:"epochs"`
	TrainMetrics      map[string][]float64 `json:"train_metrics"`
	ValidationMetrics map[string][]float64 `json:"validation_metrics"`
}

// State returns a snapshot of the model's configuration and learned state.
func (m *Model) State() State {
	layers := make([]nn.LayerState, len(m.layers))
	for i, layer := range m.layers {
		layers[i] = layer.State()
	}
	return State{
		Class:             modelClass,
		Layers:            layers,
		Loss:              m.loss.State(),
		Epochs:            m.totalEpochs,
		TrainMetrics:      copyHistory(m.trainHistory),
		ValidationMetrics: copyHistory(m.validationHistory),
	}
}

// FromState reconstructs a model from a snapshot. A mismatched class
// discriminator, an unknown layer class or an invalid loss is an error.
func FromState(state State) (*Model, error) {
	if state.Class != modelClass {
		return nil, fmt.Errorf("model: invalid class %q in state, want %q", state.Class, modelClass)
	}

	layers := make([]nn.Layer, len(state.Layers))
	for i, layerState := range state.Layers {
		layer, err := nn.LayerFromState(layerState)
		if err != nil {
			return nil, fmt.Errorf("model: layer %d: %w", i, err)
		}
		layers[i] = layer
	}

	loss, err := nn.LossFromState(state.Loss)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	m, err := New(layers, loss, Config{
		TotalEpochs:       state.Epochs,
		TrainMetrics:      historyNames(state.TrainMetrics),
		ValidationMetrics: historyNames(state.ValidationMetrics),
	})
	if err != nil {
		return nil, err
	}

	// New seeds empty series; restore the recorded values.
	m.trainHistory = copyHistory(state.TrainMetrics)
	m.validationHistory = copyHistory(state.ValidationMetrics)
	return m, nil
}

// Save writes the model state to path. The encoding follows the file
// extension: ".json" for text, ".gob" for binary.
func (m *Model) Save(path string) error {
	state := m.State()
	switch filepath.Ext(path) {
	case ".json":
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("model: encode %s: %w", path, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("model: save %s: %w", path, err)
		}
		return nil
	case ".gob":
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("model: save %s: %w", path, err)
		}
		defer f.Close()
		if err := gob.NewEncoder(f).Encode(state); err != nil {
			return fmt.Errorf("model: encode %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("model: unsupported file format %q, want .json or .gob", filepath.Ext(path))
	}
}

// Load reads a model state from path, selecting the decoder by the file
// extension like Save.
func Load(path string) (*Model, error) {
	var state State
	switch filepath.Ext(path) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("model: load %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("model: decode %s: %w", path, err)
		}
	case ".gob":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("model: load %s: %w", path, err)
		}
		defer f.Close()
		if err := gob.NewDecoder(f).Decode(&state); err != nil {
			return nil, fmt.Errorf("model: decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("model: unsupported file format %q, want .json or .gob", filepath.Ext(path))
	}
	return FromState(state)
}

func copyHistory(history map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(history))
	for name, values := range history {
		out[name] = append([]float64{}, values...)
	}
	return out
}

func historyNames(history map[string][]float64) []string {
	if history == nil {
		return nil
	}
	names := make([]string, 0, len(history))
	for name := range history {
		names = append(names, name)
	}
	return names
}
