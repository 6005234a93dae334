package nn

import "fmt"

// Class discriminators used in serialized state.
const (
	linearClass       = "Linear"
	crossEntropyClass = "CrossEntropyLoss"
)

// LayerState is the serializable snapshot of a layer: a class discriminator
// plus the layer's configuration and learned parameters.
type LayerState struct {
	Class       string    `json:"class"`
	InChannels  int       `json:"in_channels"`
	OutChannels int       `json:"out_channels"`
	Weights     []float64 `json:"weights"` // row-major [in_channels, out_channels]
	Bias        []float64 `json:"bias"`
}

// LossState is the serializable snapshot of a loss configuration.
type LossState struct {
	Class     string `json:"class"`
	Reduction string `json:"reduction"`
}

// LayerFromState restores a layer of the concrete class named by the state's
// discriminator. The set of classes is closed; an unknown discriminator is
// an error.
func LayerFromState(state LayerState) (Layer, error) {
	switch state.Class {
	case linearClass:
		return LinearFromState(state)
	default:
		return nil, fmt.Errorf("unknown layer class %q", state.Class)
	}
}
