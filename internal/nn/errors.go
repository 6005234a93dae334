package nn

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrNotComputed is returned when a phase-2 operation (Update,
	// Backward) is called before its required phase-1 operation (Forward).
	ErrNotComputed = errors.New("forward must be called first")
)

// ShapeError reports a dimension mismatch at the point of computation.
type ShapeError struct {
	Op   string // Operation that detected the mismatch (e.g., "Linear.Forward")
	Want string // Expected dimensions
	Got  string // Actual dimensions
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %s, got %s", e.Op, e.Want, e.Got)
}
