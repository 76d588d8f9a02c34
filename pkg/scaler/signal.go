// Package scaler implements the scale decision engine, the executor
// that applies decisions through the node lifecycle gateway, and the
// service that serializes read-decide-execute cycles per policy.
package scaler

import "fmt"

// Direction is the requested scaling direction of a signal.
type Direction string

const (
	// ScaleUp requests one more node.
	ScaleUp Direction = "up"
	// ScaleDown requests one fewer node.
	ScaleDown Direction = "down"
)

// Signal is a transient scale request. It carries no authority over
// how much to scale; bounds always come from the matched policy.
type Signal struct {
	Direction Direction
	// Zone the signal originated from; empty means unzoned.
	Zone string
}

// Validate rejects directions other than up and down.
func (s Signal) Validate() error {
	switch s.Direction {
	case ScaleUp, ScaleDown:
		return nil
	default:
		return fmt.Errorf("unknown scale direction %q", s.Direction)
	}
}
