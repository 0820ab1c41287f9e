// Package propagation is the boundary between the conjunction engine and
// whatever turns an orbital state into a position at a given time.
package propagation

import (
	"errors"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// ErrUnavailable marks a state that can't be propagated to the requested
// time. Callers treat it as missing data for that sample only.
var ErrUnavailable = errors.New("position unavailable")

// Propagator returns the position (and, when known, velocity) of an object
// at a given time in a consistent inertial frame, in km and km/s.
type Propagator interface {
	Propagate(state model.OrbitalState, at time.Time) (model.StateVector, error)
}

// Func adapts a plain function to the Propagator interface.
type Func func(state model.OrbitalState, at time.Time) (model.StateVector, error)

// Propagate calls f.
func (f Func) Propagate(state model.OrbitalState, at time.Time) (model.StateVector, error) {
	return f(state, at)
}
