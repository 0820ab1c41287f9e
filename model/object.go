package model

import "time"

// OrbitRegime is the coarse orbit classification of a tracked object.
type OrbitRegime string

const (
	RegimeUnknown OrbitRegime = "UNKNOWN"
	RegimeLEO     OrbitRegime = "LEO"
	RegimeMEO     OrbitRegime = "MEO"
	RegimeGEO     OrbitRegime = "GEO"
	RegimeHEO     OrbitRegime = "HEO"
)

// OrbitalState is the propagator-specific source of truth for an object's
// orbit. The engine never looks inside it; it only hands it back to the
// propagator adapter.
type OrbitalState interface {
	// Epoch is the time the orbital state was last refreshed from source data.
	Epoch() time.Time
}

// StateVector is a propagated position with an optional velocity.
type StateVector struct {
	Position Vec3
	Velocity *Vec3
}

// TrackedObject is one catalogued object. Position and Velocity are a cache
// derived from State at some instant; nil means "not resolvable right now".
type TrackedObject struct {
	ID            string
	Name          string
	CatalogNumber int

	State  OrbitalState
	Regime OrbitRegime

	Position *Vec3
	Velocity *Vec3

	// ElementAgeHours is the age of State relative to the last refresh.
	ElementAgeHours *float64
	// PositionSigmaKm is a 1-sigma position uncertainty when known.
	PositionSigmaKm *float64
}

// Clone returns a deep copy so a snapshot can't observe later writes.
func (o TrackedObject) Clone() TrackedObject {
	cp := o
	if o.Position != nil {
		p := *o.Position
		cp.Position = &p
	}
	if o.Velocity != nil {
		v := *o.Velocity
		cp.Velocity = &v
	}
	if o.ElementAgeHours != nil {
		a := *o.ElementAgeHours
		cp.ElementAgeHours = &a
	}
	if o.PositionSigmaKm != nil {
		s := *o.PositionSigmaKm
		cp.PositionSigmaKm = &s
	}
	return cp
}

// Float64 returns a pointer to v. Handy for optional fields in literals.
func Float64(v float64) *float64 { return &v }
