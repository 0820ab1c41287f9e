package propagation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// ErrInvalidTLE is returned when a two-line element set fails validation.
var ErrInvalidTLE = errors.New("invalid TLE")

// Elements is a parsed two-line element set with its initialised SGP4
// record. It is the OrbitalState handed to the SGP4 propagator.
type Elements struct {
	CatalogNumber int
	Name          string
	Line1         string
	Line2         string

	epoch        time.Time
	meanMotion   float64 // revolutions per day
	eccentricity float64

	sat satellite.Satellite
}

// Epoch implements model.OrbitalState.
func (e *Elements) Epoch() time.Time { return e.epoch }

// MeanMotion returns the mean motion in revolutions per day.
func (e *Elements) MeanMotion() float64 { return e.meanMotion }

// Eccentricity returns the orbit eccentricity.
func (e *Elements) Eccentricity() float64 { return e.eccentricity }

// NewElements validates the TLE lines and initialises SGP4.
//
// go-satellite calls log.Fatal on malformed lines, so the format is checked
// here before the library sees it.
func NewElements(name, line1, line2 string) (*Elements, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTLE, strings.TrimSpace(name), err)
	}

	catnum, err := parseCatalogNumber(line1)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTLE, strings.TrimSpace(name), err)
	}
	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTLE, strings.TrimSpace(name), err)
	}
	ecc, mm, err := parseShape(line2)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTLE, strings.TrimSpace(name), err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init failed for %d: code=%d %s", ErrInvalidTLE, catnum, sat.Error, sat.ErrorStr)
	}

	return &Elements{
		CatalogNumber: catnum,
		Name:          strings.TrimSpace(name),
		Line1:         line1,
		Line2:         line2,
		epoch:         epoch,
		meanMotion:    mm,
		eccentricity:  ecc,
		sat:           sat,
	}, nil
}

// SGP4 propagates *Elements states with go-satellite. Output is TEME, the
// inertial frame SGP4 works in; no Earth-fixed rotation is applied so every
// object shares the same frame regardless of sample time.
type SGP4 struct{}

// Propagate implements Propagator.
func (SGP4) Propagate(state model.OrbitalState, at time.Time) (model.StateVector, error) {
	el, ok := state.(*Elements)
	if !ok || el == nil {
		return model.StateVector{}, fmt.Errorf("%w: unsupported state %T", ErrUnavailable, state)
	}

	// go-satellite takes whole seconds; the remainder is carried along the
	// velocity.
	at = at.UTC()
	whole := at.Truncate(time.Second)
	frac := at.Sub(whole).Seconds()
	year, month, day := whole.Date()
	hour, min, sec := whole.Clock()
	pos, vel := satellite.Propagate(el.sat, year, int(month), day, hour, min, sec)

	v := model.Vec3{X: vel.X, Y: vel.Y, Z: vel.Z}
	p := model.Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}.Add(v.Scale(frac))
	if !p.IsFinite() || !v.IsFinite() {
		return model.StateVector{}, fmt.Errorf("%w: sgp4 output for %d is NaN/Inf", ErrUnavailable, el.CatalogNumber)
	}
	// Decayed or diverged solutions come back with absurd magnitudes.
	if mag := p.Norm(); mag < 6200.0 || mag > 500000.0 {
		return model.StateVector{}, fmt.Errorf("%w: sgp4 output for %d has magnitude %.1f km", ErrUnavailable, el.CatalogNumber, mag)
	}
	return model.StateVector{Position: p, Velocity: &v}, nil
}

func validateTLELines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}
