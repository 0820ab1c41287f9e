package core

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/model"
	"github.com/signalsfoundry/conjunction-assessment/propagation"
	"github.com/signalsfoundry/conjunction-assessment/timectrl"
)

var testStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// linearState moves in a straight line through origin at epoch.
type linearState struct {
	epoch  time.Time
	origin model.Vec3
	vel    *model.Vec3
	// unavailable marks [from, to) as not propagatable.
	from, to time.Time
}

func (s linearState) Epoch() time.Time { return s.epoch }

// circularState is a two-body circular orbit inclined about the X axis.
type circularState struct {
	radiusKm    float64
	phase       float64
	inclination float64
}

func (circularState) Epoch() time.Time { return testStart }

func (s circularState) at(at time.Time) model.StateVector {
	n := math.Sqrt(earthMuKm3S2 / (s.radiusKm * s.radiusKm * s.radiusKm))
	theta := s.phase + n*at.Sub(testStart).Seconds()
	sin, cos := math.Sincos(theta)
	si, ci := math.Sincos(s.inclination)
	pos := model.Vec3{X: s.radiusKm * cos, Y: s.radiusKm * sin * ci, Z: s.radiusKm * sin * si}
	v := s.radiusKm * n
	vel := model.Vec3{X: -v * sin, Y: v * cos * ci, Z: v * cos * si}
	return model.StateVector{Position: pos, Velocity: &vel}
}

var errOutOfWindow = errors.New("outside propagation window")

// testPropagator handles the synthetic states and counts calls per object.
type testPropagator struct {
	mu    sync.Mutex
	calls map[model.OrbitalState]int
}

func (p *testPropagator) Propagate(state model.OrbitalState, at time.Time) (model.StateVector, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = make(map[model.OrbitalState]int)
	}
	p.calls[state]++
	p.mu.Unlock()

	switch s := state.(type) {
	case linearState:
		if !s.from.IsZero() && !at.Before(s.from) && at.Before(s.to) {
			return model.StateVector{}, errOutOfWindow
		}
		if s.vel == nil {
			return model.StateVector{Position: s.origin}, nil
		}
		dt := at.Sub(s.epoch).Seconds()
		v := *s.vel
		return model.StateVector{Position: s.origin.Add(v.Scale(dt)), Velocity: &v}, nil
	case circularState:
		return s.at(at), nil
	case *blockingState:
		<-s.release
		return model.StateVector{Position: s.pos}, nil
	}
	return model.StateVector{}, propagation.ErrUnavailable
}

func (p *testPropagator) called(state model.OrbitalState) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[state]
}

// blockingState parks every propagation until release is closed.
type blockingState struct {
	pos     model.Vec3
	release chan struct{}
}

func (*blockingState) Epoch() time.Time { return testStart }

func staticObject(id string, pos model.Vec3) model.TrackedObject {
	return model.TrackedObject{
		ID:    id,
		Name:  id,
		State: linearState{epoch: testStart, origin: pos},
	}
}

// flybyPair is a fixed object reporting zero velocity and a second one
// passing 8.2 km from it at minute 723 of the horizon, at 0.5 km/s.
func flybyPair() (model.TrackedObject, model.TrackedObject, time.Time) {
	tca := testStart.Add(723 * time.Minute)
	a := model.TrackedObject{
		ID:    "a-fixed",
		Name:  "a-fixed",
		State: linearState{epoch: testStart, origin: model.Vec3{X: 7000}, vel: &model.Vec3{}},
	}
	b := model.TrackedObject{
		ID:   "b-flyby",
		Name: "FLYBY",
		State: linearState{
			epoch:  tca,
			origin: model.Vec3{X: 7008.2},
			vel:    &model.Vec3{Y: 0.5},
		},
	}
	return a, b, tca
}

// headOnPair closes at 15 km/s and misses by missKm at tca.
func headOnPair(tca time.Time, missKm float64) (model.TrackedObject, model.TrackedObject) {
	a := model.TrackedObject{
		ID:    "head-a",
		Name:  "HEAD A",
		State: linearState{epoch: tca, origin: model.Vec3{X: 7000}, vel: &model.Vec3{Y: 7.5}},
	}
	b := model.TrackedObject{
		ID:    "head-b",
		Name:  "HEAD B",
		State: linearState{epoch: tca, origin: model.Vec3{X: 7000 + missKm}, vel: &model.Vec3{Y: -7.5}},
	}
	return a, b
}

func newTestPredictor(prop propagation.Propagator, opts ...Option) *Predictor {
	base := []Option{WithClock(timectrl.FixedClock(testStart))}
	return NewPredictor(prop, append(base, opts...)...)
}
