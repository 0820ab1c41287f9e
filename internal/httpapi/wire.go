package httpapi

import (
	"time"

	"github.com/signalsfoundry/conjunction-assessment/core"
	"github.com/signalsfoundry/conjunction-assessment/model"
)

type errorWire struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

type modeWire struct {
	Mode              string `json:"mode"`
	Label             string `json:"label"`
	Description       string `json:"description"`
	MaxObjects        int    `json:"max_objects"`
	MaxCandidatePairs int    `json:"max_candidate_pairs"`
}

type vecWire struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func toVecWire(v *model.Vec3) *vecWire {
	if v == nil {
		return nil
	}
	return &vecWire{X: v.X, Y: v.Y, Z: v.Z}
}

type objectWire struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	CatalogNumber   int        `json:"catalog_number,omitempty"`
	Regime          string     `json:"regime,omitempty"`
	PositionKm      *vecWire   `json:"position_km"`
	VelocityKmS     *vecWire   `json:"velocity_km_s,omitempty"`
	ElementAgeHours *float64   `json:"element_age_hours,omitempty"`
	PositionSigmaKm *float64   `json:"position_sigma_km,omitempty"`
	Epoch           *time.Time `json:"epoch,omitempty"`
}

func toObjectWire(o model.TrackedObject) objectWire {
	w := objectWire{
		ID:              o.ID,
		Name:            o.Name,
		CatalogNumber:   o.CatalogNumber,
		Regime:          string(o.Regime),
		PositionKm:      toVecWire(o.Position),
		VelocityKmS:     toVecWire(o.Velocity),
		ElementAgeHours: o.ElementAgeHours,
		PositionSigmaKm: o.PositionSigmaKm,
	}
	if o.State != nil {
		w.Epoch = timePtr(o.State.Epoch())
	}
	return w
}

type eventWire struct {
	ObjectA          string    `json:"object_a"`
	ObjectB          string    `json:"object_b"`
	NameA            string    `json:"name_a"`
	NameB            string    `json:"name_b"`
	DistanceKm       float64   `json:"distance_km"`
	TCA              time.Time `json:"tca"`
	Risk             string    `json:"risk"`
	PositionA        vecWire   `json:"position_a_km"`
	PositionB        vecWire   `json:"position_b_km"`
	RelativeSpeedKmS *float64  `json:"relative_speed_km_s,omitempty"`
	Probability      *float64  `json:"probability,omitempty"`
	SigmaAKm         *float64  `json:"sigma_a_km,omitempty"`
	SigmaBKm         *float64  `json:"sigma_b_km,omitempty"`
	StaleA           bool      `json:"stale_a"`
	StaleB           bool      `json:"stale_b"`
}

func toEventWires(events []model.CollisionEvent) []eventWire {
	out := make([]eventWire, 0, len(events))
	for _, ev := range events {
		out = append(out, eventWire{
			ObjectA:          ev.Pair.A,
			ObjectB:          ev.Pair.B,
			NameA:            ev.NameA,
			NameB:            ev.NameB,
			DistanceKm:       ev.DistanceKm,
			TCA:              ev.TCA,
			Risk:             string(ev.Risk),
			PositionA:        vecWire{X: ev.PositionA.X, Y: ev.PositionA.Y, Z: ev.PositionA.Z},
			PositionB:        vecWire{X: ev.PositionB.X, Y: ev.PositionB.Y, Z: ev.PositionB.Z},
			RelativeSpeedKmS: ev.RelativeSpeedKmS,
			Probability:      ev.Probability,
			SigmaAKm:         ev.SigmaAKm,
			SigmaBKm:         ev.SigmaBKm,
			StaleA:           ev.StaleA,
			StaleB:           ev.StaleB,
		})
	}
	return out
}

type realtimeWire struct {
	ScannedAt *time.Time  `json:"scanned_at,omitempty"`
	Events    []eventWire `json:"events"`
}

type predictionWire struct {
	Generation          uint64      `json:"generation"`
	Mode                string      `json:"mode"`
	Start               time.Time   `json:"start"`
	HorizonSeconds      float64     `json:"horizon_seconds"`
	ThresholdKm         float64     `json:"threshold_km"`
	InputObjects        int         `json:"input_objects"`
	EffectiveObjects    int         `json:"effective_objects"`
	CandidatePairs      int         `json:"candidate_pairs"`
	FilteredPairs       int         `json:"filtered_pairs"`
	BudgetExhausted     bool        `json:"budget_exhausted"`
	PropagationFailures int         `json:"propagation_failures"`
	Events              []eventWire `json:"events"`
}

func toPredictionWire(gen uint64, p *core.Prediction) predictionWire {
	return predictionWire{
		Generation:          gen,
		Mode:                string(p.Coverage.Mode),
		Start:               p.Start,
		HorizonSeconds:      p.Horizon.Seconds(),
		ThresholdKm:         p.ThresholdKm,
		InputObjects:        p.InputObjects,
		EffectiveObjects:    p.EffectiveObjects,
		CandidatePairs:      p.CandidatePairs,
		FilteredPairs:       p.FilteredPairs,
		BudgetExhausted:     p.BudgetExhausted,
		PropagationFailures: p.PropagationFailures,
		Events:              toEventWires(p.Events),
	}
}

type progressWire struct {
	Generation uint64  `json:"generation"`
	Phase      string  `json:"phase"`
	Percent    float64 `json:"percent"`
	Status     string  `json:"status"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
