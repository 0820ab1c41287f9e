// Package risk maps miss distance and positional uncertainty to a discrete
// risk level, a collision probability and a data-quality flag.
package risk

import (
	"math"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// Band upper bounds in kilometres. Each bound is inclusive.
const (
	CriticalKm = 1.0
	HighKm     = 10.0
	MediumKm   = 25.0
)

// DefaultStaleAfterHours is the element age beyond which input is stale.
const DefaultStaleAfterHours = 168.0

// Classify returns the risk level for a minimum separation in kilometres.
func Classify(distanceKm float64) model.RiskLevel {
	switch {
	case distanceKm <= CriticalKm:
		return model.RiskCritical
	case distanceKm <= HighKm:
		return model.RiskHigh
	case distanceKm <= MediumKm:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Probability returns a collision probability in [0,1] from the miss
// distance and the 1-sigma uncertainty of both objects, using an isotropic
// Gaussian overlap exp(-d²/2σ²) with σ² = σA² + σB².
func Probability(missKm, sigmaAKm, sigmaBKm float64) float64 {
	variance := sigmaAKm*sigmaAKm + sigmaBKm*sigmaBKm
	if variance <= 0 || math.IsNaN(variance) {
		if missKm <= 0 {
			return 1
		}
		return 0
	}
	p := math.Exp(-(missKm * missKm) / (2 * variance))
	return math.Max(0, math.Min(1, p))
}

// IsStale reports whether an element age exceeds the given threshold.
func IsStale(ageHours *float64, thresholdHours float64) bool {
	return ageHours != nil && *ageHours > thresholdHours
}

// AgeSigma estimates a 1-sigma position error from element age when an
// object carries no explicit uncertainty.
type AgeSigma struct {
	BaseKm          float64
	GrowthKmPerHour float64
}

func (a AgeSigma) estimate(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	return a.BaseKm + a.GrowthKmPerHour*ageHours
}

// Model fills the derived fields of a CollisionEvent.
type Model struct {
	StaleAfterHours float64
	// AgeSigma is optional; nil means unknown uncertainty stays unknown.
	AgeSigma *AgeSigma
}

// DefaultModel returns the model with the standard staleness threshold and
// no age-derived uncertainty.
func DefaultModel() Model {
	return Model{StaleAfterHours: DefaultStaleAfterHours}
}

// Assess builds the event for a pair at its minimum separation.
func (m Model) Assess(a, b model.TrackedObject, posA, posB model.Vec3, velA, velB *model.Vec3, distanceKm float64) model.CollisionEvent {
	staleAfter := m.StaleAfterHours
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfterHours
	}

	pair := model.NewPairKey(a.ID, b.ID)
	if pair.A != a.ID {
		a, b = b, a
		posA, posB = posB, posA
		velA, velB = velB, velA
	}

	ev := model.CollisionEvent{
		Pair:       pair,
		NameA:      a.Name,
		NameB:      b.Name,
		DistanceKm: distanceKm,
		Risk:       Classify(distanceKm),
		PositionA:  posA,
		PositionB:  posB,
		StaleA:     IsStale(a.ElementAgeHours, staleAfter),
		StaleB:     IsStale(b.ElementAgeHours, staleAfter),
	}

	if velA != nil && velB != nil {
		ev.RelativeSpeedKmS = model.Float64(velA.Sub(*velB).Norm())
	}

	ev.SigmaAKm = m.sigma(a)
	ev.SigmaBKm = m.sigma(b)
	if ev.SigmaAKm != nil && ev.SigmaBKm != nil {
		ev.Probability = model.Float64(Probability(distanceKm, *ev.SigmaAKm, *ev.SigmaBKm))
	}
	return ev
}

func (m Model) sigma(o model.TrackedObject) *float64 {
	if o.PositionSigmaKm != nil {
		return model.Float64(*o.PositionSigmaKm)
	}
	if m.AgeSigma != nil && o.ElementAgeHours != nil {
		return model.Float64(m.AgeSigma.estimate(*o.ElementAgeHours))
	}
	return nil
}
