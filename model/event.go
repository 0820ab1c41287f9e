package model

import "time"

// RiskLevel is the discrete collision risk band.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// Severity orders risk levels; higher is worse.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// PairKey identifies an unordered pair of objects. A is always the
// lexicographically smaller ID so (x,y) and (y,x) compare equal.
type PairKey struct {
	A, B string
}

// NewPairKey normalises the order of the two IDs.
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// Less orders pair keys deterministically.
func (k PairKey) Less(other PairKey) bool {
	if k.A != other.A {
		return k.A < other.A
	}
	return k.B < other.B
}

func (k PairKey) String() string { return k.A + "|" + k.B }

// CollisionEvent is one close approach. Events are values; scans return
// new slices and never edit earlier results.
type CollisionEvent struct {
	Pair PairKey

	NameA, NameB string

	DistanceKm float64
	TCA        time.Time
	Risk       RiskLevel

	PositionA, PositionB Vec3

	RelativeSpeedKmS *float64
	Probability      *float64
	SigmaAKm         *float64
	SigmaBKm         *float64

	StaleA, StaleB bool
}

// Stale reports whether either object's orbital state is older than the
// staleness threshold.
func (e CollisionEvent) Stale() bool { return e.StaleA || e.StaleB }

// LessEvent orders events by ascending distance, ties by pair key.
func LessEvent(a, b CollisionEvent) bool {
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	return a.Pair.Less(b.Pair)
}
