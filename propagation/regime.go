package propagation

import (
	"math"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// earthMuKm3S2 is the WGS-72 gravitational parameter, matching the SGP4
// constants used for propagation.
const earthMuKm3S2 = 398600.8

// Regime boundaries, altitudes in km above the mean Earth radius.
const (
	leoMaxAltitudeKm = 2000.0
	geoAltitudeKm    = 35786.0
	geoBandKm        = 500.0
	heoEccentricity  = 0.25
)

// SemiMajorAxisKm derives the semi-major axis from a mean motion in
// revolutions per day.
func SemiMajorAxisKm(meanMotionRevPerDay float64) float64 {
	if meanMotionRevPerDay <= 0 {
		return 0
	}
	n := meanMotionRevPerDay * 2 * math.Pi / 86400.0
	return math.Cbrt(earthMuKm3S2 / (n * n))
}

// ClassifyRegime buckets an orbit by its shape.
func ClassifyRegime(meanMotionRevPerDay, eccentricity float64) model.OrbitRegime {
	a := SemiMajorAxisKm(meanMotionRevPerDay)
	if a <= 0 || eccentricity < 0 || eccentricity >= 1 {
		return model.RegimeUnknown
	}
	if eccentricity > heoEccentricity {
		return model.RegimeHEO
	}
	apogeeAlt := a*(1+eccentricity) - model.EarthRadiusKm
	perigeeAlt := a*(1-eccentricity) - model.EarthRadiusKm
	switch {
	case apogeeAlt <= leoMaxAltitudeKm:
		return model.RegimeLEO
	case math.Abs(perigeeAlt-geoAltitudeKm) <= geoBandKm && math.Abs(apogeeAlt-geoAltitudeKm) <= geoBandKm:
		return model.RegimeGEO
	case apogeeAlt < geoAltitudeKm-geoBandKm:
		return model.RegimeMEO
	default:
		return model.RegimeHEO
	}
}

// Regime classifies parsed elements.
func (e *Elements) Regime() model.OrbitRegime {
	return ClassifyRegime(e.meanMotion, e.eccentricity)
}
