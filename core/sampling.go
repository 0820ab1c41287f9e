package core

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// earthMuKm3S2 is the Earth's gravitational parameter.
const earthMuKm3S2 = 398600.4418

// track holds one object's samples over the coarse grid.
type track struct {
	obj model.TrackedObject

	pos    []model.Vec3
	vel    []*model.Vec3
	ok     []bool
	valid  int
	speed  float64 // bound on speed in km/s, +Inf when unknown
	lo, hi float64 // radial envelope in km
}

// sample propagates every object over the coarse grid. This is the only
// place the filtering phase calls the propagator; the coarse phase reuses
// these samples.
func (s *search) sample(ctx context.Context, objects []model.TrackedObject) []*track {
	tracks := make([]*track, len(objects))
	var done atomic.Int64

	forEach(ctx, s.cfg.Workers, len(objects), func(i int) {
		tr := &track{
			obj: objects[i],
			pos: make([]model.Vec3, len(s.grid)),
			vel: make([]*model.Vec3, len(s.grid)),
			ok:  make([]bool, len(s.grid)),
		}
		for k, at := range s.grid {
			sv, ok := s.propagate(tr.obj, at)
			if !ok {
				continue
			}
			tr.pos[k], tr.vel[k], tr.ok[k] = sv.Position, sv.Velocity, true
			tr.valid++
		}
		s.bound(tr)
		tracks[i] = tr

		n := done.Add(1)
		s.tracker.report(model.PhaseFiltering, span(0, filteringEnd-5, int(n), len(objects)),
			fmt.Sprintf("sampled %d/%d objects", n, len(objects)))
	})
	return tracks
}

// bound computes the radial envelope [lo, hi] the object can't leave over
// the horizon. Two bounds apply and the envelope is their intersection:
//
//   - sampled radii padded by the farthest the object could drift between
//     samples at its bounding speed;
//   - two-body perigee/apogee from each sampled state vector, when every
//     sample carries a bound velocity.
//
// The result always contains the sampled radii and is widened by
// EnvelopeMarginKm.
func (s *search) bound(tr *track) {
	tr.lo, tr.hi = math.Inf(1), math.Inf(-1)
	if tr.valid == 0 {
		return
	}

	tr.speed = s.speedBound(tr)
	reach := s.reach(tr.ok).Seconds()

	minR, maxR := math.Inf(1), math.Inf(-1)
	kepLo, kepHi := math.Inf(1), math.Inf(-1)
	keplerian := true
	for k, ok := range tr.ok {
		if !ok {
			continue
		}
		r := tr.pos[k].Norm()
		minR = math.Min(minR, r)
		maxR = math.Max(maxR, r)

		if tr.vel[k] == nil {
			keplerian = false
			continue
		}
		rp, ra, bound := apsides(tr.pos[k], *tr.vel[k])
		if !bound {
			keplerian = false
			continue
		}
		kepLo = math.Min(kepLo, rp)
		kepHi = math.Max(kepHi, ra)
	}

	lo, hi := math.Inf(-1), math.Inf(1)
	if !math.IsInf(tr.speed, 1) {
		pad := tr.speed * reach
		lo, hi = minR-pad, maxR+pad
	}
	if keplerian {
		lo = math.Max(lo, kepLo)
		hi = math.Min(hi, kepHi)
	}
	margin := s.cfg.EnvelopeMarginKm
	tr.lo = math.Min(lo, minR) - margin
	tr.hi = math.Max(hi, maxR) + margin
}

// speedBound returns an upper bound for the object's speed: the largest
// sampled velocity, or the largest chord speed stretched by π/2 (arc over
// chord for arcs up to half an orbit) when velocities are missing.
func (s *search) speedBound(tr *track) float64 {
	maxSpeed := 0.0
	withVel := 0
	for k, ok := range tr.ok {
		if ok && tr.vel[k] != nil {
			maxSpeed = math.Max(maxSpeed, tr.vel[k].Norm())
			withVel++
		}
	}
	if withVel == tr.valid {
		return maxSpeed * s.cfg.SpeedSafetyFactor
	}

	prev := -1
	maxSpeed = 0
	for k, ok := range tr.ok {
		if !ok {
			continue
		}
		if prev >= 0 {
			// Chords across more than two intervals may span over half an
			// orbit, where the π/2 stretch no longer bounds the arc.
			if k-prev > 2 {
				return math.Inf(1)
			}
			dt := s.grid[k].Sub(s.grid[prev]).Seconds()
			maxSpeed = math.Max(maxSpeed, tr.pos[k].DistanceTo(tr.pos[prev])/dt*math.Pi/2)
		}
		prev = k
	}
	if prev < 0 || tr.valid < 2 {
		return math.Inf(1)
	}
	return maxSpeed * s.cfg.SpeedSafetyFactor
}

// reach is the longest time any instant of the horizon lies from the
// nearest valid sample in ok.
func (s *search) reach(ok []bool) time.Duration {
	first, last := -1, -1
	var longest time.Duration
	for k, valid := range ok {
		if !valid {
			continue
		}
		if first < 0 {
			first = k
		} else if half := s.grid[k].Sub(s.grid[last]) / 2; half > longest {
			longest = half
		}
		last = k
	}
	if first < 0 {
		return s.end.Sub(s.start)
	}
	if lead := s.grid[first].Sub(s.start); lead > longest {
		longest = lead
	}
	if trail := s.end.Sub(s.grid[last]); trail > longest {
		longest = trail
	}
	return longest
}

// apsides returns two-body perigee and apogee radii for a state vector.
// ok is false for unbound (parabolic or hyperbolic) or degenerate states.
func apsides(pos, vel model.Vec3) (rp, ra float64, ok bool) {
	r := pos.Norm()
	if r == 0 {
		return 0, 0, false
	}
	energy := vel.Dot(vel)/2 - earthMuKm3S2/r
	if energy >= 0 {
		return 0, 0, false
	}
	a := -earthMuKm3S2 / (2 * energy)
	h := pos.Cross(vel).Norm()
	e2 := 1 - h*h/(earthMuKm3S2*a)
	if e2 < 0 {
		e2 = 0
	}
	e := math.Sqrt(e2)
	return a * (1 - e), a * (1 + e), true
}

// candidates enumerates surviving pairs in fixed (i<j) order and stops at
// budget. Pairs are dropped only when their radial envelopes are further
// apart than the threshold: |rA - rB| <= |A - B| at every instant.
func (s *search) candidates(tracks []*track, budget int) (pairs [][2]int, filtered int, exhausted bool) {
	for i := 0; i < len(tracks); i++ {
		a := tracks[i]
		if a.valid == 0 {
			continue
		}
		for j := i + 1; j < len(tracks); j++ {
			b := tracks[j]
			if b.valid == 0 {
				continue
			}
			if gap := math.Max(b.lo-a.hi, a.lo-b.hi); gap >= s.threshold {
				filtered++
				continue
			}
			if len(pairs) >= budget {
				return pairs, filtered, true
			}
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return pairs, filtered, false
}
