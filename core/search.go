package core

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// search carries the per-run state shared by the three phases.
type search struct {
	p         *Predictor
	cfg       PredictConfig
	start     time.Time
	end       time.Time
	grid      []time.Time
	threshold float64
	tracker   *progressTracker
	failures  atomic.Int64
}

func newSearch(p *Predictor, start time.Time, thresholdKm float64, tracker *progressTracker) *search {
	cfg := p.opts.predict
	s := &search{
		p:         p,
		cfg:       cfg,
		start:     start,
		end:       start.Add(cfg.Horizon),
		threshold: thresholdKm,
		tracker:   tracker,
	}
	n := int((cfg.Horizon + cfg.CoarseInterval - 1) / cfg.CoarseInterval)
	s.grid = make([]time.Time, n)
	for k := range s.grid {
		s.grid[k] = start.Add(time.Duration(k) * cfg.CoarseInterval)
	}
	return s
}

// propagate wraps the propagator; any failure or non-finite result marks
// the sample unavailable and is counted.
func (s *search) propagate(obj model.TrackedObject, at time.Time) (model.StateVector, bool) {
	if obj.State == nil {
		s.failures.Add(1)
		return model.StateVector{}, false
	}
	sv, err := s.p.prop.Propagate(obj.State, at)
	if err != nil || !sv.Position.IsFinite() || (sv.Velocity != nil && !sv.Velocity.IsFinite()) {
		s.failures.Add(1)
		return model.StateVector{}, false
	}
	return sv, true
}

// approach is the closest point found so far for one pair.
type approach struct {
	found      bool
	distanceKm float64
	at         time.Time
	posA, posB model.Vec3
	velA, velB *model.Vec3
}

func (a *approach) offer(d float64, at time.Time, sa, sb model.StateVector) bool {
	if a.found && d >= a.distanceKm {
		return false
	}
	*a = approach{
		found:      true,
		distanceKm: d,
		at:         at,
		posA:       sa.Position,
		posB:       sb.Position,
		velA:       sa.Velocity,
		velB:       sb.Velocity,
	}
	return true
}

// pairScan is the coarse result for one candidate pair.
type pairScan struct {
	a, b  *track
	best  approach
	seeds []int
}

// coarse finds each pair's minimum over the shared samples and picks the
// local minima worth refining.
func (s *search) coarse(ctx context.Context, tracks []*track, pairs [][2]int) []pairScan {
	scans := make([]pairScan, len(pairs))
	var done atomic.Int64

	forEach(ctx, s.cfg.Workers, len(pairs), func(i int) {
		a, b := tracks[pairs[i][0]], tracks[pairs[i][1]]
		scans[i] = s.scanPair(a, b)

		n := done.Add(1)
		s.tracker.report(model.PhaseCoarse, span(filteringEnd, coarseEnd, int(n), len(pairs)),
			fmt.Sprintf("scanned %d/%d pairs", n, len(pairs)))
	})
	return scans
}

func (s *search) scanPair(a, b *track) pairScan {
	ps := pairScan{a: a, b: b}

	common := make([]bool, len(s.grid))
	var idx []int
	var dist []float64
	for k := range s.grid {
		if !a.ok[k] || !b.ok[k] {
			continue
		}
		common[k] = true
		d := a.pos[k].DistanceTo(b.pos[k])
		idx = append(idx, k)
		dist = append(dist, d)
		ps.best.offer(d, s.grid[k],
			model.StateVector{Position: a.pos[k], Velocity: a.vel[k]},
			model.StateVector{Position: b.pos[k], Velocity: b.vel[k]})
	}
	if len(idx) == 0 {
		return ps
	}

	// The pair can be no closer than d - reach anywhere near a sample;
	// minima further away than that can't cross the threshold.
	reach := (a.speed + b.speed) * s.reach(common).Seconds()

	type seed struct {
		k int
		d float64
	}
	var minima []seed
	for i, d := range dist {
		if i > 0 && dist[i-1] < d {
			continue
		}
		if i+1 < len(dist) && dist[i+1] < d {
			continue
		}
		if math.IsInf(reach, 1) || d-reach < s.threshold {
			minima = append(minima, seed{k: idx[i], d: d})
		}
	}
	slices.SortStableFunc(minima, func(x, y seed) int {
		switch {
		case x.d < y.d:
			return -1
		case x.d > y.d:
			return 1
		default:
			return 0
		}
	})
	if len(minima) > s.cfg.RefineSeeds {
		minima = minima[:s.cfg.RefineSeeds]
	}
	for _, m := range minima {
		ps.seeds = append(ps.seeds, m.k)
	}
	return ps
}

// refine narrows every seeded pair to FineResolution and returns the
// pairs whose minimum falls below the threshold.
func (s *search) refine(ctx context.Context, scans []pairScan) []model.CollisionEvent {
	var jobs []int
	for i := range scans {
		if len(scans[i].seeds) > 0 {
			jobs = append(jobs, i)
		}
	}

	found := make([]*model.CollisionEvent, len(jobs))
	var done atomic.Int64
	forEach(ctx, s.cfg.Workers, len(jobs), func(j int) {
		ps := &scans[jobs[j]]
		for _, k := range ps.seeds {
			s.refineSeed(ps, s.grid[k])
		}
		if ps.best.found && ps.best.distanceKm < s.threshold {
			ev := s.p.opts.risk.Assess(ps.a.obj, ps.b.obj,
				ps.best.posA, ps.best.posB, ps.best.velA, ps.best.velB, ps.best.distanceKm)
			ev.TCA = ps.best.at
			found[j] = &ev
		}

		n := done.Add(1)
		s.tracker.report(model.PhaseRefining, span(coarseEnd, refiningEnd, int(n), len(jobs)),
			fmt.Sprintf("refined %d/%d pairs", n, len(jobs)))
	})

	var events []model.CollisionEvent
	for _, ev := range found {
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// refineSeed searches [t-interval, t+interval] in RefineDivisions steps,
// re-centring on the closest step and shrinking the bracket until the step
// reaches FineResolution, then polishes the result. Anything closer than the pair's best so far
// replaces it, so the result is never worse than the coarse minimum.
func (s *search) refineSeed(ps *pairScan, center time.Time) {
	lo, hi := s.clamp(center.Add(-s.cfg.CoarseInterval), center.Add(s.cfg.CoarseInterval))
	div := time.Duration(s.cfg.RefineDivisions)

	for {
		step := hi.Sub(lo) / div
		if step <= 0 {
			return
		}

		var local approach
		for i := time.Duration(0); i <= div; i++ {
			at := lo.Add(i * step)
			sa, okA := s.propagate(ps.a.obj, at)
			if !okA {
				continue
			}
			sb, okB := s.propagate(ps.b.obj, at)
			if !okB {
				continue
			}
			d := sa.Position.DistanceTo(sb.Position)
			local.offer(d, at, sa, sb)
		}
		if !local.found {
			return
		}
		converged := step <= s.cfg.FineResolution
		if converged {
			s.polish(ps, &local, step)
		}
		if local.distanceKm < ps.best.distanceKm || !ps.best.found {
			ps.best = local
		}
		if converged {
			return
		}
		lo, hi = s.clamp(local.at.Add(-step), local.at.Add(step))
	}
}

// polish solves the straight-line closest approach from the converged
// minimum, t + τ with τ = -(Δr·Δv)/|Δv|² clamped to one step, and keeps the
// propagated state there when it is closer.
func (s *search) polish(ps *pairScan, local *approach, step time.Duration) {
	if local.velA == nil || local.velB == nil {
		return
	}
	dr := local.posB.Sub(local.posA)
	dv := local.velB.Sub(*local.velA)
	vv := dv.Dot(dv)
	if vv == 0 {
		return
	}
	limit := step.Seconds()
	tau := math.Max(-limit, math.Min(limit, -dr.Dot(dv)/vv))
	at := local.at.Add(time.Duration(tau * float64(time.Second)))
	if at.Equal(local.at) || at.Before(s.start) || at.After(s.end) {
		return
	}

	sa, ok := s.propagate(ps.a.obj, at)
	if !ok {
		return
	}
	sb, ok := s.propagate(ps.b.obj, at)
	if !ok {
		return
	}
	local.offer(sa.Position.DistanceTo(sb.Position), at, sa, sb)
}

func (s *search) clamp(lo, hi time.Time) (time.Time, time.Time) {
	if lo.Before(s.start) {
		lo = s.start
	}
	if hi.After(s.end) {
		hi = s.end
	}
	return lo, hi
}
