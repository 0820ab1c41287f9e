package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/internal/logging"
	"github.com/signalsfoundry/conjunction-assessment/internal/observability"
	"github.com/signalsfoundry/conjunction-assessment/model"
)

// ErrInvalidThreshold is returned for a non-positive or non-finite threshold.
var ErrInvalidThreshold = errors.New("threshold must be a positive number of kilometres")

func validateThreshold(km float64) error {
	if !(km > 0) || math.IsInf(km, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, km)
	}
	return nil
}

// Scanner performs the real-time pairwise proximity check over the
// positions objects carry right now.
type Scanner struct {
	opts options
}

// NewScanner constructs a Scanner.
func NewScanner(opts ...Option) *Scanner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Scanner{opts: o}
}

type located struct {
	idx int
	pos model.Vec3
	vel *model.Vec3
}

// DetectRealtime compares every pair of objects with a known position and
// returns those closer than thresholdKm, nearest first. Objects without a
// position are skipped. The time of closest approach is the scan time.
func (s *Scanner) DetectRealtime(objects []model.TrackedObject, thresholdKm float64) ([]model.CollisionEvent, error) {
	return s.DetectRealtimeContext(context.Background(), objects, thresholdKm)
}

// DetectRealtimeContext is DetectRealtime with a context for logging and tracing.
func (s *Scanner) DetectRealtimeContext(ctx context.Context, objects []model.TrackedObject, thresholdKm float64) ([]model.CollisionEvent, error) {
	started := time.Now()
	if err := validateThreshold(thresholdKm); err != nil {
		s.opts.metrics.ObserveScan(observability.KindRealtime, time.Since(started), nil, err)
		return nil, err
	}

	ctx, span := s.opts.tracer.Start(ctx, "conjunction.detect_realtime")
	defer span.End()
	log := logging.FromContext(ctx, s.opts.log)

	now := s.opts.clock.Now()
	k := s.opts.kmPerUnit

	// Copy positions up front; nothing below touches the caller's pointers.
	pts := make([]located, 0, len(objects))
	for i := range objects {
		o := &objects[i]
		if o.Position == nil || !o.Position.IsFinite() {
			continue
		}
		l := located{idx: i, pos: o.Position.Scale(k)}
		if o.Velocity != nil {
			v := o.Velocity.Scale(k)
			l.vel = &v
		}
		pts = append(pts, l)
	}

	// Repeated IDs can produce the same pair more than once; keep the closest.
	byPair := make(map[model.PairKey]int)
	var events []model.CollisionEvent
	for i := 0; i < len(pts); i++ {
		a := pts[i]
		for j := i + 1; j < len(pts); j++ {
			b := pts[j]
			d := a.pos.DistanceTo(b.pos)
			if d >= thresholdKm {
				continue
			}
			oa, ob := objects[a.idx], objects[b.idx]
			if oa.ID == ob.ID {
				continue
			}
			key := model.NewPairKey(oa.ID, ob.ID)
			prev, dup := byPair[key]
			if dup && d >= events[prev].DistanceKm {
				continue
			}

			ev := s.opts.risk.Assess(oa, ob, a.pos, b.pos, a.vel, b.vel, d)
			ev.TCA = now
			if dup {
				events[prev] = ev
				continue
			}
			byPair[key] = len(events)
			events = append(events, ev)
		}
	}

	slices.SortFunc(events, compareEvents)

	log.Debug(ctx, "realtime scan complete",
		logging.Int("objects", len(objects)),
		logging.Int("located", len(pts)),
		logging.Int("events", len(events)),
		logging.Float("threshold_km", thresholdKm),
	)
	s.opts.metrics.ObserveScan(observability.KindRealtime, time.Since(started), events, nil)
	return events, nil
}

func compareEvents(a, b model.CollisionEvent) int {
	switch {
	case model.LessEvent(a, b):
		return -1
	case model.LessEvent(b, a):
		return 1
	default:
		return 0
	}
}
