package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/conjunction-assessment/coverage"
	"github.com/signalsfoundry/conjunction-assessment/internal/logging"
	"github.com/signalsfoundry/conjunction-assessment/internal/observability"
	"github.com/signalsfoundry/conjunction-assessment/model"
	"github.com/signalsfoundry/conjunction-assessment/propagation"
)

// Prediction is the result of one predictive search.
type Prediction struct {
	Coverage    coverage.Configuration
	Start       time.Time
	Horizon     time.Duration
	ThresholdKm float64

	InputObjects        int
	EffectiveObjects    int
	CandidatePairs      int
	FilteredPairs       int
	BudgetExhausted     bool
	PropagationFailures int

	// Events are nearest first, capped at MaxResults.
	Events []model.CollisionEvent
}

// Predictor finds close approaches over a future horizon in three phases:
// an envelope filter over pairs, a coarse scan on a fixed grid and an
// iterative refinement around coarse minima.
type Predictor struct {
	prop propagation.Propagator
	opts options
}

// NewPredictor constructs a Predictor around prop.
func NewPredictor(prop propagation.Propagator, opts ...Option) *Predictor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.predict = o.predict.withDefaults()
	return &Predictor{prop: prop, opts: o}
}

// Config returns the effective search configuration.
func (p *Predictor) Config() PredictConfig { return p.opts.predict }

// PredictHorizon searches the next Horizon for pairs closer than
// thresholdKm among the objects the coverage mode admits. Unknown modes
// and bad thresholds fail before any work is done. onProgress may be nil.
// A cancelled ctx aborts the search and returns ctx.Err().
func (p *Predictor) PredictHorizon(ctx context.Context, objects []model.TrackedObject, thresholdKm float64, mode coverage.Mode, onProgress ProgressFunc) (*Prediction, error) {
	started := time.Now()
	pred, err := p.predict(ctx, objects, thresholdKm, mode, onProgress)
	var events []model.CollisionEvent
	if pred != nil {
		events = pred.Events
	}
	p.opts.metrics.ObserveScan(observability.KindPredictive, time.Since(started), events, err)
	return pred, err
}

func (p *Predictor) predict(ctx context.Context, objects []model.TrackedObject, thresholdKm float64, mode coverage.Mode, onProgress ProgressFunc) (*Prediction, error) {
	conf, err := coverage.Lookup(mode)
	if err != nil {
		return nil, err
	}
	if err := validateThreshold(thresholdKm); err != nil {
		return nil, err
	}

	ctx, span := p.opts.tracer.Start(ctx, "conjunction.predict_horizon", trace.WithAttributes(
		attribute.String("coverage.mode", string(conf.Mode)),
		attribute.Float64("threshold_km", thresholdKm),
		attribute.Int("objects.input", len(objects)),
	))
	defer span.End()
	log := logging.FromContext(ctx, p.opts.log)

	cfg := p.opts.predict
	budget := cfg.MaxCandidatePairs
	if conf.MaxCandidatePairs > 0 && conf.MaxCandidatePairs < budget {
		budget = conf.MaxCandidatePairs
	}

	snapshot := snapshotObjects(conf.Clip(objects))
	out := &Prediction{
		Coverage:         conf,
		Start:            p.opts.clock.Now(),
		Horizon:          cfg.Horizon,
		ThresholdKm:      thresholdKm,
		InputObjects:     len(objects),
		EffectiveObjects: len(snapshot),
	}

	tracker := newProgressTracker(onProgress, p.opts.metrics)
	s := newSearch(p, out.Start, thresholdKm, tracker)

	tracker.report(model.PhaseFiltering, 0, fmt.Sprintf("sampling %d objects", len(snapshot)))
	phaseCtx, phase := p.opts.tracer.Start(ctx, "conjunction.filter")
	tracks := s.sample(phaseCtx, snapshot)
	if err := ctx.Err(); err != nil {
		phase.End()
		return nil, p.abort(ctx, span, err)
	}
	pairs, filtered, exhausted := s.candidates(tracks, budget)
	phase.SetAttributes(attribute.Int("pairs.candidates", len(pairs)), attribute.Int("pairs.filtered", filtered))
	phase.End()

	out.CandidatePairs, out.FilteredPairs, out.BudgetExhausted = len(pairs), filtered, exhausted
	p.opts.metrics.ObservePairs(len(pairs), filtered)
	if exhausted {
		log.Warn(ctx, "candidate pair budget exhausted",
			logging.Int("budget", budget),
			logging.String("mode", string(conf.Mode)),
		)
	}
	tracker.report(model.PhaseFiltering, filteringEnd,
		fmt.Sprintf("%d candidate pairs, %d filtered", len(pairs), filtered))

	phaseCtx, phase = p.opts.tracer.Start(ctx, "conjunction.coarse_scan")
	scans := s.coarse(phaseCtx, tracks, pairs)
	phase.End()
	if err := ctx.Err(); err != nil {
		return nil, p.abort(ctx, span, err)
	}
	tracker.report(model.PhaseCoarse, coarseEnd, "coarse scan complete")

	phaseCtx, phase = p.opts.tracer.Start(ctx, "conjunction.refine")
	events := s.refine(phaseCtx, scans)
	phase.End()
	if err := ctx.Err(); err != nil {
		return nil, p.abort(ctx, span, err)
	}

	slices.SortFunc(events, compareEvents)
	if len(events) > cfg.MaxResults {
		events = events[:cfg.MaxResults]
	}
	out.Events = events
	out.PropagationFailures = int(s.failures.Load())
	p.opts.metrics.AddPropagationFailures(out.PropagationFailures)

	span.SetAttributes(
		attribute.Int("objects.effective", out.EffectiveObjects),
		attribute.Int("pairs.candidates", out.CandidatePairs),
		attribute.Int("events", len(events)),
	)
	log.Info(ctx, "predictive scan complete",
		logging.String("mode", string(conf.Mode)),
		logging.Int("objects", out.EffectiveObjects),
		logging.Int("candidate_pairs", out.CandidatePairs),
		logging.Int("filtered_pairs", out.FilteredPairs),
		logging.Int("propagation_failures", out.PropagationFailures),
		logging.Int("events", len(events)),
	)
	tracker.report(model.PhaseComplete, 100, fmt.Sprintf("%d close approaches found", len(events)))
	return out, nil
}

func (p *Predictor) abort(ctx context.Context, span trace.Span, err error) error {
	span.SetStatus(codes.Error, err.Error())
	logging.FromContext(ctx, p.opts.log).Debug(ctx, "predictive scan aborted", logging.Err(err))
	return err
}

// snapshotObjects deep-copies objects, orders them by ID and drops repeated
// IDs so pair enumeration is deterministic.
func snapshotObjects(objects []model.TrackedObject) []model.TrackedObject {
	out := make([]model.TrackedObject, len(objects))
	for i := range objects {
		out[i] = objects[i].Clone()
	}
	slices.SortStableFunc(out, func(a, b model.TrackedObject) int {
		return strings.Compare(a.ID, b.ID)
	})
	return slices.CompactFunc(out, func(a, b model.TrackedObject) bool {
		return a.ID == b.ID
	})
}
