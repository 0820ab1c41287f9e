package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/coverage"
	"github.com/signalsfoundry/conjunction-assessment/model"
)

func TestPredictHorizon_RefinesFlyby(t *testing.T) {
	a, b, tca := flybyPair()
	p := newTestPredictor(&testPropagator{})

	pred, err := p.PredictHorizon(context.Background(), []model.TrackedObject{b, a}, 50, coverage.Full, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if len(pred.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pred.Events))
	}
	ev := pred.Events[0]
	if ev.Pair != (model.PairKey{A: "a-fixed", B: "b-flyby"}) {
		t.Fatalf("unexpected pair %v", ev.Pair)
	}
	if math.Abs(ev.DistanceKm-8.2) > 0.05 {
		t.Fatalf("expected ~8.2 km, got %v", ev.DistanceKm)
	}
	if ev.Risk != model.RiskHigh {
		t.Fatalf("expected high risk, got %s", ev.Risk)
	}
	if d := ev.TCA.Sub(tca); d < -2*time.Second || d > 2*time.Second {
		t.Fatalf("TCA %v more than 2s from %v", ev.TCA, tca)
	}
	if ev.RelativeSpeedKmS == nil || math.Abs(*ev.RelativeSpeedKmS-0.5) > 1e-9 {
		t.Fatalf("expected relative speed 0.5, got %v", ev.RelativeSpeedKmS)
	}
	if ev.Probability != nil {
		t.Fatalf("probability should be omitted without sigma, got %v", *ev.Probability)
	}
}

func TestPredictHorizon_RefinedNotWorseThanCoarse(t *testing.T) {
	a, b, _ := flybyPair()
	s := newSearch(newTestPredictor(&testPropagator{}), testStart, 50, newProgressTracker(nil, nil))
	tracks := s.sample(context.Background(), []model.TrackedObject{a, b})
	scan := s.scanPair(tracks[0], tracks[1])
	coarse := scan.best.distanceKm
	if coarse < 50 {
		t.Fatalf("coarse minimum should miss the encounter, got %v", coarse)
	}
	if len(scan.seeds) == 0 {
		t.Fatalf("expected the coarse minimum to be seeded")
	}

	events := s.refine(context.Background(), []pairScan{scan})
	if len(events) != 1 || events[0].DistanceKm >= coarse {
		t.Fatalf("refinement did not improve on coarse %v: %+v", coarse, events)
	}
}

func TestPredictHorizon_HeadOnBetweenSteps(t *testing.T) {
	for _, offset := range []time.Duration{0, 400 * time.Millisecond, 37500 * time.Millisecond} {
		t.Run(offset.String(), func(t *testing.T) {
			tca := testStart.Add(723*time.Minute + offset)
			a, b := headOnPair(tca, 0.3)
			p := newTestPredictor(&testPropagator{})

			pred, err := p.PredictHorizon(context.Background(), []model.TrackedObject{a, b}, 50, coverage.Quick, nil)
			if err != nil {
				t.Fatalf("PredictHorizon: %v", err)
			}
			if len(pred.Events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(pred.Events))
			}
			ev := pred.Events[0]
			if math.Abs(ev.DistanceKm-0.3) > 0.05 {
				t.Fatalf("expected ~0.3 km, got %v", ev.DistanceKm)
			}
			if ev.Risk != model.RiskCritical {
				t.Fatalf("expected critical risk, got %s", ev.Risk)
			}
			if d := ev.TCA.Sub(tca); d < -time.Millisecond || d > time.Millisecond {
				t.Fatalf("TCA %v is %v from %v", ev.TCA, d, tca)
			}
			if ev.RelativeSpeedKmS == nil || math.Abs(*ev.RelativeSpeedKmS-15) > 1e-9 {
				t.Fatalf("expected relative speed 15, got %v", ev.RelativeSpeedKmS)
			}
		})
	}
}

func TestPredictHorizon_ProgressMonotone(t *testing.T) {
	a, b, _ := flybyPair()
	p := newTestPredictor(&testPropagator{})

	var mu sync.Mutex
	var seen []model.PredictionProgress
	_, err := p.PredictHorizon(context.Background(), []model.TrackedObject{a, b}, 50, coverage.Quick,
		func(pp model.PredictionProgress) {
			mu.Lock()
			seen = append(seen, pp)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}

	if len(seen) == 0 {
		t.Fatalf("no progress reported")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Percent < seen[i-1].Percent {
			t.Fatalf("progress went backwards: %+v -> %+v", seen[i-1], seen[i])
		}
		if phaseRank[seen[i].Phase] < phaseRank[seen[i-1].Phase] {
			t.Fatalf("phase went backwards: %+v -> %+v", seen[i-1], seen[i])
		}
	}
	last := seen[len(seen)-1]
	if last.Phase != model.PhaseComplete || last.Percent != 100 {
		t.Fatalf("expected final progress complete/100, got %+v", last)
	}
	if seen[0].Phase != model.PhaseFiltering {
		t.Fatalf("expected to start filtering, got %+v", seen[0])
	}
}

func TestPredictHorizon_CapsResults(t *testing.T) {
	var objects []model.TrackedObject
	for i := 0; i < 60; i++ {
		objects = append(objects, staticObject(fmt.Sprintf("obj-%02d", i), model.Vec3{X: 7000 + float64(i)*0.1}))
	}
	p := newTestPredictor(&testPropagator{})

	pred, err := p.PredictHorizon(context.Background(), objects, 50, coverage.Full, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if pred.CandidatePairs != 60*59/2 {
		t.Fatalf("expected every pair to be a candidate, got %d", pred.CandidatePairs)
	}
	if len(pred.Events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(pred.Events))
	}
	for i := 1; i < len(pred.Events); i++ {
		if model.LessEvent(pred.Events[i], pred.Events[i-1]) {
			t.Fatalf("events not sorted at %d", i)
		}
	}
	if d := pred.Events[0].DistanceKm; math.Abs(d-0.1) > 1e-6 {
		t.Fatalf("expected nearest at 0.1 km, got %v", d)
	}
}

func TestPredictHorizon_CoverageClipsObjects(t *testing.T) {
	prop := &testPropagator{}
	var objects []model.TrackedObject
	for i := 0; i < 500; i++ {
		objects = append(objects, staticObject(fmt.Sprintf("obj-%03d", i), model.Vec3{X: 7000 + float64(i)*100}))
	}
	p := newTestPredictor(prop)

	pred, err := p.PredictHorizon(context.Background(), objects, 50, coverage.Standard, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if pred.InputObjects != 500 || pred.EffectiveObjects != 200 {
		t.Fatalf("expected 500 in / 200 effective, got %d / %d", pred.InputObjects, pred.EffectiveObjects)
	}
	if pred.FilteredPairs != 200*199/2 || pred.CandidatePairs != 0 {
		t.Fatalf("expected every pair filtered, got %d filtered %d candidates", pred.FilteredPairs, pred.CandidatePairs)
	}
	if len(pred.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(pred.Events))
	}
	if prop.called(objects[250].State) != 0 {
		t.Fatalf("object beyond the coverage cap was propagated")
	}
	if prop.called(objects[199].State) == 0 {
		t.Fatalf("object within the coverage cap was not propagated")
	}
}

func TestPredictHorizon_CandidateBudget(t *testing.T) {
	var objects []model.TrackedObject
	for i := 0; i < 10; i++ {
		objects = append(objects, staticObject(fmt.Sprintf("obj-%02d", i), model.Vec3{X: 7000 + float64(i)}))
	}
	cfg := DefaultPredictConfig()
	cfg.MaxCandidatePairs = 7
	p := newTestPredictor(&testPropagator{}, WithPredictConfig(cfg))

	pred, err := p.PredictHorizon(context.Background(), objects, 50, coverage.Full, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if pred.CandidatePairs != 7 || !pred.BudgetExhausted {
		t.Fatalf("expected 7 candidates with budget exhausted, got %d / %v", pred.CandidatePairs, pred.BudgetExhausted)
	}
	if len(pred.Events) != 7 {
		t.Fatalf("expected one event per candidate, got %d", len(pred.Events))
	}
}

func TestPredictHorizon_ToleratesUnavailableSamples(t *testing.T) {
	a, b, tca := flybyPair()
	st := b.State.(linearState)
	st.from, st.to = testStart, testStart.Add(6*time.Hour)
	b.State = st
	ghost := model.TrackedObject{ID: "c-ghost", Name: "no state"}

	p := newTestPredictor(&testPropagator{})
	pred, err := p.PredictHorizon(context.Background(), []model.TrackedObject{a, b, ghost}, 50, coverage.Full, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if pred.PropagationFailures == 0 {
		t.Fatalf("expected propagation failures to be counted")
	}
	if len(pred.Events) != 1 {
		t.Fatalf("expected the flyby to be found, got %d events", len(pred.Events))
	}
	if d := pred.Events[0].TCA.Sub(tca); d < -2*time.Second || d > 2*time.Second {
		t.Fatalf("TCA %v more than 2s from %v", pred.Events[0].TCA, tca)
	}
}

func TestPredictHorizon_StaleFlags(t *testing.T) {
	a, b, _ := flybyPair()
	a.ElementAgeHours = model.Float64(200)
	b.ElementAgeHours = model.Float64(50)

	pred, err := newTestPredictor(&testPropagator{}).PredictHorizon(context.Background(), []model.TrackedObject{a, b}, 50, coverage.Full, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if len(pred.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pred.Events))
	}
	ev := pred.Events[0]
	if !ev.StaleA || ev.StaleB || !ev.Stale() {
		t.Fatalf("expected only A stale, got A=%v B=%v", ev.StaleA, ev.StaleB)
	}
}

func TestPredictHorizon_Deterministic(t *testing.T) {
	a, b, _ := flybyPair()
	objects := []model.TrackedObject{a, b}
	for i := 0; i < 8; i++ {
		objects = append(objects, staticObject(fmt.Sprintf("c-%d", i), model.Vec3{X: 7000, Y: float64(i) * 3}))
	}

	p := newTestPredictor(&testPropagator{})
	first, err := p.PredictHorizon(context.Background(), objects, 50, coverage.Full, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	reversed := make([]model.TrackedObject, len(objects))
	for i := range objects {
		reversed[len(objects)-1-i] = objects[i]
	}
	second, err := p.PredictHorizon(context.Background(), reversed, 50, coverage.Full, nil)
	if err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if !reflect.DeepEqual(first.Events, second.Events) {
		t.Fatalf("results differ between runs:\n%+v\n%+v", first.Events, second.Events)
	}
}

func TestPredictHorizon_FailsFast(t *testing.T) {
	prop := &testPropagator{}
	a, b, _ := flybyPair()
	p := newTestPredictor(prop)

	_, err := p.PredictHorizon(context.Background(), []model.TrackedObject{a, b}, 50, coverage.Mode("exhaustive"), nil)
	if !errors.Is(err, coverage.ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	_, err = p.PredictHorizon(context.Background(), []model.TrackedObject{a, b}, -5, coverage.Quick, nil)
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
	if prop.called(a.State) != 0 {
		t.Fatalf("propagator was called before validation failed")
	}
}

func TestPredictHorizon_Cancelled(t *testing.T) {
	a, b, _ := flybyPair()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pred, err := newTestPredictor(&testPropagator{}).PredictHorizon(ctx, []model.TrackedObject{a, b}, 50, coverage.Full, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pred != nil {
		t.Fatalf("expected no prediction on cancel")
	}
}

func TestPredictHorizon_InputNotMutated(t *testing.T) {
	a, b, _ := flybyPair()
	a.Position = &model.Vec3{X: 1}
	objects := []model.TrackedObject{b, a}

	if _, err := newTestPredictor(&testPropagator{}).PredictHorizon(context.Background(), objects, 50, coverage.Full, nil); err != nil {
		t.Fatalf("PredictHorizon: %v", err)
	}
	if objects[0].ID != "b-flyby" || objects[1].Position.X != 1 {
		t.Fatalf("input slice was modified: %+v", objects)
	}
}
