package core

import (
	"sync"

	"github.com/signalsfoundry/conjunction-assessment/internal/observability"
	"github.com/signalsfoundry/conjunction-assessment/model"
)

// ProgressFunc receives progress updates. Calls are serialised and never
// go backwards in phase or percent.
type ProgressFunc func(model.PredictionProgress)

// Percent ranges per phase.
const (
	filteringEnd = 20.0
	coarseEnd    = 70.0
	refiningEnd  = 99.0
)

var phaseRank = map[model.Phase]int{
	model.PhaseFiltering: 0,
	model.PhaseCoarse:    1,
	model.PhaseRefining:  2,
	model.PhaseComplete:  3,
}

type progressTracker struct {
	mu      sync.Mutex
	started bool
	last    model.PredictionProgress
	fn      ProgressFunc
	metrics *observability.ScanCollector
}

func newProgressTracker(fn ProgressFunc, metrics *observability.ScanCollector) *progressTracker {
	return &progressTracker{fn: fn, metrics: metrics}
}

// report publishes a progress value, clamped so it never regresses.
func (t *progressTracker) report(phase model.Phase, percent float64, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && phaseRank[phase] < phaseRank[t.last.Phase] {
		return
	}
	if percent > 100 {
		percent = 100
	}
	if t.started && percent < t.last.Percent {
		percent = t.last.Percent
	}
	if t.started && phase == t.last.Phase && percent == t.last.Percent && status == t.last.Status {
		return
	}

	t.started = true
	t.last = model.PredictionProgress{Phase: phase, Percent: percent, Status: status}
	t.metrics.SetProgress(percent)
	if t.fn != nil {
		t.fn(t.last)
	}
}

// span maps done/total into the [from,to] percent range.
func span(from, to float64, done, total int) float64 {
	if total <= 0 {
		return to
	}
	return from + (to-from)*float64(done)/float64(total)
}
