package core

import (
	"context"
	"sync"

	"github.com/signalsfoundry/conjunction-assessment/coverage"
	"github.com/signalsfoundry/conjunction-assessment/internal/logging"
	"github.com/signalsfoundry/conjunction-assessment/model"
)

// Outcome is delivered once per started generation.
type Outcome struct {
	Generation uint64
	Prediction *Prediction
	Err        error
	// Superseded is set when a newer generation started before this one
	// finished. Its result is discarded.
	Superseded bool
}

// Runner runs predictive searches in the background. Starting a new
// search cancels the one in flight; only the newest generation may
// publish progress or become Latest.
type Runner struct {
	pred       *Predictor
	onProgress func(gen uint64, p model.PredictionProgress)

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	latest   *Outcome
	progress model.PredictionProgress

	cbMu sync.Mutex
	wg   sync.WaitGroup
}

// NewRunner wraps pred. onProgress may be nil.
func NewRunner(pred *Predictor, onProgress func(gen uint64, p model.PredictionProgress)) *Runner {
	return &Runner{pred: pred, onProgress: onProgress}
}

// Start validates the request, snapshots objects and launches a search as
// a new generation. The returned channel yields exactly one Outcome and is
// then closed.
func (r *Runner) Start(ctx context.Context, objects []model.TrackedObject, thresholdKm float64, mode coverage.Mode) (uint64, <-chan Outcome, error) {
	if _, err := coverage.Lookup(mode); err != nil {
		return 0, nil, err
	}
	if err := validateThreshold(thresholdKm); err != nil {
		return 0, nil, err
	}

	snapshot := make([]model.TrackedObject, len(objects))
	for i := range objects {
		snapshot[i] = objects[i].Clone()
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.progress = model.PredictionProgress{}
	r.mu.Unlock()

	runCtx, log := logging.WithScanLogger(runCtx, logging.FromContext(ctx, r.pred.opts.log))
	log.Debug(runCtx, "predictive scan started",
		logging.Any("generation", gen),
		logging.String("mode", string(mode)),
		logging.Int("objects", len(snapshot)),
	)

	out := make(chan Outcome, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)
		defer cancel()

		pred, err := r.pred.PredictHorizon(runCtx, snapshot, thresholdKm, mode, func(p model.PredictionProgress) {
			r.publish(gen, p)
		})
		res := Outcome{Generation: gen, Prediction: pred, Err: err}

		r.mu.Lock()
		current := r.gen == gen
		if current {
			r.cancel = nil
			if err == nil {
				latest := res
				r.latest = &latest
			}
		}
		r.mu.Unlock()

		if !current {
			res.Superseded = true
			res.Prediction = nil
			r.pred.opts.metrics.IncSuperseded()
			log.Debug(runCtx, "predictive scan superseded", logging.Any("generation", gen))
		} else if err != nil {
			log.Warn(runCtx, "predictive scan failed", logging.Err(err))
		}
		out <- res
	}()
	return gen, out, nil
}

func (r *Runner) publish(gen uint64, p model.PredictionProgress) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.progress = p
	r.mu.Unlock()

	if r.onProgress != nil {
		r.onProgress(gen, p)
	}
}

// Latest returns the newest prediction that completed without being
// superseded, and its generation.
func (r *Runner) Latest() (*Prediction, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return nil, 0, false
	}
	return r.latest.Prediction, r.latest.Generation, true
}

// Progress returns the current generation and its last reported progress.
func (r *Runner) Progress() (uint64, model.PredictionProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen, r.progress
}

// Stop cancels the search in flight and waits for every started
// generation to deliver its outcome.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}
