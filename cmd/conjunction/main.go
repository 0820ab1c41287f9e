package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/conjunction-assessment/core"
	"github.com/signalsfoundry/conjunction-assessment/coverage"
	"github.com/signalsfoundry/conjunction-assessment/internal/config"
	"github.com/signalsfoundry/conjunction-assessment/internal/httpapi"
	"github.com/signalsfoundry/conjunction-assessment/internal/logging"
	"github.com/signalsfoundry/conjunction-assessment/internal/observability"
	"github.com/signalsfoundry/conjunction-assessment/kb"
	"github.com/signalsfoundry/conjunction-assessment/model"
	"github.com/signalsfoundry/conjunction-assessment/propagation"
	"github.com/signalsfoundry/conjunction-assessment/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config (defaults to $CONJ_CONFIG)")
	tlePath := flag.String("tle", "", "TLE catalog file; overrides catalog.tlePath")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *tlePath != "" {
		cfg.Catalog.TLEPath = *tlePath
	}
	log := cfg.Logging.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "conjunction service failed", logging.Err(err))
		os.Exit(1)
	}
}

// summary is what the last scans of a run produced.
type summary struct {
	Objects    int
	Realtime   []model.CollisionEvent
	Prediction *core.Prediction
}

// run wires catalog, scanners and the refresh loop and blocks until
// cfg.Scan.RunFor elapses or ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logging.Logger) (*summary, error) {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, os.Stdout, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewScanCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store, err := loadCatalog(ctx, cfg.Catalog.TLEPath, log)
	if err != nil {
		return nil, err
	}
	collector.SetCatalogObjects(store.Len())

	mode := timectrl.RealTime
	if cfg.Scan.Accelerated {
		mode = timectrl.Accelerated
	}
	start := cfg.Scan.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}
	tc := timectrl.NewTimeController(start, cfg.Catalog.RefreshInterval, mode)

	opts := []core.Option{
		core.WithClock(tc),
		core.WithLogger(log),
		core.WithMetrics(collector),
		core.WithRiskModel(cfg.Risk.Model()),
		core.WithPredictConfig(cfg.Predict.Engine()),
	}
	prop := propagation.SGP4{}
	scanner := core.NewScanner(opts...)
	runner := core.NewRunner(core.NewPredictor(prop, opts...), func(gen uint64, p model.PredictionProgress) {
		log.Debug(ctx, "prediction progress",
			logging.Any("generation", gen),
			logging.String("phase", string(p.Phase)),
			logging.Float("percent", p.Percent),
			logging.String("status", p.Status),
		)
	})

	api := httpapi.New(ctx, httpapi.Config{
		Store:       store,
		Runner:      runner,
		Metrics:     collector.Handler(),
		MetricsPath: cfg.HTTP.MetricsPath,
		ThresholdKm: cfg.Scan.ThresholdKm,
		Mode:        coverage.Mode(cfg.Scan.Mode),
		Log:         log,
	})
	if cfg.HTTP.Enabled {
		srv := serveHTTP(cfg.HTTP, api.Handler(), log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var (
		mu      sync.Mutex
		out     = &summary{Objects: store.Len()}
		reports sync.WaitGroup
	)

	refresh := func(at time.Time) {
		resolved, unresolved := store.Refresh(at, prop)
		if unresolved > 0 {
			log.Debug(ctx, "catalog refresh left objects unresolved",
				logging.Int("resolved", resolved),
				logging.Int("unresolved", unresolved),
			)
		}
	}
	scanNow := func(time.Time) {
		events, err := scanner.DetectRealtimeContext(ctx, store.Snapshot(), cfg.Scan.ThresholdKm)
		if err != nil {
			log.Error(ctx, "realtime scan failed", logging.Err(err))
			return
		}
		for _, ev := range events {
			logEvent(ctx, log, "realtime close approach", ev)
		}
		api.SetRealtime(events, tc.Now())
		mu.Lock()
		out.Realtime = events
		mu.Unlock()
	}
	predict := func(time.Time) {
		_, outcome, err := runner.Start(ctx, store.Snapshot(), cfg.Scan.ThresholdKm, coverage.Mode(cfg.Scan.Mode))
		if err != nil {
			log.Error(ctx, "predictive scan rejected", logging.Err(err))
			return
		}
		reports.Add(1)
		go func() {
			defer reports.Done()
			res := <-outcome
			if res.Superseded || res.Err != nil {
				return
			}
			for _, ev := range res.Prediction.Events {
				logEvent(ctx, log, "predicted close approach", ev)
			}
			mu.Lock()
			out.Prediction = res.Prediction
			mu.Unlock()
		}()
	}

	refresh(tc.Now())
	scanNow(tc.Now())
	predict(tc.Now())

	tc.AddListener(refresh)
	tc.Every(cfg.Scan.RealtimeInterval, scanNow)
	tc.Every(cfg.Scan.PredictInterval, predict)

	log.Info(ctx, "starting conjunction service",
		logging.Int("objects", store.Len()),
		logging.String("mode", cfg.Scan.Mode),
		logging.String("time_mode", mode.String()),
		logging.Float("threshold_km", cfg.Scan.ThresholdKm),
	)
	err = tc.Run(ctx, cfg.Scan.RunFor)
	if err != nil {
		runner.Stop()
	}
	reports.Wait()
	runner.Stop()
	log.Info(ctx, "conjunction service stopped")

	mu.Lock()
	defer mu.Unlock()
	return out, err
}

func loadCatalog(ctx context.Context, path string, log logging.Logger) (*kb.Store, error) {
	if path == "" {
		return nil, errors.New("catalog.tlePath is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	elements, skipped, err := propagation.ParseTLE(f)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for _, serr := range skipped {
		log.Warn(ctx, "skipping catalog entry", logging.Err(serr))
	}

	store := kb.NewStore()
	for _, el := range elements {
		if err := store.Add(kb.ObjectFromElements(el)); err != nil {
			log.Warn(ctx, "skipping catalog entry", logging.Err(err))
		}
	}
	log.Info(ctx, "loaded catalog",
		logging.String("path", path),
		logging.Int("objects", store.Len()),
		logging.Int("skipped", len(skipped)),
	)
	return store, nil
}

func logEvent(ctx context.Context, log logging.Logger, msg string, ev model.CollisionEvent) {
	fields := []logging.Field{
		logging.String("pair", ev.Pair.String()),
		logging.String("name_a", ev.NameA),
		logging.String("name_b", ev.NameB),
		logging.Float("distance_km", ev.DistanceKm),
		logging.String("risk", string(ev.Risk)),
		logging.String("tca", ev.TCA.Format(time.RFC3339)),
		logging.Bool("stale", ev.Stale()),
	}
	if ev.Probability != nil {
		fields = append(fields, logging.Float("probability", *ev.Probability))
	}
	if ev.Risk.Severity() >= model.RiskHigh.Severity() {
		log.Warn(ctx, msg, fields...)
		return
	}
	log.Info(ctx, msg, fields...)
}

func serveHTTP(cfg config.HTTPConfig, handler http.Handler, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving status API", logging.String("addr", cfg.Address), logging.String("metrics_path", cfg.MetricsPath))
	return srv
}
