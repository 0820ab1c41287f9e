// Package httpapi exposes the scanners' latest results, prediction control
// and Prometheus metrics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/conjunction-assessment/core"
	"github.com/signalsfoundry/conjunction-assessment/coverage"
	"github.com/signalsfoundry/conjunction-assessment/internal/logging"
	"github.com/signalsfoundry/conjunction-assessment/kb"
	"github.com/signalsfoundry/conjunction-assessment/model"
)

// Config wires the API to the running service.
type Config struct {
	Store  *kb.Store
	Runner *core.Runner
	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string
	ThresholdKm float64
	Mode        coverage.Mode
	Log         logging.Logger
}

// Server holds the latest real-time scan and routes requests.
type Server struct {
	cfg  Config
	base context.Context
	log  logging.Logger

	mu         sync.RWMutex
	realtime   []model.CollisionEvent
	realtimeAt time.Time
}

// New builds a Server. Predictions started over HTTP run under base and
// outlive the request that started them.
func New(base context.Context, cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{cfg: cfg, base: base, log: log}
}

// SetRealtime records the result of the most recent real-time scan.
func (s *Server) SetRealtime(events []model.CollisionEvent, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realtime = events
	s.realtimeAt = at
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.health)
	if s.cfg.Metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.cfg.Metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/modes", s.modes)
		r.Get("/objects/{id}", s.object)
		r.Get("/conjunctions", s.conjunctions)
		r.Post("/predictions", s.startPrediction)
		r.Get("/predictions/latest", s.latestPrediction)
		r.Get("/predictions/progress", s.progress)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug(r.Context(), "http request",
			logging.String("request_id", chimw.GetReqID(r.Context())),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(started)),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	objects := 0
	if s.cfg.Store != nil {
		objects = s.cfg.Store.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "objects": objects})
}

func (s *Server) modes(w http.ResponseWriter, _ *http.Request) {
	modes := coverage.Modes()
	out := make([]modeWire, 0, len(modes))
	for _, m := range modes {
		out = append(out, modeWire{
			Mode:              string(m.Mode),
			Label:             m.Label,
			Description:       m.Description,
			MaxObjects:        m.MaxObjects,
			MaxCandidatePairs: m.MaxCandidatePairs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) object(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.cfg.Store == nil {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	o, ok := s.cfg.Store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	writeJSON(w, http.StatusOK, toObjectWire(o))
}

func (s *Server) conjunctions(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events, at := s.realtime, s.realtimeAt
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, realtimeWire{ScannedAt: timePtr(at), Events: toEventWires(events)})
}

func (s *Server) startPrediction(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil || s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "predictions are not available")
		return
	}
	mode := s.cfg.Mode
	if v := r.URL.Query().Get("mode"); v != "" {
		mode = coverage.Mode(v)
	}
	threshold := s.cfg.ThresholdKm
	if v := r.URL.Query().Get("threshold_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "threshold_km must be a number")
			return
		}
		threshold = f
	}

	gen, _, err := s.cfg.Runner.Start(s.base, s.cfg.Store.Snapshot(), threshold, mode)
	switch {
	case errors.Is(err, coverage.ErrUnknownMode), errors.Is(err, core.ErrInvalidThreshold):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error(r.Context(), "prediction start failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "prediction start failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"generation": gen})
}

func (s *Server) latestPrediction(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Runner == nil {
		writeError(w, http.StatusNotFound, "no prediction has completed")
		return
	}
	pred, gen, ok := s.cfg.Runner.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no prediction has completed")
		return
	}
	writeJSON(w, http.StatusOK, toPredictionWire(gen, pred))
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Runner == nil {
		writeError(w, http.StatusNotFound, "no prediction has started")
		return
	}
	gen, p := s.cfg.Runner.Progress()
	writeJSON(w, http.StatusOK, progressWire{
		Generation: gen,
		Phase:      string(p.Phase),
		Percent:    p.Percent,
		Status:     p.Status,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorWire{Status: status, Error: msg})
}
