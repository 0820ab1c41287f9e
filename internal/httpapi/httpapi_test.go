package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalsfoundry/conjunction-assessment/core"
	"github.com/signalsfoundry/conjunction-assessment/coverage"
	"github.com/signalsfoundry/conjunction-assessment/kb"
	"github.com/signalsfoundry/conjunction-assessment/model"
	"github.com/signalsfoundry/conjunction-assessment/propagation"
	"github.com/signalsfoundry/conjunction-assessment/timectrl"
)

var testStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixedState struct{ pos model.Vec3 }

func (fixedState) Epoch() time.Time { return testStart }

var fixedProp = propagation.Func(func(state model.OrbitalState, _ time.Time) (model.StateVector, error) {
	s, ok := state.(fixedState)
	if !ok {
		return model.StateVector{}, propagation.ErrUnavailable
	}
	return model.StateVector{Position: s.pos}, nil
})

type fixture struct {
	srv    *Server
	ts     *httptest.Server
	runner *core.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kb.NewStore()
	for _, o := range []model.TrackedObject{
		{ID: "00001", Name: "ALPHA", CatalogNumber: 1, State: fixedState{model.Vec3{X: 7000}}, Position: &model.Vec3{X: 7000}},
		{ID: "00002", Name: "BRAVO", CatalogNumber: 2, State: fixedState{model.Vec3{X: 7005}}},
	} {
		if err := store.Add(o); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	pred := core.NewPredictor(fixedProp,
		core.WithClock(timectrl.FixedClock(testStart)),
		core.WithPredictConfig(core.PredictConfig{Horizon: time.Hour, Workers: 2}),
	)
	runner := core.NewRunner(pred, nil)
	t.Cleanup(runner.Stop)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "conjunction_scans_total 1\n")
	})
	srv := New(context.Background(), Config{
		Store:       store,
		Runner:      runner,
		Metrics:     metrics,
		ThresholdKm: 50,
		Mode:        coverage.Quick,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, runner: runner}
}

func (f *fixture) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthReportsCatalogSize(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Status  string `json:"status"`
		Objects int    `json:"objects"`
	}
	if code := f.do(t, http.MethodGet, "/healthz", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Status != "ok" || body.Objects != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestModesListsEveryConfiguration(t *testing.T) {
	f := newFixture(t)
	var modes []modeWire
	if code := f.do(t, http.MethodGet, "/v1/modes", &modes); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(modes) != len(coverage.Modes()) {
		t.Fatalf("got %d modes, want %d", len(modes), len(coverage.Modes()))
	}
	if modes[0].Mode != "quick" || modes[0].MaxObjects != 100 {
		t.Fatalf("unexpected first mode %+v", modes[0])
	}
}

func TestObjectLookup(t *testing.T) {
	f := newFixture(t)

	var obj objectWire
	if code := f.do(t, http.MethodGet, "/v1/objects/00001", &obj); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if obj.Name != "ALPHA" || obj.PositionKm == nil || obj.PositionKm.X != 7000 {
		t.Fatalf("unexpected object %+v", obj)
	}
	if obj.Epoch == nil || !obj.Epoch.Equal(testStart) {
		t.Fatalf("epoch = %v, want %v", obj.Epoch, testStart)
	}

	var e errorWire
	if code := f.do(t, http.MethodGet, "/v1/objects/99999", &e); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if e.Status != http.StatusNotFound || e.Error == "" {
		t.Fatalf("unexpected error body %+v", e)
	}
}

func TestConjunctionsServeLatestRealtimeScan(t *testing.T) {
	f := newFixture(t)

	var empty realtimeWire
	f.do(t, http.MethodGet, "/v1/conjunctions", &empty)
	if empty.ScannedAt != nil || len(empty.Events) != 0 {
		t.Fatalf("expected no scan yet, got %+v", empty)
	}

	f.srv.SetRealtime([]model.CollisionEvent{{
		Pair:       model.NewPairKey("00002", "00001"),
		NameA:      "ALPHA",
		NameB:      "BRAVO",
		DistanceKm: 5,
		TCA:        testStart,
		Risk:       model.RiskHigh,
	}}, testStart)

	var got realtimeWire
	if code := f.do(t, http.MethodGet, "/v1/conjunctions", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.ScannedAt == nil || !got.ScannedAt.Equal(testStart) {
		t.Fatalf("scanned_at = %v", got.ScannedAt)
	}
	if len(got.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(got.Events))
	}
	ev := got.Events[0]
	if ev.ObjectA != "00001" || ev.ObjectB != "00002" || ev.Risk != "high" || ev.DistanceKm != 5 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestStartPredictionRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/v1/predictions?mode=exhaustive",
		"/v1/predictions?threshold_km=abc",
		"/v1/predictions?threshold_km=-1",
	} {
		var e errorWire
		if code := f.do(t, http.MethodPost, path, &e); code != http.StatusBadRequest {
			t.Fatalf("POST %s: status = %d, want 400", path, code)
		}
	}
	if code := f.do(t, http.MethodGet, "/v1/predictions/latest", nil); code != http.StatusNotFound {
		t.Fatalf("latest before any run: status = %d, want 404", code)
	}
}

func TestStartPredictionPublishesResult(t *testing.T) {
	f := newFixture(t)

	var started struct {
		Generation uint64 `json:"generation"`
	}
	if code := f.do(t, http.MethodPost, "/v1/predictions?mode=quick&threshold_km=20", &started); code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", code)
	}
	if started.Generation == 0 {
		t.Fatalf("generation not reported")
	}

	var pred predictionWire
	deadline := time.Now().Add(10 * time.Second)
	for {
		code := f.do(t, http.MethodGet, "/v1/predictions/latest", nil)
		if code == http.StatusOK {
			f.do(t, http.MethodGet, "/v1/predictions/latest", &pred)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prediction did not complete")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if pred.Generation != started.Generation || pred.Mode != "quick" || pred.ThresholdKm != 20 {
		t.Fatalf("unexpected prediction header %+v", pred)
	}
	if pred.HorizonSeconds != time.Hour.Seconds() || pred.EffectiveObjects != 2 {
		t.Fatalf("unexpected prediction scope %+v", pred)
	}
	if len(pred.Events) != 1 || pred.Events[0].DistanceKm != 5 {
		t.Fatalf("unexpected events %+v", pred.Events)
	}

	var prog progressWire
	f.do(t, http.MethodGet, "/v1/predictions/progress", &prog)
	if prog.Generation != started.Generation || prog.Phase != string(model.PhaseComplete) || prog.Percent != 100 {
		t.Fatalf("unexpected progress %+v", prog)
	}
}

func TestMetricsMounted(t *testing.T) {
	f := newFixture(t)
	resp, err := f.ts.Client().Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "conjunction_scans_total 1\n" {
		t.Fatalf("unexpected metrics response %d %q", resp.StatusCode, body)
	}
}
