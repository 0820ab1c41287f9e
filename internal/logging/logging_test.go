package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})
	log.With(String("component", "scanner")).Info(context.Background(), "scan complete",
		Int("events", 3),
		Float("threshold_km", 50),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "scan complete" || rec["component"] != "scanner" || rec["error"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["events"].(float64) != 3 {
		t.Fatalf("events = %v, want 3", rec["events"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "text", Output: &buf})
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn(context.Background(), "shown")
	if buf.Len() == 0 {
		t.Fatalf("warn should be written at warn level")
	}
}

func TestWithScanLoggerStoresIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, log := WithScanLogger(context.Background(), base)
	id := ScanIDFromContext(ctx)
	if id == "" {
		t.Fatalf("scan_id missing from context")
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("scan_id %q is not a UUID: %v", id, err)
	}
	if FromContext(ctx, nil) != log {
		t.Fatalf("FromContext did not return the scan logger")
	}

	log.Info(ctx, "hello")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["scan_id"] != id {
		t.Fatalf("scan_id = %v, want %s", rec["scan_id"], id)
	}

	ctx2, _ := WithScanLogger(ctx, base)
	if ScanIDFromContext(ctx2) != id {
		t.Fatalf("existing scan_id should be reused")
	}
}

func TestFromContextFallback(t *testing.T) {
	if _, ok := FromContext(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("expected noop fallback")
	}
}
