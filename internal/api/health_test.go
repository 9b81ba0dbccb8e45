package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/artifact"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/recognize"
)

type stubEngine struct{}

func (stubEngine) Recognize(ctx context.Context, wf *audio.Waveform, task recognize.Task) (*recognize.Result, error) {
	return &recognize.Result{}, nil
}
func (stubEngine) Name() string  { return "whisper" }
func (stubEngine) Model() string { return "whisper-1" }

type stubMQTT struct{ connected bool }

func (s stubMQTT) IsConnected() bool { return s.connected }

func healthRequest(t *testing.T, h *HealthHandler) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad health response: %v", err)
	}
	return rec.Code, resp
}

func newHealthStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestHealthHealthy(t *testing.T) {
	h := NewHealthHandler(newHealthStore(t), stubEngine{}, nil, true, true, "1.2.3", time.Now())

	code, resp := healthRequest(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q", resp.Version)
	}
	if resp.Engine.Name != "whisper" || resp.Engine.Model != "whisper-1" {
		t.Errorf("engine = %+v", resp.Engine)
	}
	if resp.Checks["mqtt"] != "not_configured" {
		t.Errorf("mqtt check = %q", resp.Checks["mqtt"])
	}
}

func TestHealthDegradedMissingTools(t *testing.T) {
	h := NewHealthHandler(newHealthStore(t), stubEngine{}, nil, false, false, "dev", time.Now())

	code, resp := healthRequest(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, degraded still serves 200", code)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["ffmpeg"] != "missing" || resp.Checks["yt-dlp"] != "missing" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestHealthMQTTDisconnected(t *testing.T) {
	h := NewHealthHandler(newHealthStore(t), stubEngine{}, stubMQTT{connected: false}, true, true, "dev", time.Now())

	_, resp := healthRequest(t, h)
	if resp.Status != "degraded" || resp.Checks["mqtt"] != "disconnected" {
		t.Errorf("status = %q, mqtt = %q", resp.Status, resp.Checks["mqtt"])
	}
}

func TestHealthMQTTConnected(t *testing.T) {
	h := NewHealthHandler(newHealthStore(t), stubEngine{}, stubMQTT{connected: true}, true, true, "dev", time.Now())

	_, resp := healthRequest(t, h)
	if resp.Status != "healthy" || resp.Checks["mqtt"] != "ok" {
		t.Errorf("status = %q, mqtt = %q", resp.Status, resp.Checks["mqtt"])
	}
}
