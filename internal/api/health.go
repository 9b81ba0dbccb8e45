package api

import (
	"net/http"
	"time"

	"github.com/snarg/scribe/internal/artifact"
	"github.com/snarg/scribe/internal/recognize"
)

// MQTTStatus reports broker connectivity for the health check.
type MQTTStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Engine        EngineInfo        `json:"engine"`
	Checks        map[string]string `json:"checks"`
}

type EngineInfo struct {
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

type HealthHandler struct {
	store     *artifact.Store
	engine    recognize.Engine
	mqtt      MQTTStatus // nil when not configured
	ffmpegOK  bool
	ytdlpOK   bool
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health endpoint. Tool availability is
// probed once at startup and reported as-is.
func NewHealthHandler(store *artifact.Store, engine recognize.Engine, mqtt MQTTStatus, ffmpegOK, ytdlpOK bool, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     store,
		engine:    engine,
		mqtt:      mqtt,
		ffmpegOK:  ffmpegOK,
		ytdlpOK:   ytdlpOK,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.store.Writable() {
		checks["output_dir"] = "ok"
	} else {
		checks["output_dir"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.ffmpegOK {
		checks["ffmpeg"] = "ok"
	} else {
		checks["ffmpeg"] = "missing"
		if status == "healthy" {
			status = "degraded"
		}
	}

	if h.ytdlpOK {
		checks["yt-dlp"] = "ok"
	} else {
		checks["yt-dlp"] = "missing"
		if status == "healthy" {
			status = "degraded"
		}
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Engine:        EngineInfo{Name: h.engine.Name(), Model: h.engine.Model()},
		Checks:        checks,
	})
}
