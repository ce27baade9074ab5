package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/framebridge/internal/orchestrator"
)

// EngineHealth is the per-engine part of the readiness report.
type EngineHealth struct {
	Fed        bool   `json:"fed"`
	Source     string `json:"source,omitempty"`
	State      string `json:"state"`
	Delivered  uint64 `json:"delivered"`
	Presented  uint64 `json:"presented"`
	Superseded uint64 `json:"superseded"`
}

// HealthStatus is the readiness report.
type HealthStatus struct {
	Status        string                  `json:"status"` // healthy, degraded, unhealthy
	UptimeSeconds int64                   `json:"uptime_seconds"`
	EnginesFed    int                     `json:"engines_fed"`
	EnginesTotal  int                     `json:"engines_total"`
	Sessions      []string                `json:"sessions"`
	Engines       map[string]EngineHealth `json:"engines,omitempty"`
}

type healthServer struct {
	orch    *orchestrator.Orchestrator
	engines []engineHandle
	started time.Time
}

// check reports unhealthy once the orchestrator stops answering and degraded
// while any engine is unfed.
func (h *healthServer) check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Sessions:      []string{},
		Engines:       make(map[string]EngineHealth),
	}

	st, err := fetchStats(ctx, h.orch)
	if err != nil {
		status.Status = "unhealthy"
		return status
	}

	names := engineNames(h.engines)
	status.EnginesTotal = len(st.Engines)
	for _, e := range st.Engines {
		if e.Fed {
			status.EnginesFed++
		}
		name := names[e.ID]
		if name == "" {
			name = e.ID
		}
		status.Engines[name] = EngineHealth{
			Fed:        e.Fed,
			Source:     e.Source,
			State:      e.State.String(),
			Delivered:  e.Delivered,
			Presented:  e.Presented,
			Superseded: e.Superseded,
		}
	}
	for _, s := range st.Sessions {
		status.Sessions = append(status.Sessions, s.Key.String())
	}

	if status.EnginesFed < status.EnginesTotal {
		status.Status = "degraded"
	}
	return status
}

// livenessHandler handles /health: 200 while the process runs.
func (h *healthServer) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(h.started).Seconds()),
	})
}

// readinessHandler handles /readiness; degraded is still ready.
func (h *healthServer) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := h.check(r.Context())

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(health)
}

func (h *healthServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.livenessHandler)
	mux.HandleFunc("/readiness", h.readinessHandler)
	return mux
}

// startHealthServer serves /health and /readiness on addr until ctx is done.
func startHealthServer(ctx context.Context, addr string, orch *orchestrator.Orchestrator, engines []engineHandle, logger *slog.Logger) {
	h := &healthServer{orch: orch, engines: engines, started: time.Now()}
	server := &http.Server{
		Addr:         addr,
		Handler:      h.handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("Starting health check server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
