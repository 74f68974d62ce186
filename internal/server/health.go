package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vmtel/vmeventbuf/internal/telemetry"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode liveness response", "error", err)
		}
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness reflects whether the pipeline is delivering events.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode readiness response", "error", err)
		}
	}
}

// PipelineChecker reports health from the pipeline state.
type PipelineChecker struct {
	pipeline *telemetry.Pipeline
}

var _ HealthChecker = (*PipelineChecker)(nil)

// NewPipelineChecker creates a health checker backed by the pipeline.
func NewPipelineChecker(p *telemetry.Pipeline) *PipelineChecker {
	return &PipelineChecker{pipeline: p}
}

// Liveness always succeeds while the process is running; a disabled
// pipeline is an expected state, not a reason to restart.
func (c *PipelineChecker) Liveness() bool {
	return true
}

// Readiness succeeds once deferred startup completed and the pipeline has
// not been disabled by the agent.
func (c *PipelineChecker) Readiness(ctx context.Context) bool {
	return c.pipeline.Ready() && !c.pipeline.Disabled()
}

// GetStatus returns the per-component state for the readiness response.
func (c *PipelineChecker) GetStatus() map[string]string {
	pipeline := "ready"
	switch {
	case c.pipeline.Disabled():
		pipeline = "disabled"
	case !c.pipeline.Ready():
		pipeline = "deferred"
	}

	mem := c.pipeline.Memory()
	stats := mem.Pool().Stats()
	return map[string]string{
		"pipeline":          pipeline,
		"overflow":          strconv.FormatBool(mem.Overflowed()),
		"buffers_committed": strconv.Itoa(stats.Committed),
		"bytes_used":        strconv.FormatInt(stats.BytesUsed, 10),
	}
}
