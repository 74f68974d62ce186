package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vmtel/vmeventbuf/internal/config/dto"
)

func testObservabilityConfig() dto.ObservabilityConfig {
	return dto.ObservabilityConfig{
		Metrics: dto.MetricsConfig{Enabled: true, Port: 19090, Path: "/metrics"},
		Health: dto.HealthConfig{
			Port:          18080,
			LivenessPath:  "/health/live",
			ReadinessPath: "/health/ready",
		},
	}
}

func TestNewServer(t *testing.T) {
	checker := NewPipelineChecker(newTestPipeline(t))
	srv := NewServer(testObservabilityConfig(), checker, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if srv.healthServer == nil {
		t.Error("health server not configured")
	}
	if srv.metricsServer == nil {
		t.Error("metrics server not configured")
	}
	if srv.healthServer.Addr != ":18080" {
		t.Errorf("health addr = %q, want :18080", srv.healthServer.Addr)
	}
}

func TestMetricsServerDisabled(t *testing.T) {
	cfg := testObservabilityConfig()
	cfg.Metrics.Enabled = false

	checker := NewPipelineChecker(newTestPipeline(t))
	srv := NewServer(cfg, checker, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if srv.metricsServer != nil {
		t.Error("metrics server should be nil when disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
