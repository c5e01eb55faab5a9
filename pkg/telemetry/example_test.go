package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/nodescope/nodescope/pkg/telemetry"
)

// Example_logging demonstrates the shared logging vocabulary.
func Example_logging() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "debug"

	logger := telemetry.NewLogger(cfg.Logging).Component("planner")
	logger = logger.WithPipeline("pipe-123").WithHost(42, "10.0.0.5")

	logger.Debug("Resolving topology")
	logger.Info("Installation plan built")

	err := fmt.Errorf("no alive proxy in cloud 3")
	logger.WithError(err).Error("Plan generation failed")

	// Output varies, no output specified
}

// Example_metrics demonstrates metrics collection.
func Example_metrics() {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Namespace: "nodescope"})
	if err != nil {
		panic(err)
	}

	metrics.ObserveBatch(100, 250*time.Millisecond)
	metrics.ObservePlanBuild("setup_agent.sh", 2*time.Millisecond)
	metrics.RecordPlanFailure("topology")
	metrics.RecordCacheLookup("proxies", "hit")
	metrics.RecordRemoteCommand("run", "ok", 15*time.Millisecond)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_tracing demonstrates batch and per-host spans.
func Example_tracing() {
	ctx := context.Background()

	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = telemetry.ExporterStdout

	tracer, err := telemetry.NewTracer(ctx, cfg.Tracing, cfg.Service, cfg.Version)
	if err != nil {
		panic(err)
	}
	defer tracer.Shutdown(ctx)

	ctx, batchSpan := tracer.StartBatch(ctx, "pipe-123", 5)

	hostCtx, hostSpan := tracer.StartInstall(ctx, 42, "install")
	_ = hostCtx
	telemetry.EndSpan(hostSpan, nil)

	telemetry.EndSpan(batchSpan, nil)

	// Output varies, no output specified
}
