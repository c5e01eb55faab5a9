// Package telemetry provides the observability surface for nodescope:
// structured logging (zerolog), Prometheus metrics, and OpenTelemetry
// tracing for batch planning and installation runs.
//
// The logger carries the field vocabulary shared across the repo
// (component, pipeline_id, host_id, cloud_id):
//
//	logger := telemetry.NewLogger(cfg.Logging).Component("planner")
//	logger.WithPipeline("pipe-123").WithHost(42, "10.0.0.5").Info("Plan built")
//
// Metrics are collected on a private registry and optionally served on
// /metrics:
//
//	metrics, _ := telemetry.NewMetrics(cfg.Metrics)
//	metrics.ObservePlanBuild("setup_agent.sh", elapsed)
//	_ = metrics.StartMetricsServer()
//
// Exported metric families, all prefixed with the configured namespace:
//
//   - plans_built_total{script}
//   - plan_build_duration_seconds{script}
//   - plan_failures_total{kind}
//   - batch_hosts, batch_duration_seconds
//   - cache_lookups_total{cache,result}
//   - remote_commands_total{phase,status}
//   - remote_command_duration_seconds{phase}
//   - installs_total{operation,status}
//   - policy_violations_total{policy,severity}
//   - active_installs
//
// The tracer wraps batch, plan and install spans; a disabled tracer
// records nothing:
//
//	tracer, _ := telemetry.NewTracer(ctx, cfg.Tracing, cfg.Service, cfg.Version)
//	ctx, span := tracer.StartBatch(ctx, pipelineID, len(hosts))
//	defer telemetry.EndSpan(span, err)
//
// Credentials, private keys and issued tokens are never logged or
// attached to spans.
package telemetry
