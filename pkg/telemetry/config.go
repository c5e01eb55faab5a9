package telemetry

import "fmt"

// Log output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Trace exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config collects the observability settings for one nodescope process.
type Config struct {
	// Service names the process in exported telemetry.
	Service string

	// Version is the build version attached to traces.
	Version string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the structured logger. Logs always go to
// stderr so command output on stdout stays machine-readable.
type LoggingConfig struct {
	// Level is the minimum level emitted: trace, debug, info, warn or error.
	Level string

	// Format is "console" for interactive use, "json" for collectors.
	Format string
}

// TracingConfig configures span export for batch planning and
// installation runs.
type TracingConfig struct {
	// Enabled turns span recording on. When false the tracer is a no-op.
	Enabled bool

	// Exporter is "stdout" or "otlp".
	Exporter string

	// Endpoint is the OTLP collector address, e.g. "otel:4317".
	Endpoint string

	// SampleRatio is the fraction of batches traced, 0 to 1.
	SampleRatio float64

	// Insecure disables TLS on the OTLP connection.
	Insecure bool
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	// ListenAddress is where the /metrics endpoint is served. Metrics
	// are collected but not served when empty.
	ListenAddress string

	// Namespace prefixes every metric name. Defaults to "nodescope".
	Namespace string

	// Buckets are the latency histogram buckets in seconds.
	Buckets []float64
}

// DefaultConfig returns settings suited to running batches from a terminal.
func DefaultConfig() *Config {
	return &Config{
		Service: "nodescope",
		Version: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatConsole,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    ExporterStdout,
			SampleRatio: 1.0,
			Insecure:    true,
		},
		Metrics: MetricsConfig{
			Namespace: "nodescope",
		},
	}
}

// Validate rejects settings that would silently drop telemetry.
func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("service name is required")
	}
	switch c.Logging.Format {
	case "", FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case ExporterStdout:
		case ExporterOTLP:
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("otlp exporter requires an endpoint")
			}
		default:
			return fmt.Errorf("unknown trace exporter %q", c.Tracing.Exporter)
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("trace sample ratio %v is outside [0, 1]", c.Tracing.SampleRatio)
		}
	}
	return nil
}
