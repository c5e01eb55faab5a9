// Package config holds the process configuration for nodescope.
// Settings are loaded once, validated, and passed explicitly into the
// components that need them; nothing reads configuration ambiently.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings is the static configuration consumed by the planner and the
// plan executor. It is read-only for the duration of a batch.
type Settings struct {
	// DownloadPort is the nginx-style port agent packages are served on
	// when downloading through a jump host.
	DownloadPort int `json:"download_port" validate:"required,min=1,max=65535"`

	// ProxyPassPort is the port the relay installer proxies agent traffic
	// through on the jump host.
	ProxyPassPort int `json:"proxy_pass_port" validate:"required,min=1,max=65535"`

	// AgentCallbackURL is the default callback endpoint for directly
	// reachable agents.
	AgentCallbackURL string `json:"agent_callback_url" validate:"required,url"`

	// OuterCallbackURL is the default callback endpoint for proxies and
	// relayed agents installing through the outer network.
	OuterCallbackURL string `json:"outer_callback_url" validate:"required,url"`

	// DownloadPath is the directory on the jump host the relay installer
	// caches agent packages in.
	DownloadPath string `json:"download_path" validate:"required"`

	// TokenKey is the hex-encoded 32-byte key session tokens are sealed with.
	TokenKey string `json:"token_key" validate:"required,len=64,hexadecimal"`

	Store     StoreSettings     `json:"store"`
	Executor  ExecutorSettings  `json:"executor"`
	Policy    PolicySettings    `json:"policy"`
	Telemetry TelemetrySettings `json:"telemetry"`
}

// StoreSettings configures the inventory database.
type StoreSettings struct {
	// Path is the SQLite database file path.
	Path string `json:"path" validate:"required"`
}

// ExecutorSettings configures remote plan execution.
type ExecutorSettings struct {
	// MaxParallel bounds concurrent host installations in a batch.
	MaxParallel int `json:"max_parallel" validate:"min=1"`

	// CommandTimeout bounds each remote command.
	CommandTimeout time.Duration `json:"command_timeout"`

	// ConnectTimeout bounds SSH connection establishment.
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// PolicySettings configures install gating.
type PolicySettings struct {
	// Dir is an optional directory of Rego policies loaded in addition to
	// the builtin set. Watched for changes when set.
	Dir string `json:"dir,omitempty"`
}

// TelemetrySettings configures the optional observability surfaces.
type TelemetrySettings struct {
	// MetricsListen is the address the Prometheus endpoint is served on.
	// Metrics are collected but not served when empty.
	MetricsListen string `json:"metrics_listen,omitempty"`

	// TraceExporter selects the span exporter, "stdout" or "otlp".
	// Tracing is disabled when empty.
	TraceExporter string `json:"trace_exporter,omitempty" validate:"omitempty,oneof=stdout otlp"`

	// TraceEndpoint is the OTLP collector address.
	TraceEndpoint string `json:"trace_endpoint,omitempty"`
}

// Default returns settings suitable for local development and tests.
func Default() *Settings {
	return &Settings{
		DownloadPort:     17980,
		ProxyPassPort:    17981,
		AgentCallbackURL: "http://127.0.0.1:10300/backend",
		OuterCallbackURL: "http://127.0.0.1:10300/backend",
		DownloadPath:     "/data/download",
		TokenKey:         "0000000000000000000000000000000000000000000000000000000000000000",
		Store: StoreSettings{
			Path: "nodescope.db",
		},
		Executor: ExecutorSettings{
			MaxParallel:    10,
			CommandTimeout: 5 * time.Minute,
			ConnectTimeout: 30 * time.Second,
		},
	}
}

// Validate checks the settings against their struct tags.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
