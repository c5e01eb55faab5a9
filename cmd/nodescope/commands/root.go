package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodescope/nodescope/pkg/config"
	"github.com/nodescope/nodescope/pkg/inventory"
	"github.com/nodescope/nodescope/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// buildVersion is attached to exported traces.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nodescope",
		Short: "Nodescope - monitoring agent installation planner",
		Long: `Nodescope plans and executes monitoring agent installations across
network topologies.

Given an inventory of managed hosts it resolves each host's install path
(direct, via proxy, or relayed through a jump host), synthesizes the exact
OS-correct command sequence, gates it through install policies and can run
it over SSH.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.Logger = log.Logger.Level(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (CUE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newUninstallCommand())
	rootCmd.AddCommand(newOnboardCommand())
	rootCmd.AddCommand(newChannelsCommand())

	return rootCmd
}

// loadSettings reads the settings file named by --config, or the defaults
// when no file is given.
func loadSettings() (*config.Settings, error) {
	if configPath == "" {
		log.Debug().Msg("no settings file given, using defaults")
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// openStore opens and migrates the inventory database.
func openStore(ctx context.Context, settings *config.Settings) (*inventory.SQLiteStore, error) {
	store, err := inventory.NewSQLiteStore(inventory.SQLiteConfig{Path: settings.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newMetrics builds the batch metrics collector and serves the
// Prometheus endpoint when the settings name a listen address.
func newMetrics(settings *config.Settings) (*telemetry.Metrics, error) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		ListenAddress: settings.Telemetry.MetricsListen,
	})
	if err != nil {
		return nil, err
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return nil, err
	}
	return metrics, nil
}

// newTracer builds the span recorder named by the settings. Disabled
// (no-op) when no trace exporter is configured.
func newTracer(ctx context.Context, settings *config.Settings) (*telemetry.Tracer, error) {
	cfg := telemetry.TracingConfig{
		Enabled:     settings.Telemetry.TraceExporter != "",
		Exporter:    settings.Telemetry.TraceExporter,
		Endpoint:    settings.Telemetry.TraceEndpoint,
		SampleRatio: 1.0,
		Insecure:    true,
	}
	return telemetry.NewTracer(ctx, cfg, "nodescope", buildVersion)
}

// selectHosts resolves the host set named by the --host/--all flags.
func selectHosts(ctx context.Context, store inventory.Store, hostIDs []int64, all bool) ([]*inventory.Host, error) {
	if all {
		return store.ListHosts(ctx)
	}
	if len(hostIDs) == 0 {
		return nil, fmt.Errorf("no hosts selected: pass --host or --all")
	}

	hosts := make([]*inventory.Host, 0, len(hostIDs))
	for _, id := range hostIDs {
		host, err := store.GetHost(ctx, id)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}
