package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodescope/nodescope/pkg/config"
	"github.com/nodescope/nodescope/pkg/inventory"
	"github.com/nodescope/nodescope/pkg/planner"
	"github.com/nodescope/nodescope/pkg/telemetry"
	"github.com/nodescope/nodescope/pkg/token"
)

// newCoordinator wires a batch coordinator against the inventory store.
func newCoordinator(settings *config.Settings, store inventory.Store, metrics *telemetry.Metrics) (*planner.Coordinator, error) {
	issuer, err := token.NewCipher(settings.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	builder := planner.NewBuilder(settings, issuer)
	coordinator := planner.NewCoordinator(store, builder, log.Logger).
		WithMaxParallel(settings.Executor.MaxParallel).
		WithMetrics(metrics)
	return coordinator, nil
}

// planBatch builds plans for the selected hosts under one pipeline ID.
func planBatch(
	ctx context.Context,
	settings *config.Settings,
	store inventory.Store,
	metrics *telemetry.Metrics,
	hostIDs []int64,
	all bool,
	pipelineID string,
	uninstall bool,
) (map[int64]*planner.InstallationPlan, map[int64]error, error) {
	hosts, err := selectHosts(ctx, store, hostIDs, all)
	if err != nil {
		return nil, nil, err
	}

	coordinator, err := newCoordinator(settings, store, metrics)
	if err != nil {
		return nil, nil, err
	}

	return coordinator.BuildMany(ctx, hosts, pipelineID, uninstall)
}

// planOutput is the JSON document the plan command emits.
type planOutput struct {
	PipelineID string                              `json:"pipeline_id"`
	Plans      map[int64]*planner.InstallationPlan `json:"plans"`
	Failures   map[int64]string                    `json:"failures,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var (
		hostIDs    []int64
		all        bool
		pipelineID string
		uninstall  bool
		outFile    string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate installation plans",
		Long: `Generate installation plans for managed hosts.

For each host the planner resolves the install topology (direct, proxy, or
relayed through a jump host), selects the installer script and synthesizes
the full command sequence. Nothing is executed.`,
		Example: `  # Plan installation for two hosts
  nodescope plan --host 1 --host 2

  # Plan uninstallation for every host, saved to a file
  nodescope plan --all --uninstall --out plans.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			if pipelineID == "" {
				pipelineID = uuid.NewString()
			}

			metrics, err := newMetrics(settings)
			if err != nil {
				return err
			}

			plans, failures, err := planBatch(ctx, settings, store, metrics, hostIDs, all, pipelineID, uninstall)
			if err != nil {
				return err
			}

			log.Info().
				Str("pipeline_id", pipelineID).
				Int("planned", len(plans)).
				Int("failed", len(failures)).
				Msg("Plan generation finished")

			out := planOutput{PipelineID: pipelineID, Plans: plans}
			if len(failures) > 0 {
				out.Failures = make(map[int64]string, len(failures))
				for id, failure := range failures {
					out.Failures[id] = failure.Error()
				}
			}

			encoded, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode plans: %w", err)
			}
			encoded = append(encoded, '\n')

			if outFile == "" || outFile == "-" {
				_, err = os.Stdout.Write(encoded)
				return err
			}
			return os.WriteFile(outFile, encoded, 0o644)
		},
	}

	cmd.Flags().Int64SliceVar(&hostIDs, "host", nil, "host ID to plan (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "plan every host in the inventory")
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline ID (generated when empty)")
	cmd.Flags().BoolVar(&uninstall, "uninstall", false, "plan uninstallation instead of installation")
	cmd.Flags().StringVarP(&outFile, "out", "o", "-", "output file path, - for stdout")

	return cmd
}
