package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodescope/nodescope/pkg/policy"
	"github.com/nodescope/nodescope/pkg/telemetry"
	"github.com/nodescope/nodescope/pkg/transports/ssh"
)

func newInstallCommand() *cobra.Command {
	return newExecuteCommand("install",
		"Install the monitoring agent on managed hosts",
		`Plan, policy-gate and run agent installation on the selected hosts.

Each host's plan is generated, evaluated against the install policies, and
executed over SSH. Hosts whose plans fail generation or are denied by
policy are skipped; the remaining hosts proceed.`,
		`  # Install on two hosts
  nodescope install --host 1 --host 2

  # Install everywhere, pushing a bundled curl.exe to Windows hosts
  nodescope install --all --curl-exe ./assets/curl.exe`)
}

func newUninstallCommand() *cobra.Command {
	return newExecuteCommand("uninstall",
		"Uninstall the monitoring agent from managed hosts",
		`Plan, policy-gate and run agent removal on the selected hosts.`,
		`  # Uninstall from one host
  nodescope uninstall --host 1`)
}

func newExecuteCommand(operation, short, long, example string) *cobra.Command {
	var (
		hostIDs    []int64
		all        bool
		pipelineID string
		curlExe    string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:     operation,
		Short:   short,
		Long:    long,
		Example: example,
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
			logger := log.With().
				Str("pipeline_id", pipelineID).
				Str("operation", operation).
				Logger()

			metrics, err := newMetrics(settings)
			if err != nil {
				return err
			}
			tracer, err := newTracer(ctx, settings)
			if err != nil {
				return err
			}
			defer func() {
				if err := tracer.Shutdown(context.Background()); err != nil {
					logger.Warn().Err(err).Msg("Trace flush failed")
				}
			}()

			plans, failures, err := planBatch(
				ctx, settings, store, metrics, hostIDs, all, pipelineID, operation == "uninstall",
			)
			if err != nil {
				return err
			}
			for hostID, failure := range failures {
				logger.Error().Err(failure).Int64("host_id", hostID).Msg("Plan generation failed")
			}

			ctx, batchSpan := tracer.StartBatch(ctx, pipelineID, len(plans))
			defer func() { telemetry.EndSpan(batchSpan, nil) }()

			engine, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if settings.Policy.Dir != "" {
				if err := engine.LoadPolicies(ctx, []string{settings.Policy.Dir}); err != nil {
					return err
				}
				if err := engine.WatchPolicies(ctx, []string{settings.Policy.Dir}); err != nil {
					logger.Warn().Err(err).Msg("Policy hot reload unavailable")
				}
			}

			results, err := engine.EvaluateBatch(ctx, plans, &policy.Context{
				Operation:  operation,
				PipelineID: pipelineID,
				Timestamp:  time.Now(),
				DryRun:     dryRun,
			})
			if err != nil {
				return err
			}
			for hostID, result := range results {
				for _, violation := range result.Violations {
					metrics.RecordPolicyViolation(violation.Policy, string(violation.Severity))
					logger.Warn().
						Int64("host_id", hostID).
						Str("policy", violation.Policy).
						Str("severity", string(violation.Severity)).
						Msg(violation.Message)
				}
				if !result.Allowed {
					logger.Error().Int64("host_id", hostID).Msg("Plan denied by policy")
					delete(plans, hostID)
				}
			}

			if dryRun {
				logger.Info().Int("hosts", len(plans)).Msg("Dry run, nothing executed")
				return nil
			}

			opts := []ssh.RunnerOption{ssh.WithMetrics(metrics)}
			if curlExe != "" {
				opts = append(opts, ssh.WithCurlPayload(curlExe))
			}
			runner := ssh.NewRunner(store, opts...)

			succeeded, failed := 0, 0
			for hostID, plan := range plans {
				hostCtx, span := tracer.StartInstall(ctx, hostID, operation)
				result, err := runner.Run(hostCtx, operation, plan)
				telemetry.EndSpan(span, err)
				if err != nil {
					failed++
					logger.Error().Err(err).Int64("host_id", hostID).Msg("Execution failed")
					continue
				}
				succeeded++
				logger.Info().
					Int64("host_id", hostID).
					Int("commands", len(result.Results)).
					Dur("duration", result.Duration).
					Msg("Execution finished")
			}

			logger.Info().
				Int("succeeded", succeeded).
				Int("failed", failed+len(failures)).
				Msg("Batch finished")
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&hostIDs, "host", nil, "host ID to process (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "process every host in the inventory")
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline ID (generated when empty)")
	cmd.Flags().StringVar(&curlExe, "curl-exe", "", "local curl.exe pushed to Windows hosts before install")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and policy-gate without executing")

	return cmd
}
