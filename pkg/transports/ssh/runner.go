package ssh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nodescope/nodescope/pkg/inventory"
	"github.com/nodescope/nodescope/pkg/planner"
	"github.com/nodescope/nodescope/pkg/telemetry"
)

const (
	phasePre = "pre"
	phaseRun = "run"

	statusOK    = "ok"
	statusError = "error"
)

// IdentitySource resolves login identities, used to authenticate
// against relay hosts named by install plans.
type IdentitySource interface {
	GetIdentity(ctx context.Context, hostID int64) (*inventory.Identity, error)
}

// Runner executes installation plans over SSH: preparation commands
// first, then the installer invocation.
type Runner struct {
	identities IdentitySource
	metrics    *telemetry.Metrics

	// curlPath is a local curl.exe payload pushed to Windows targets
	// before their command list runs. Empty disables the push.
	curlPath string

	// dial builds the transport for a prepared config.
	dial func(cfg *Config) (Transport, error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetrics attaches a metrics collector to the runner.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithCurlPayload sets the local curl.exe binary uploaded to Windows
// targets, which have no download tool of their own.
func WithCurlPayload(path string) RunnerOption {
	return func(r *Runner) { r.curlPath = path }
}

// NewRunner creates a plan runner. The identity source is consulted for
// jump server credentials and may be nil when no plan uses a relay.
func NewRunner(identities IdentitySource, opts ...RunnerOption) *Runner {
	r := &Runner{
		identities: identities,
		dial: func(cfg *Config) (Transport, error) {
			return NewClient(cfg)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunResult collects the outcome of executing one plan.
type RunResult struct {
	HostID    int64         `json:"host_id"`
	Operation string        `json:"operation"`
	Results   []ExecResult  `json:"results"`
	Duration  time.Duration `json:"duration"`
}

// Run executes the plan's commands on its target host. The operation
// name ("install" or "uninstall") is recorded in telemetry only; the
// commands themselves already encode it.
func (r *Runner) Run(ctx context.Context, operation string, plan *planner.InstallationPlan) (*RunResult, error) {
	if plan == nil || plan.Host == nil || plan.Identity == nil {
		return nil, fmt.Errorf("plan is missing host or identity")
	}

	start := time.Now()
	if r.metrics != nil {
		r.metrics.RecordInstallStarted()
	}

	result, err := r.run(ctx, operation, plan)

	status := statusOK
	if err != nil {
		status = statusError
	}
	if r.metrics != nil {
		r.metrics.RecordInstallFinished(operation, status)
	}
	if result != nil {
		result.Duration = time.Since(start)
	}
	return result, err
}

func (r *Runner) run(ctx context.Context, operation string, plan *planner.InstallationPlan) (*RunResult, error) {
	host := plan.Host

	cfg := NewConfigFromIdentity(host, plan.Identity)
	if plan.JumpServer != nil {
		if r.identities == nil {
			return nil, fmt.Errorf("plan requires jump server %s but no identity source is configured", plan.JumpServer.InnerIP)
		}
		jumpIdentity, err := r.identities.GetIdentity(ctx, plan.JumpServer.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve jump server identity: %w", err)
		}
		cfg.WithJumpServer(plan.JumpServer, jumpIdentity)
	}

	transport, err := r.dial(cfg)
	if err != nil {
		return nil, err
	}
	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if derr := transport.Disconnect(); derr != nil {
			log.Warn().Err(derr).Str("host", host.InnerIP).Msg("disconnect failed")
		}
	}()

	res := &RunResult{
		HostID:    host.ID,
		Operation: operation,
	}

	pre, runCmd := splitCommands(plan)

	if host.OSType == inventory.OSWindows && r.curlPath != "" {
		if err := r.pushCurl(ctx, transport, plan); err != nil {
			return res, err
		}
	}

	for _, cmd := range pre {
		er, err := r.execute(ctx, transport, plan, cmd, phasePre, false)
		res.Results = append(res.Results, er)
		if err != nil {
			return res, fmt.Errorf("preparation command failed: %w", err)
		}
	}

	// The installer runs under sudo for non-root accounts; Windows has
	// no such notion.
	useSudo := host.OSType != inventory.OSWindows && plan.Identity.Account != "root"
	er, err := r.execute(ctx, transport, plan, runCmd, phaseRun, useSudo)
	res.Results = append(res.Results, er)
	if err != nil {
		return res, fmt.Errorf("installer invocation failed: %w", err)
	}

	log.Info().
		Int64("host_id", host.ID).
		Str("inner_ip", host.InnerIP).
		Str("operation", operation).
		Int("commands", len(res.Results)).
		Msg("plan executed")

	return res, nil
}

// execute runs one command and records its telemetry phase.
func (r *Runner) execute(ctx context.Context, transport Transport, plan *planner.InstallationPlan, cmd string, phase string, useSudo bool) (ExecResult, error) {
	start := time.Now()

	var stdout, stderr string
	var err error
	if useSudo {
		sudoPassword := ""
		if plan.Identity.AuthType == inventory.AuthPassword {
			sudoPassword = plan.Identity.Password
		}
		stdout, stderr, err = transport.ExecuteCommandWithSudo(ctx, cmd, sudoPassword)
	} else {
		stdout, stderr, err = transport.ExecuteCommand(ctx, cmd)
	}

	duration := time.Since(start)
	status := statusOK
	code := 0
	if err != nil {
		status = statusError
		code = exitCode(err)
	}
	if r.metrics != nil {
		r.metrics.RecordRemoteCommand(phase, status, duration)
	}

	return ExecResult{
		Command:    cmd,
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   code,
		StartedAt:  start,
		FinishedAt: start.Add(duration),
		Duration:   duration,
	}, err
}

// pushCurl uploads the curl.exe payload into the plan's working
// directory, where the Windows command list expects it.
func (r *Runner) pushCurl(ctx context.Context, transport Transport, plan *planner.InstallationPlan) error {
	target := plan.DestDir + "curl.exe"
	start := time.Now()
	err := transport.UploadFile(ctx, r.curlPath, target, 0755)

	status := statusOK
	if err != nil {
		status = statusError
	}
	if r.metrics != nil {
		r.metrics.RecordRemoteCommand(phasePre, status, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("push curl.exe: %w", err)
	}
	return nil
}

// splitCommands separates a plan's preparation commands from its final
// installer invocation. Windows plans carry everything in one ordered
// list whose last entry is the invocation.
func splitCommands(plan *planner.InstallationPlan) (pre []string, run string) {
	if len(plan.WinCommands) > 0 {
		n := len(plan.WinCommands)
		return plan.WinCommands[:n-1], plan.WinCommands[n-1]
	}
	return plan.PreCommands, plan.RunCmd
}
