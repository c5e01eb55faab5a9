package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nodescope/nodescope/pkg/config"
	"github.com/nodescope/nodescope/pkg/inventory"
)

// callbackURLPattern is the required shape of the installer callback URL.
// Enforced before any command string is emitted.
var callbackURLPattern = regexp.MustCompile(`^https?://.+/backend$`)

// packageDownloadURL builds the base URL agent packages are served from on
// a relay host.
func packageDownloadURL(settings *config.Settings, ip string) string {
	return fmt.Sprintf("http://%s:%d/", ip, settings.DownloadPort)
}

// scriptURL joins a package base URL with a script file name.
func scriptURL(packageURL, script string) string {
	return strings.TrimRight(packageURL, "/") + "/" + script
}

// Builder assembles installation plans: it resolves topology, selects the
// installer script and synthesizes the ordered command sequences.
type Builder struct {
	settings *config.Settings
	resolver *Resolver
	issuer   TokenIssuer

	// now is injectable so plans are reproducible in tests.
	now func() time.Time
}

// NewBuilder creates a command builder.
func NewBuilder(settings *config.Settings, issuer TokenIssuer) *Builder {
	return &Builder{
		settings: settings,
		resolver: NewResolver(settings),
		issuer:   issuer,
		now:      time.Now,
	}
}

// WithClock overrides the timestamp source used for token payloads.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithResolver overrides the topology resolver.
func (b *Builder) WithResolver(resolver *Resolver) *Builder {
	b.resolver = resolver
	return b
}

// BuildInput carries the read-only snapshots one plan is generated from.
type BuildInput struct {
	Host        *inventory.Host
	AccessPoint *inventory.AccessPoint
	Identity    *inventory.Identity

	// Proxies are the candidate relay hosts of the host's cloud region.
	// Only consulted for relayed agents.
	Proxies []*inventory.Host

	// Channel is the resolved install channel, nil when the host has none.
	Channel *InstallChannel

	PipelineID  string
	IsUninstall bool
}

func (in *BuildInput) validate() error {
	if in.Host == nil {
		return NewMissingRecordError("host record is missing", nil)
	}
	if in.AccessPoint == nil {
		return NewMissingRecordError("access point record is missing", nil).WithHost(in.Host.ID)
	}
	if in.Identity == nil {
		return NewMissingRecordError("identity record is missing", nil).WithHost(in.Host.ID)
	}
	return nil
}

// Build generates the installation plan for one host. No partial plan is
// returned on failure.
func (b *Builder) Build(in BuildInput) (*InstallationPlan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	host, ap := in.Host, in.AccessPoint

	topo, err := b.resolver.Resolve(host, ap, in.Proxies, in.Channel)
	if err != nil {
		return nil, err
	}

	agentConfig, err := ap.AgentConfig(host.OSType)
	if err != nil {
		return nil, NewMissingRecordError("agent config is missing", err).WithHost(host.ID)
	}
	installPath := agentConfig.SetupPath

	payload := fmt.Sprintf("%s|%d|%s|%d", host.InnerIP, host.CloudID, in.PipelineID, b.now().Unix())
	token, err := b.issuer.Issue(payload)
	if err != nil {
		return nil, NewValidationError("failed to issue session token", err).WithHost(host.ID)
	}

	ports := ap.PortConfig
	params := &ParamList{}
	params.Add("-s", in.PipelineID)
	params.Add("-r", topo.CallbackURL)
	params.Add("-l", topo.PackageURL)
	params.Add("-c", token)
	params.Add("-O", strconv.Itoa(ports.IOPort))
	params.Add("-E", strconv.Itoa(ports.FileSvrPort))
	params.Add("-A", strconv.Itoa(ports.DataPort))
	params.Add("-V", strconv.Itoa(ports.BTSvrThriftPort))
	params.Add("-B", strconv.Itoa(ports.BTPort))
	params.Add("-S", strconv.Itoa(ports.BTPortStart))
	params.Add("-Z", strconv.Itoa(ports.BTPortEnd))
	params.Add("-K", strconv.Itoa(ports.TrackerPort))
	params.AddQuoted("-e", topo.BTFileServers)
	params.AddQuoted("-a", topo.DataServers)
	params.AddQuoted("-k", topo.TaskServers)

	if err := checkRunParams(params); err != nil {
		return nil, err.WithHost(host.ID)
	}

	script, err := ChooseScript(host)
	if err != nil {
		return nil, err
	}

	destDir := suffixSlash(host.OSType, agentConfig.TempPath)

	var runCmd, downloadCmd string
	var winCommands []string
	if script == ScriptPAgent {
		destDir, runCmd, downloadCmd, err = b.buildRelayInvocation(in, topo, params, agentConfig, installPath)
		if err != nil {
			return nil, err
		}
	} else {
		runCmd, downloadCmd, winCommands = b.buildDirectInvocation(in, topo, params, script, destDir, installPath)
	}

	preCommands := []string{
		downloadCmd,
		fmt.Sprintf("chmod +x %s%s", destDir, script),
	}
	if strings.TrimRight(destDir, "/\\") != "/tmp" {
		preCommands = append([]string{fmt.Sprintf("mkdir -p %s", destDir)}, preCommands...)
	}

	return &InstallationPlan{
		ScriptFileName: script,
		DestDir:        destDir,
		WinCommands:    winCommands,
		UpstreamNodes:  dedupe(strings.Split(topo.TaskServers, ",")),
		JumpServer:     topo.JumpServer,
		PreCommands:    preCommands,
		RunCmd:         runCmd,
		Host:           host,
		AccessPoint:    ap,
		Identity:       in.Identity,
		Proxies:        in.Proxies,
	}, nil
}

// buildRelayInvocation finishes the parameter list for the relay installer
// and returns the dest dir, run command and download pre-command.
//
// The relay script always executes on a Linux-capable jump host, so the
// dest dir comes from the Linux agent config regardless of the target OS.
// The second parameter block describes the target host the relay must
// eventually reach.
func (b *Builder) buildRelayInvocation(
	in BuildInput,
	topo *Topology,
	params *ParamList,
	agentConfig inventory.AgentConfig,
	installPath string,
) (destDir, runCmd, downloadCmd string, err error) {
	host, identity := in.Host, in.Identity

	if topo.JumpServer == nil {
		return "", "", "", NewTopologyError("relay install requires a jump server", nil).WithHost(host.ID)
	}

	targetScript, ok := agentScriptByOS[host.OSType]
	if !ok {
		return "", "", "", NewValidationError(
			fmt.Sprintf("no installer script for os %s", host.OSType), nil,
		).WithHost(host.ID)
	}

	params.Add("-L", b.settings.DownloadPath)

	linuxConfig, cfgErr := in.AccessPoint.AgentConfig(inventory.OSLinux)
	if cfgErr != nil {
		return "", "", "", NewMissingRecordError("linux agent config is missing", cfgErr).WithHost(host.ID)
	}
	destDir = suffixSlash(inventory.OSLinux, linuxConfig.TempPath)

	// Manual installs hand the operator a self-invoking command line: the
	// script path itself leads the parameter list.
	if host.IsManual {
		params.PrependBare(destDir + ScriptPAgent)
	}

	hostTmpDir := suffixSlash(host.OSType, agentConfig.TempPath)
	params.Add("-HLIP", host.ConnectIP())
	params.Add("-HIIP", host.InnerIP)
	params.Add("-HA", identity.Account)
	params.Add("-HP", strconv.Itoa(identity.Port))
	params.AddSingleQuoted("-HI", identity.Secret())
	params.Add("-HC", strconv.FormatInt(host.CloudID, 10))
	params.Add("-HNT", string(host.NodeType))
	params.Add("-HOT", host.OSType.Lower())
	params.AddSingleQuoted("-HDD", hostTmpDir)
	params.AddSingleQuoted("-HPP", strconv.Itoa(b.settings.ProxyPassPort))
	params.AddSingleQuoted("-HSN", targetScript)
	params.AddSingleQuoted("-HS", formatRunCmd(host.OSType, ""))

	params.AddSingleQuoted("-p", installPath)
	params.Add("-I", topo.JumpServer.InnerIP)
	params.Add("-o", packageDownloadURL(b.settings, topo.JumpServer.InnerIP))
	if in.IsUninstall {
		params.AddBare("-R")
	}

	if host.HasInstallChannel() && in.Channel != nil && in.Channel.Channel != nil {
		channel := in.Channel.Channel
		if channel.DownloadProxyEnabled() {
			// The relay script boolean-parses -ADP case-insensitively,
			// so the canonical lowercase form works alongside the
			// title-cased form older controllers emit.
			params.AddSingleQuoted("-ADP", "true")
		}
		if channel.ChannelProxyAddress != "" {
			params.AddSingleQuoted("-CPA", channel.ChannelProxyAddress)
		}
	}

	// The relay script is invoked through its own interpreter, never
	// wrapped for the target OS.
	runCmd = params.String()

	// Fetch only when the script is missing or its checksum drifted from
	// the served copy.
	scriptPath := destDir + ScriptPAgent
	downloadCmd = fmt.Sprintf(
		"if [ ! -e %s ] || "+
			"[ `curl %s -s | md5sum | awk '{print $1}'` != `md5sum %s | awk '{print $1}'` ]; then "+
			"curl %s -o %s --connect-timeout 5 -sSf && chmod +x %s; fi",
		scriptPath,
		scriptURL(topo.PackageURL, ScriptPAgent), scriptPath,
		scriptURL(topo.PackageURL, ScriptPAgent), scriptPath, scriptPath,
	)

	return destDir, runCmd, downloadCmd, nil
}

// buildDirectInvocation finishes the parameter list for a direct OS-specific
// install and returns the run command, download pre-command and, for
// Windows targets, the ordered standalone command list.
func (b *Builder) buildDirectInvocation(
	in BuildInput,
	topo *Topology,
	params *ParamList,
	script, destDir, installPath string,
) (runCmd, downloadCmd string, winCommands []string) {
	host := in.Host

	params.Add("-i", strconv.FormatInt(host.CloudID, 10))
	params.Add("-I", host.InnerIP)
	params.Add("-N", "SERVER")
	params.Add("-p", installPath)
	params.Add("-T", destDir)
	if in.IsUninstall {
		params.AddBare("-R")
	}

	runCmd = formatRunCmd(host.OSType, fmt.Sprintf("%s%s %s", destDir, script, params.String()))

	if host.OSType == inventory.OSWindows {
		// Windows cannot chain commands with POSIX operators, so the plan
		// carries three ordered standalone commands: remove, download, run.
		removeCmd := fmt.Sprintf("del /q /s /f %s%s %s%s", destDir, script, destDir, ScriptWindowsCtl)
		fetchCmd := fmt.Sprintf("%scurl.exe %s -o %s%s -sSf",
			destDir, scriptURL(in.AccessPoint.PackageInnerURL, script), destDir, script)
		winCommands = []string{removeCmd, fetchCmd, runCmd}
	}

	downloadCmd = fmt.Sprintf("curl %s -o %s%s --connect-timeout 5 -sSf",
		scriptURL(topo.PackageURL, script), destDir, script)

	return runCmd, downloadCmd, winCommands
}

// checkRunParams validates generated parameters before any command string
// is emitted. The whole build is rejected on mismatch.
func checkRunParams(params *ParamList) *PlanError {
	callback, ok := params.Get("-r")
	if !ok || !callbackURLPattern.MatchString(callback) {
		return NewValidationError(fmt.Sprintf(
			"callback url %q does not match %s (example: http://domain.com/backend)",
			callback, callbackURLPattern.String(),
		), nil)
	}
	return nil
}
