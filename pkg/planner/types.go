package planner

import (
	"strings"

	"github.com/nodescope/nodescope/pkg/inventory"
)

// Installer script file names.
const (
	// ScriptProxy installs a proxy node.
	ScriptProxy = "setup_proxy.sh"

	// ScriptPAgent is the relay installer: it runs on a Linux jump host and
	// performs the double-hop installation of an agent it can reach but we
	// cannot. One OS-agnostic name regardless of the target host's OS.
	ScriptPAgent = "setup_pagent.py"

	// ScriptWindowsCtl is the control batch file shipped next to the
	// Windows installer; removed together with the installer on reinstall.
	ScriptWindowsCtl = "agentctl.bat"
)

// agentScriptByOS is the fixed OS to installer-script table for direct
// agent installs.
var agentScriptByOS = map[inventory.OSType]string{
	inventory.OSLinux:   "setup_agent.sh",
	inventory.OSWindows: "setup_agent.bat",
	inventory.OSAix:     "setup_agent.ksh",
}

// scriptSuffixByOS maps each OS to its script suffix. The suffix doubles as
// the dedicated shell name for platforms that do not use bash.
var scriptSuffixByOS = map[inventory.OSType]string{
	inventory.OSLinux:   "sh",
	inventory.OSWindows: "bat",
	inventory.OSAix:     "ksh",
}

// TokenIssuer issues the opaque session token embedded in the install
// command. The token format is opaque to the planner.
type TokenIssuer interface {
	Issue(payload string) (string, error)
}

// InstallChannel pairs an install-channel record with its resolved jump
// host. The channel overrides the default topology entirely.
type InstallChannel struct {
	JumpServer *inventory.Host
	Channel    *inventory.InstallChannel
}

// Topology is the resolved upstream layout for one host: where the agent
// registers, where it downloads its package from, and which host (if any)
// installation must relay through.
type Topology struct {
	// JumpServer is the relay host, nil for direct installs.
	JumpServer *inventory.Host

	// BTFileServers, DataServers and TaskServers are the comma-joined
	// upstream addresses the agent registers against.
	BTFileServers string
	DataServers   string
	TaskServers   string

	// PackageURL is the base URL the installer downloads the agent package from.
	PackageURL string

	// CallbackURL is the endpoint the installer reports progress to.
	CallbackURL string
}

// InstallationPlan is the full command plan for one host. It is constructed
// once and not mutated afterwards.
type InstallationPlan struct {
	// ScriptFileName is the selected installer script, e.g. setup_agent.sh.
	ScriptFileName string `json:"script_file_name"`

	// DestDir is the working directory on the executing host, always with
	// the OS-correct trailing path separator.
	DestDir string `json:"dest_dir"`

	// WinCommands is the ordered standalone command list for Windows
	// targets, which cannot chain commands with POSIX operators. Empty for
	// every other OS; when non-empty it is used instead of RunCmd.
	WinCommands []string `json:"win_commands,omitempty"`

	// UpstreamNodes is the deduplicated set of upstream addresses the agent
	// will register against. Order is not significant.
	UpstreamNodes []string `json:"upstream_nodes"`

	// JumpServer is the relay host, nil for direct installs.
	JumpServer *inventory.Host `json:"jump_server,omitempty"`

	// PreCommands run before RunCmd: directory creation, script download,
	// permission set.
	PreCommands []string `json:"pre_commands"`

	// RunCmd is the main installer invocation.
	RunCmd string `json:"run_cmd"`

	// Inputs the plan was built from, kept for the execution layer.
	Host        *inventory.Host        `json:"host"`
	AccessPoint *inventory.AccessPoint `json:"access_point"`
	Identity    *inventory.Identity    `json:"-"`
	Proxies     []*inventory.Host      `json:"proxies,omitempty"`
}

// Commands returns the commands to execute in order: WinCommands when
// present, otherwise the single RunCmd.
func (p *InstallationPlan) Commands() []string {
	if len(p.WinCommands) > 0 {
		return p.WinCommands
	}
	return []string{p.RunCmd}
}

// suffixSlash returns the path with the OS-correct trailing separator.
func suffixSlash(os inventory.OSType, path string) string {
	if os == inventory.OSWindows {
		if strings.HasSuffix(path, "\\") {
			return path
		}
		return path + "\\"
	}
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// joinInner comma-joins the inner addresses of a server pool.
func joinInner(pool []inventory.ServerEndpoint) string {
	ips := make([]string, 0, len(pool))
	for _, server := range pool {
		ips = append(ips, server.InnerIP)
	}
	return strings.Join(ips, ",")
}

// joinOuter comma-joins the outer addresses of a server pool.
func joinOuter(pool []inventory.ServerEndpoint) string {
	ips := make([]string, 0, len(pool))
	for _, server := range pool {
		ips = append(ips, server.OuterIP)
	}
	return strings.Join(ips, ",")
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
