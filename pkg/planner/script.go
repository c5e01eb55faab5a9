package planner

import (
	"fmt"

	"github.com/nodescope/nodescope/pkg/inventory"
)

// ChooseScript selects the installer script for a host. Selection is a pure
// function of role, channel presence and OS:
//
//   - proxies get the proxy installer;
//   - relayed agents, and any host pinned to an install channel, get the
//     relay installer (capable of double-hop installation);
//   - everything else gets the OS-specific agent installer.
func ChooseScript(host *inventory.Host) (string, error) {
	if host.NodeType == inventory.NodeProxy {
		return ScriptProxy, nil
	}

	if host.HasInstallChannel() || host.NodeType == inventory.NodePAgent {
		return ScriptPAgent, nil
	}

	script, ok := agentScriptByOS[host.OSType]
	if !ok {
		return "", NewValidationError(
			fmt.Sprintf("no installer script for os %s", host.OSType), nil,
		).WithHost(host.ID)
	}
	return script, nil
}

// formatRunCmd wraps a command for the host's shell. Windows commands run
// as-is. Other platforms background the command under their shell (bash,
// or the platform's dedicated shell) via nohup; an empty command yields the
// bare shell name, used as the shell-invocation hint for relay installs.
func formatRunCmd(os inventory.OSType, runCmd string) string {
	if os == inventory.OSWindows && runCmd != "" {
		return runCmd
	}

	shell := "bash"
	if suffix := scriptSuffixByOS[os]; suffix == "ksh" {
		shell = suffix
	}

	if runCmd == "" {
		return shell
	}
	return fmt.Sprintf("nohup %s %s &", shell, runCmd)
}
