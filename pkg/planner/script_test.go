package planner

import (
	"testing"

	"github.com/nodescope/nodescope/pkg/inventory"
)

func TestChooseScript(t *testing.T) {
	tests := []struct {
		name    string
		host    *inventory.Host
		want    string
		wantErr bool
	}{
		{
			name: "proxy",
			host: &inventory.Host{NodeType: inventory.NodeProxy, OSType: inventory.OSLinux},
			want: ScriptProxy,
		},
		{
			name: "relayed agent",
			host: &inventory.Host{NodeType: inventory.NodePAgent, OSType: inventory.OSWindows},
			want: ScriptPAgent,
		},
		{
			name: "channel-pinned agent",
			host: &inventory.Host{NodeType: inventory.NodeAgent, OSType: inventory.OSLinux, InstallChannelID: 7},
			want: ScriptPAgent,
		},
		{
			name: "linux agent",
			host: &inventory.Host{NodeType: inventory.NodeAgent, OSType: inventory.OSLinux},
			want: "setup_agent.sh",
		},
		{
			name: "windows agent",
			host: &inventory.Host{NodeType: inventory.NodeAgent, OSType: inventory.OSWindows},
			want: "setup_agent.bat",
		},
		{
			name: "aix agent",
			host: &inventory.Host{NodeType: inventory.NodeAgent, OSType: inventory.OSAix},
			want: "setup_agent.ksh",
		},
		{
			name:    "unknown os",
			host:    &inventory.Host{NodeType: inventory.NodeAgent, OSType: inventory.OSType("SOLARIS")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChooseScript(tt.host)
			if tt.wantErr {
				if !IsValidation(err) {
					t.Errorf("expected validation failure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFormatRunCmd(t *testing.T) {
	tests := []struct {
		name   string
		os     inventory.OSType
		runCmd string
		want   string
	}{
		{
			name:   "linux backgrounded under bash",
			os:     inventory.OSLinux,
			runCmd: "/tmp/setup_agent.sh -s P1",
			want:   "nohup bash /tmp/setup_agent.sh -s P1 &",
		},
		{
			name:   "aix backgrounded under ksh",
			os:     inventory.OSAix,
			runCmd: "/tmp/setup_agent.ksh -s P1",
			want:   "nohup ksh /tmp/setup_agent.ksh -s P1 &",
		},
		{
			name:   "windows runs as-is",
			os:     inventory.OSWindows,
			runCmd: `C:\tmp\setup_agent.bat -s P1`,
			want:   `C:\tmp\setup_agent.bat -s P1`,
		},
		{
			name: "empty yields linux shell name",
			os:   inventory.OSLinux,
			want: "bash",
		},
		{
			name: "empty yields aix shell name",
			os:   inventory.OSAix,
			want: "ksh",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRunCmd(tt.os, tt.runCmd); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
