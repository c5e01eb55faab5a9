package inventory

import "testing"

func TestHostConnectIP(t *testing.T) {
	host := &Host{InnerIP: "10.1.0.1"}
	if got := host.ConnectIP(); got != "10.1.0.1" {
		t.Errorf("expected inner ip, got %s", got)
	}

	host.LoginIP = "192.168.1.1"
	if got := host.ConnectIP(); got != "192.168.1.1" {
		t.Errorf("login ip should take precedence, got %s", got)
	}
}

func TestHostHasInstallChannel(t *testing.T) {
	host := &Host{}
	if host.HasInstallChannel() {
		t.Error("channel id zero means no channel")
	}
	host.InstallChannelID = 7
	if !host.HasInstallChannel() {
		t.Error("expected a channel")
	}
}

func TestOSTypeLower(t *testing.T) {
	if got := OSWindows.Lower(); got != "windows" {
		t.Errorf("expected windows, got %s", got)
	}
}

func TestAccessPointAgentConfig(t *testing.T) {
	ap := &AccessPoint{
		AgentConfigs: map[OSType]AgentConfig{
			OSLinux: {SetupPath: "/usr/local/agent", TempPath: "/tmp"},
		},
	}

	cfg, err := ap.AgentConfig(OSLinux)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TempPath != "/tmp" {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := ap.AgentConfig(OSWindows); err == nil {
		t.Error("expected an error for a missing os config")
	}
}

func TestIdentitySecret(t *testing.T) {
	key := &Identity{AuthType: AuthKey, Key: "material", Password: "pw"}
	if key.Secret() != "material" {
		t.Errorf("key identity should expose the key, got %q", key.Secret())
	}

	password := &Identity{AuthType: AuthPassword, Key: "material", Password: "pw"}
	if password.Secret() != "pw" {
		t.Errorf("password identity should expose the password, got %q", password.Secret())
	}
}
