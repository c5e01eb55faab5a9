package planner

import (
	"testing"

	"github.com/nodescope/nodescope/pkg/inventory"
)

func TestResolveAgent(t *testing.T) {
	resolver := NewResolver(testSettings())

	host := &inventory.Host{ID: 1, NodeType: inventory.NodeAgent}
	topo, err := resolver.Resolve(host, testAccessPoint(), nil, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if topo.JumpServer != nil {
		t.Error("direct agent should have no jump server")
	}
	if topo.BTFileServers != "10.0.0.2" || topo.DataServers != "10.0.0.3" || topo.TaskServers != "10.0.0.4" {
		t.Errorf("expected inner pools, got %+v", topo)
	}
	if topo.PackageURL != "http://10.0.0.1/download" {
		t.Errorf("expected inner package url, got %s", topo.PackageURL)
	}
	if topo.CallbackURL != "http://nodeman.example.com/backend" {
		t.Errorf("expected agent callback, got %s", topo.CallbackURL)
	}
}

func TestResolveProxy(t *testing.T) {
	resolver := NewResolver(testSettings())
	host := &inventory.Host{ID: 2, NodeType: inventory.NodeProxy}

	t.Run("default callback", func(t *testing.T) {
		topo, err := resolver.Resolve(host, testAccessPoint(), nil, nil)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if topo.BTFileServers != "198.51.100.2" || topo.DataServers != "198.51.100.3" || topo.TaskServers != "198.51.100.4" {
			t.Errorf("expected outer pools, got %+v", topo)
		}
		if topo.PackageURL != "http://198.51.100.1/download" {
			t.Errorf("expected outer package url, got %s", topo.PackageURL)
		}
		if topo.CallbackURL != "http://outer.example.com/backend" {
			t.Errorf("expected outer callback, got %s", topo.CallbackURL)
		}
	})

	t.Run("access point override", func(t *testing.T) {
		ap := testAccessPoint()
		ap.OuterCallbackURL = "http://ap.example.com/backend"
		topo, err := resolver.Resolve(host, ap, nil, nil)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if topo.CallbackURL != "http://ap.example.com/backend" {
			t.Errorf("expected access point callback, got %s", topo.CallbackURL)
		}
	})
}

func TestResolveRelayedAgent(t *testing.T) {
	resolver := NewResolver(testSettings()).WithProxyPicker(func(n int) int { return n - 1 })

	host := &inventory.Host{ID: 4, CloudID: 5, NodeType: inventory.NodePAgent}
	proxies := []*inventory.Host{
		{ID: 10, InnerIP: "10.5.0.2", Status: inventory.StatusRunning},
		{ID: 11, InnerIP: "10.5.0.3", Status: inventory.StatusTerminated},
		{ID: 12, InnerIP: "10.5.0.2", Status: inventory.StatusRunning},
		{ID: 13, InnerIP: "10.5.0.4", Status: inventory.StatusRunning},
	}

	topo, err := resolver.Resolve(host, testAccessPoint(), proxies, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// The picker selects among alive proxies only: 10, 12 and 13.
	if topo.JumpServer == nil || topo.JumpServer.ID != 13 {
		t.Fatalf("expected proxy 13 as jump server, got %+v", topo.JumpServer)
	}

	// All three pools are the deduplicated candidate addresses, the
	// terminated proxy included.
	want := "10.5.0.2,10.5.0.3,10.5.0.4"
	if topo.BTFileServers != want || topo.DataServers != want || topo.TaskServers != want {
		t.Errorf("expected pool %q, got %+v", want, topo)
	}
	if topo.PackageURL != "http://198.51.100.1/download" {
		t.Errorf("expected outer package url, got %s", topo.PackageURL)
	}
}

func TestResolveRelayedAgentNoAliveProxy(t *testing.T) {
	resolver := NewResolver(testSettings())
	host := &inventory.Host{ID: 4, CloudID: 5, NodeType: inventory.NodePAgent}

	_, err := resolver.Resolve(host, testAccessPoint(), []*inventory.Host{
		{ID: 10, InnerIP: "10.5.0.2", Status: inventory.StatusTerminated},
	}, nil)
	if !IsTopology(err) {
		t.Errorf("expected topology failure, got %v", err)
	}
}

func TestResolveInstallChannel(t *testing.T) {
	resolver := NewResolver(testSettings())

	jump := &inventory.Host{ID: 20, InnerIP: "172.16.0.9"}
	channel := &InstallChannel{
		JumpServer: jump,
		Channel: &inventory.InstallChannel{
			ID:           7,
			JumpServerID: 20,
			Servers: map[string][]string{
				inventory.PoolBTFileServer: {"172.16.0.10", "172.16.0.11"},
				inventory.PoolDataServer:   {"172.16.0.12"},
				inventory.PoolTaskServer:   {"172.16.0.13"},
			},
		},
	}

	t.Run("agent callback", func(t *testing.T) {
		host := &inventory.Host{ID: 5, NodeType: inventory.NodeAgent, InstallChannelID: 7}
		topo, err := resolver.Resolve(host, testAccessPoint(), nil, channel)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if topo.JumpServer != jump {
			t.Error("expected channel jump server")
		}
		if topo.BTFileServers != "172.16.0.10,172.16.0.11" {
			t.Errorf("expected channel pool, got %s", topo.BTFileServers)
		}
		if topo.PackageURL != "http://172.16.0.9:17980/" {
			t.Errorf("expected jump-host package url, got %s", topo.PackageURL)
		}
		if topo.CallbackURL != "http://nodeman.example.com/backend" {
			t.Errorf("expected agent callback, got %s", topo.CallbackURL)
		}
	})

	t.Run("relayed agent callback", func(t *testing.T) {
		host := &inventory.Host{ID: 6, NodeType: inventory.NodePAgent, InstallChannelID: 7}
		topo, err := resolver.Resolve(host, testAccessPoint(), nil, channel)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if topo.CallbackURL != "http://outer.example.com/backend" {
			t.Errorf("expected outer callback, got %s", topo.CallbackURL)
		}
	})

	t.Run("unresolved channel", func(t *testing.T) {
		host := &inventory.Host{ID: 5, NodeType: inventory.NodeAgent, InstallChannelID: 7}
		for name, ch := range map[string]*InstallChannel{
			"nil channel":     nil,
			"no jump server":  {Channel: channel.Channel},
			"no channel body": {JumpServer: jump},
		} {
			if _, err := resolver.Resolve(host, testAccessPoint(), nil, ch); !IsMissingRecord(err) {
				t.Errorf("%s: expected missing record failure, got %v", name, err)
			}
		}
	})
}
