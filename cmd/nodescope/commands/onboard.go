package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nodescope/nodescope/pkg/inventory"
)

// inventoryFile is the YAML document the onboard command imports.
type inventoryFile struct {
	AccessPoints    []accessPointEntry    `yaml:"access_points"`
	InstallChannels []installChannelEntry `yaml:"install_channels"`
	Hosts           []hostEntry           `yaml:"hosts"`
}

type accessPointEntry struct {
	ID               int64                      `yaml:"id"`
	Name             string                     `yaml:"name"`
	AgentConfigs     map[string]agentConfigSpec `yaml:"agent_configs"`
	Ports            portsSpec                  `yaml:"ports"`
	PackageInnerURL  string                     `yaml:"package_inner_url"`
	PackageOuterURL  string                     `yaml:"package_outer_url"`
	OuterCallbackURL string                     `yaml:"outer_callback_url"`
	BTFileServers    []serverSpec               `yaml:"btfileservers"`
	DataServers      []serverSpec               `yaml:"dataservers"`
	TaskServers      []serverSpec               `yaml:"taskservers"`
}

type portsSpec struct {
	IOPort          int `yaml:"io_port"`
	FileSvrPort     int `yaml:"file_svr_port"`
	DataPort        int `yaml:"data_port"`
	BTSvrThriftPort int `yaml:"btsvr_thrift_port"`
	BTPort          int `yaml:"bt_port"`
	BTPortStart     int `yaml:"bt_port_start"`
	BTPortEnd       int `yaml:"bt_port_end"`
	TrackerPort     int `yaml:"tracker_port"`
}

type agentConfigSpec struct {
	SetupPath string `yaml:"setup_path"`
	TempPath  string `yaml:"temp_path"`
}

type serverSpec struct {
	InnerIP string `yaml:"inner_ip"`
	OuterIP string `yaml:"outer_ip"`
}

type installChannelEntry struct {
	ID            int64               `yaml:"id"`
	Name          string              `yaml:"name"`
	JumpServerID  int64               `yaml:"jump_server"`
	Servers       map[string][]string `yaml:"servers"`
	DownloadProxy *bool               `yaml:"download_proxy"`
	ProxyAddress  string              `yaml:"proxy_address"`
}

type hostEntry struct {
	ID             int64        `yaml:"id"`
	CloudID        int64        `yaml:"cloud_id"`
	InnerIP        string       `yaml:"inner_ip"`
	LoginIP        string       `yaml:"login_ip"`
	OS             string       `yaml:"os"`
	NodeType       string       `yaml:"node_type"`
	AccessPointID  int64        `yaml:"access_point"`
	InstallChannel int64        `yaml:"install_channel"`
	IsManual       bool         `yaml:"is_manual"`
	Status         string       `yaml:"status"`
	Identity       identitySpec `yaml:"identity"`
}

type identitySpec struct {
	Auth     string `yaml:"auth"`
	Account  string `yaml:"account"`
	Port     int    `yaml:"port"`
	Key      string `yaml:"key"`
	KeyFile  string `yaml:"key_file"`
	Password string `yaml:"password"`
}

func newOnboardCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Import hosts into the inventory",
		Long: `Import hosts, identities, access points and install channels from a
YAML file into the inventory database.

Records are upserted by ID, so re-running the import with an updated file
replaces the matching records in place.`,
		Example: `  # Import an inventory file
  nodescope onboard --file inventory.yaml

Inventory file shape:

  access_points:
    - id: 1
      name: default
      agent_configs:
        linux: {setup_path: /usr/local/agent, temp_path: /tmp}
      ports: {io_port: 48668, ...}
      package_inner_url: http://pkg.internal/download
  hosts:
    - id: 42
      inner_ip: 10.0.0.42
      os: linux
      node_type: AGENT
      access_point: 1
      identity: {auth: PASSWORD, account: root, password: secret}`,
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

			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read inventory file: %w", err)
			}

			var doc inventoryFile
			if err := yaml.Unmarshal(content, &doc); err != nil {
				return fmt.Errorf("failed to parse inventory file: %w", err)
			}

			if err := importInventory(ctx, store, &doc); err != nil {
				return err
			}

			log.Info().
				Int("access_points", len(doc.AccessPoints)).
				Int("install_channels", len(doc.InstallChannels)).
				Int("hosts", len(doc.Hosts)).
				Msg("Inventory import finished")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "inventory YAML file")
	cmd.MarkFlagRequired("file")

	return cmd
}

func importInventory(ctx context.Context, store inventory.Store, doc *inventoryFile) error {
	for _, entry := range doc.AccessPoints {
		ap, err := entry.toRecord()
		if err != nil {
			return fmt.Errorf("access point %d: %w", entry.ID, err)
		}
		if err := store.UpsertAccessPoint(ctx, ap); err != nil {
			return err
		}
	}

	for _, entry := range doc.InstallChannels {
		if err := store.UpsertInstallChannel(ctx, &inventory.InstallChannel{
			ID:                  entry.ID,
			Name:                entry.Name,
			JumpServerID:        entry.JumpServerID,
			Servers:             entry.Servers,
			AgentDownloadProxy:  entry.DownloadProxy,
			ChannelProxyAddress: entry.ProxyAddress,
		}); err != nil {
			return err
		}
	}

	for _, entry := range doc.Hosts {
		host, identity, err := entry.toRecords()
		if err != nil {
			return fmt.Errorf("host %d: %w", entry.ID, err)
		}
		if err := store.UpsertHost(ctx, host); err != nil {
			return err
		}
		if identity != nil {
			if err := store.UpsertIdentity(ctx, identity); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *accessPointEntry) toRecord() (*inventory.AccessPoint, error) {
	configs := make(map[inventory.OSType]inventory.AgentConfig, len(e.AgentConfigs))
	for os, cfg := range e.AgentConfigs {
		if cfg.SetupPath == "" || cfg.TempPath == "" {
			return nil, fmt.Errorf("agent config for %s needs setup_path and temp_path", os)
		}
		configs[inventory.OSType(strings.ToUpper(os))] = inventory.AgentConfig{
			SetupPath: cfg.SetupPath,
			TempPath:  cfg.TempPath,
		}
	}

	return &inventory.AccessPoint{
		ID:           e.ID,
		Name:         e.Name,
		AgentConfigs: configs,
		PortConfig: inventory.PortConfig{
			IOPort:          e.Ports.IOPort,
			FileSvrPort:     e.Ports.FileSvrPort,
			DataPort:        e.Ports.DataPort,
			BTSvrThriftPort: e.Ports.BTSvrThriftPort,
			BTPort:          e.Ports.BTPort,
			BTPortStart:     e.Ports.BTPortStart,
			BTPortEnd:       e.Ports.BTPortEnd,
			TrackerPort:     e.Ports.TrackerPort,
		},
		PackageInnerURL:  e.PackageInnerURL,
		PackageOuterURL:  e.PackageOuterURL,
		OuterCallbackURL: e.OuterCallbackURL,
		BTFileServers:    toEndpoints(e.BTFileServers),
		DataServers:      toEndpoints(e.DataServers),
		TaskServers:      toEndpoints(e.TaskServers),
	}, nil
}

func toEndpoints(specs []serverSpec) []inventory.ServerEndpoint {
	endpoints := make([]inventory.ServerEndpoint, len(specs))
	for i, spec := range specs {
		endpoints[i] = inventory.ServerEndpoint{InnerIP: spec.InnerIP, OuterIP: spec.OuterIP}
	}
	return endpoints
}

func (e *hostEntry) toRecords() (*inventory.Host, *inventory.Identity, error) {
	if e.InnerIP == "" {
		return nil, nil, fmt.Errorf("inner_ip is required")
	}

	host := &inventory.Host{
		ID:               e.ID,
		CloudID:          e.CloudID,
		InnerIP:          e.InnerIP,
		LoginIP:          e.LoginIP,
		OSType:           inventory.OSType(strings.ToUpper(e.OS)),
		NodeType:         inventory.NodeType(strings.ToUpper(e.NodeType)),
		AccessPointID:    e.AccessPointID,
		InstallChannelID: e.InstallChannel,
		IsManual:         e.IsManual,
		Status:           inventory.HostStatus(strings.ToUpper(e.Status)),
	}

	if e.Identity.Auth == "" {
		return host, nil, nil
	}

	identity := &inventory.Identity{
		HostID:   e.ID,
		AuthType: inventory.AuthType(strings.ToUpper(e.Identity.Auth)),
		Account:  e.Identity.Account,
		Port:     e.Identity.Port,
		Key:      e.Identity.Key,
		Password: e.Identity.Password,
	}
	if identity.Port == 0 {
		identity.Port = 22
	}
	if e.Identity.KeyFile != "" {
		material, err := os.ReadFile(e.Identity.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read key file: %w", err)
		}
		identity.Key = string(material)
	}

	return host, identity, nil
}
