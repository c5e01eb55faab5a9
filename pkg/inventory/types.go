// Package inventory defines the record model for managed hosts and the
// store that persists it. Records are read-only snapshots from the
// planner's point of view: the planning core never mutates them.
package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is wrapped by store lookups when a record does not exist.
// Callers classify it with errors.Is.
var ErrNotFound = errors.New("record not found")

// OSType identifies the operating system of a managed host.
type OSType string

const (
	OSLinux   OSType = "LINUX"
	OSWindows OSType = "WINDOWS"
	OSAix     OSType = "AIX"
)

// Lower returns the lowercase form used in command parameters.
func (o OSType) Lower() string {
	return strings.ToLower(string(o))
}

// NodeType is the role a host plays in the agent topology.
type NodeType string

const (
	// NodeAgent is a directly reachable host running a plain agent.
	NodeAgent NodeType = "AGENT"

	// NodeProxy is a relay host that forwards agent traffic upstream.
	NodeProxy NodeType = "PROXY"

	// NodePAgent is an agent on a host reachable only through a proxy.
	NodePAgent NodeType = "PAGENT"
)

// AuthType is the authentication mode of an identity record.
type AuthType string

const (
	AuthKey      AuthType = "KEY"
	AuthPassword AuthType = "PASSWORD"
)

// HostStatus is the liveness state of a host as last observed.
type HostStatus string

const (
	StatusRunning    HostStatus = "RUNNING"
	StatusTerminated HostStatus = "TERMINATED"
)

// Host is a managed host record.
type Host struct {
	ID               int64      `json:"id"`
	CloudID          int64      `json:"cloud_id"`
	InnerIP          string     `json:"inner_ip" validate:"required,ip"`
	LoginIP          string     `json:"login_ip,omitempty"`
	OSType           OSType     `json:"os_type" validate:"required,oneof=LINUX WINDOWS AIX"`
	NodeType         NodeType   `json:"node_type" validate:"required,oneof=AGENT PROXY PAGENT"`
	AccessPointID    int64      `json:"access_point_id"`
	InstallChannelID int64      `json:"install_channel_id,omitempty"`
	IsManual         bool       `json:"is_manual,omitempty"`
	Status           HostStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasInstallChannel reports whether the host is pinned to an install channel.
func (h *Host) HasInstallChannel() bool {
	return h.InstallChannelID != 0
}

// ConnectIP returns the address used to reach the host for installation:
// the login IP when set, otherwise the inner IP.
func (h *Host) ConnectIP() string {
	if h.LoginIP != "" {
		return h.LoginIP
	}
	return h.InnerIP
}

// ServerEndpoint is one member of an upstream server pool.
type ServerEndpoint struct {
	InnerIP string `json:"inner_ip"`
	OuterIP string `json:"outer_ip"`
}

// AgentConfig holds the per-OS filesystem layout for the agent.
type AgentConfig struct {
	SetupPath string `json:"setup_path"`
	TempPath  string `json:"temp_path"`
}

// PortConfig holds the listen ports an agent registers with.
type PortConfig struct {
	IOPort          int `json:"io_port"`
	FileSvrPort     int `json:"file_svr_port"`
	DataPort        int `json:"data_port"`
	BTSvrThriftPort int `json:"btsvr_thrift_port"`
	BTPort          int `json:"bt_port"`
	BTPortStart     int `json:"bt_port_start"`
	BTPortEnd       int `json:"bt_port_end"`
	TrackerPort     int `json:"tracker_port"`
}

// AccessPoint groups the upstream servers, package sources and per-OS agent
// configuration a set of hosts registers against.
type AccessPoint struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required"`

	// AgentConfigs maps each OS to its install/temp paths.
	AgentConfigs map[OSType]AgentConfig `json:"agent_configs" validate:"required"`

	PortConfig PortConfig `json:"port_config"`

	PackageInnerURL string `json:"package_inner_url" validate:"required,url"`
	PackageOuterURL string `json:"package_outer_url" validate:"required,url"`

	// OuterCallbackURL overrides the default callback endpoint for hosts
	// installing through the outer network. Empty means use the default.
	OuterCallbackURL string `json:"outer_callback_url,omitempty"`

	BTFileServers []ServerEndpoint `json:"btfileserver"`
	DataServers   []ServerEndpoint `json:"dataserver"`
	TaskServers   []ServerEndpoint `json:"taskserver"`
}

// AgentConfig returns the agent configuration for the given OS.
func (ap *AccessPoint) AgentConfig(os OSType) (AgentConfig, error) {
	cfg, ok := ap.AgentConfigs[os]
	if !ok {
		return AgentConfig{}, fmt.Errorf("access point %d has no agent config for os %s", ap.ID, os)
	}
	return cfg, nil
}

// Identity holds the login credentials for one host.
type Identity struct {
	HostID   int64    `json:"host_id"`
	AuthType AuthType `json:"auth_type" validate:"required,oneof=KEY PASSWORD"`
	Account  string   `json:"account" validate:"required"`
	Port     int      `json:"port" validate:"required,min=1,max=65535"`
	Key      string   `json:"key,omitempty"`
	Password string   `json:"password,omitempty"`
}

// Secret returns the credential matching the identity's auth type.
func (i *Identity) Secret() string {
	if i.AuthType == AuthKey {
		return i.Key
	}
	return i.Password
}

// Upstream server pool keys used by install channels.
const (
	PoolBTFileServer = "btfileserver"
	PoolDataServer   = "dataserver"
	PoolTaskServer   = "taskserver"
)

// InstallChannel overrides the default topology for hosts that cannot reach
// the access point directly: it names a jump host and the upstream server
// addresses the agent should register against.
type InstallChannel struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	JumpServerID int64  `json:"jump_server_id" validate:"required"`

	// Servers maps pool name (btfileserver, dataserver, taskserver) to the
	// already-resolved upstream addresses.
	Servers map[string][]string `json:"servers" validate:"required"`

	// AgentDownloadProxy controls whether the agent package is fetched
	// through the channel proxy. Nil means the default (enabled).
	AgentDownloadProxy *bool `json:"agent_download_proxy,omitempty"`

	// ChannelProxyAddress is an optional explicit proxy address handed to
	// the relay installer.
	ChannelProxyAddress string `json:"channel_proxy_address,omitempty"`
}

// DownloadProxyEnabled reports the agent_download_proxy flag, defaulting to true.
func (c *InstallChannel) DownloadProxyEnabled() bool {
	return c.AgentDownloadProxy == nil || *c.AgentDownloadProxy
}

// Pool returns the named upstream pool, comma-joined.
func (c *InstallChannel) Pool(name string) string {
	return strings.Join(c.Servers[name], ",")
}
