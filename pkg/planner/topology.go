package planner

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/nodescope/nodescope/pkg/config"
	"github.com/nodescope/nodescope/pkg/inventory"
)

// Resolver determines the upstream server layout and relay path for a host.
type Resolver struct {
	settings *config.Settings

	// pick selects an index in [0, n) when choosing among alive proxies.
	// Injectable so tests are deterministic.
	pick func(n int) int
}

// NewResolver creates a topology resolver with random proxy selection.
func NewResolver(settings *config.Settings) *Resolver {
	return &Resolver{
		settings: settings,
		pick:     rand.Intn,
	}
}

// WithProxyPicker overrides the alive-proxy selection function.
func (r *Resolver) WithProxyPicker(pick func(n int) int) *Resolver {
	r.pick = pick
	return r
}

// outerCallbackURL returns the access point's outer override when set,
// otherwise the configured default for non-agent installs.
func (r *Resolver) outerCallbackURL(ap *inventory.AccessPoint) string {
	if ap.OuterCallbackURL != "" {
		return ap.OuterCallbackURL
	}
	return r.settings.OuterCallbackURL
}

// Resolve determines the jump host, upstream server pools, package URL and
// callback URL for one host.
//
// Decision order: an install channel overrides everything; otherwise the
// host's role decides whether the access point's inner or outer addresses
// apply, and relayed agents synthesize their pools from the candidate
// proxies of their cloud region.
func (r *Resolver) Resolve(
	host *inventory.Host,
	ap *inventory.AccessPoint,
	proxies []*inventory.Host,
	channel *InstallChannel,
) (*Topology, error) {
	if host.HasInstallChannel() {
		if channel == nil || channel.JumpServer == nil || channel.Channel == nil {
			return nil, NewMissingRecordError(
				fmt.Sprintf("install channel %d is not resolved", host.InstallChannelID), nil,
			).WithHost(host.ID)
		}

		defaultCallback := r.settings.OuterCallbackURL
		if host.NodeType == inventory.NodeAgent {
			defaultCallback = r.settings.AgentCallbackURL
		}
		callback := ap.OuterCallbackURL
		if callback == "" {
			callback = defaultCallback
		}

		return &Topology{
			JumpServer:    channel.JumpServer,
			BTFileServers: channel.Channel.Pool(inventory.PoolBTFileServer),
			DataServers:   channel.Channel.Pool(inventory.PoolDataServer),
			TaskServers:   channel.Channel.Pool(inventory.PoolTaskServer),
			PackageURL:    packageDownloadURL(r.settings, channel.JumpServer.InnerIP),
			CallbackURL:   callback,
		}, nil
	}

	switch host.NodeType {
	case inventory.NodeAgent:
		return &Topology{
			BTFileServers: joinInner(ap.BTFileServers),
			DataServers:   joinInner(ap.DataServers),
			TaskServers:   joinInner(ap.TaskServers),
			PackageURL:    ap.PackageInnerURL,
			CallbackURL:   r.settings.AgentCallbackURL,
		}, nil

	case inventory.NodeProxy:
		return &Topology{
			BTFileServers: joinOuter(ap.BTFileServers),
			DataServers:   joinOuter(ap.DataServers),
			TaskServers:   joinOuter(ap.TaskServers),
			PackageURL:    ap.PackageOuterURL,
			CallbackURL:   r.outerCallbackURL(ap),
		}, nil

	default:
		// Relayed agent: all three pools are the deduplicated inner
		// addresses of the cloud's proxies, and one alive proxy relays.
		jump, err := r.pickAliveProxy(host, proxies)
		if err != nil {
			return nil, err
		}

		proxyIPs := make([]string, 0, len(proxies))
		for _, proxy := range proxies {
			proxyIPs = append(proxyIPs, proxy.InnerIP)
		}
		pool := strings.Join(dedupe(proxyIPs), ",")

		return &Topology{
			JumpServer:    jump,
			BTFileServers: pool,
			DataServers:   pool,
			TaskServers:   pool,
			PackageURL:    ap.PackageOuterURL,
			CallbackURL:   r.outerCallbackURL(ap),
		}, nil
	}
}

// pickAliveProxy selects one RUNNING proxy at random from the candidates.
func (r *Resolver) pickAliveProxy(host *inventory.Host, proxies []*inventory.Host) (*inventory.Host, error) {
	alive := make([]*inventory.Host, 0, len(proxies))
	for _, proxy := range proxies {
		if proxy.Status == inventory.StatusRunning {
			alive = append(alive, proxy)
		}
	}
	if len(alive) == 0 {
		return nil, NewTopologyError(
			fmt.Sprintf("no alive proxy in cloud %d to relay through", host.CloudID), nil,
		).WithHost(host.ID)
	}
	return alive[r.pick(len(alive))], nil
}
