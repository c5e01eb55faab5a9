package planner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nodescope/nodescope/pkg/inventory"
)

// fakeRecords is an in-memory RecordSource. Lookup counters are guarded
// because plan generation runs in parallel.
type fakeRecords struct {
	mu sync.Mutex

	aps        map[int64]*inventory.AccessPoint
	identities map[int64]*inventory.Identity
	proxies    map[int64][]*inventory.Host
	channels   map[int64]*inventory.InstallChannel
	hosts      map[int64]*inventory.Host

	apErr    error
	bulkErr  error
	proxyErr map[int64]error

	proxyCalls    int
	identityCalls int
}

func (f *fakeRecords) AccessPointMap(ctx context.Context) (map[int64]*inventory.AccessPoint, error) {
	if f.apErr != nil {
		return nil, f.apErr
	}
	return f.aps, nil
}

func (f *fakeRecords) BulkIdentities(ctx context.Context, hostIDs []int64) (map[int64]*inventory.Identity, error) {
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	out := make(map[int64]*inventory.Identity, len(hostIDs))
	for _, id := range hostIDs {
		if identity, ok := f.identities[id]; ok {
			out[id] = identity
		}
	}
	return out, nil
}

func (f *fakeRecords) GetIdentity(ctx context.Context, hostID int64) (*inventory.Identity, error) {
	f.mu.Lock()
	f.identityCalls++
	f.mu.Unlock()

	identity, ok := f.identities[hostID]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return identity, nil
}

func (f *fakeRecords) AliveProxies(ctx context.Context, cloudID int64) ([]*inventory.Host, error) {
	f.mu.Lock()
	f.proxyCalls++
	f.mu.Unlock()

	if err := f.proxyErr[cloudID]; err != nil {
		return nil, err
	}
	return f.proxies[cloudID], nil
}

func (f *fakeRecords) GetInstallChannel(ctx context.Context, id int64) (*inventory.InstallChannel, error) {
	channel, ok := f.channels[id]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return channel, nil
}

func (f *fakeRecords) GetHost(ctx context.Context, id int64) (*inventory.Host, error) {
	host, ok := f.hosts[id]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return host, nil
}

func agentHost(id int64) *inventory.Host {
	return &inventory.Host{
		ID:            id,
		InnerIP:       "10.1.0.1",
		OSType:        inventory.OSLinux,
		NodeType:      inventory.NodeAgent,
		AccessPointID: 1,
		Status:        inventory.StatusRunning,
	}
}

func newTestCoordinator(records RecordSource) *Coordinator {
	builder := newTestBuilder(testSettings(), &staticIssuer{})
	return NewCoordinator(records, builder, zerolog.Nop())
}

func TestBuildMany(t *testing.T) {
	records := &fakeRecords{
		aps: map[int64]*inventory.AccessPoint{1: testAccessPoint()},
		identities: map[int64]*inventory.Identity{
			1: testIdentity(1),
			2: testIdentity(2),
			3: testIdentity(3),
		},
	}

	orphan := agentHost(3)
	orphan.AccessPointID = 99

	plans, failures, err := newTestCoordinator(records).BuildMany(
		context.Background(),
		[]*inventory.Host{agentHost(1), agentHost(2), orphan},
		"PIPE-1", false,
	)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if len(plans) != 2 {
		t.Errorf("expected 2 plans, got %d", len(plans))
	}
	if plans[1] == nil || plans[1].RunCmd == "" {
		t.Error("expected a complete plan for host 1")
	}
	if len(failures) != 1 || !IsMissingRecord(failures[3]) {
		t.Errorf("expected a missing-record failure for host 3, got %v", failures)
	}
}

func TestBuildManyAccessPointError(t *testing.T) {
	records := &fakeRecords{apErr: errors.New("store down")}

	_, _, err := newTestCoordinator(records).BuildMany(
		context.Background(), []*inventory.Host{agentHost(1)}, "PIPE-1", false,
	)
	if err == nil {
		t.Fatal("expected a batch-level error")
	}
}

func TestBuildManyIdentityFallback(t *testing.T) {
	records := &fakeRecords{
		aps:        map[int64]*inventory.AccessPoint{1: testAccessPoint()},
		identities: map[int64]*inventory.Identity{1: testIdentity(1)},
		bulkErr:    errors.New("bulk query failed"),
	}

	plans, failures, err := newTestCoordinator(records).BuildMany(
		context.Background(), []*inventory.Host{agentHost(1)}, "PIPE-1", false,
	)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures %v", failures)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	if records.identityCalls != 1 {
		t.Errorf("expected 1 single identity lookup, got %d", records.identityCalls)
	}
}

func TestBuildManyMissingIdentity(t *testing.T) {
	records := &fakeRecords{
		aps: map[int64]*inventory.AccessPoint{1: testAccessPoint()},
	}

	_, failures, err := newTestCoordinator(records).BuildMany(
		context.Background(), []*inventory.Host{agentHost(1)}, "PIPE-1", false,
	)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if !IsMissingRecord(failures[1]) {
		t.Errorf("expected a missing-record failure, got %v", failures[1])
	}
}

func TestBuildManyProxyLookupError(t *testing.T) {
	records := &fakeRecords{
		aps:        map[int64]*inventory.AccessPoint{1: testAccessPoint()},
		identities: map[int64]*inventory.Identity{1: testIdentity(1)},
		proxyErr:   map[int64]error{5: errors.New("store down")},
	}

	host := agentHost(1)
	host.CloudID = 5
	host.NodeType = inventory.NodePAgent

	_, failures, err := newTestCoordinator(records).BuildMany(
		context.Background(), []*inventory.Host{host}, "PIPE-1", false,
	)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if !IsMissingRecord(failures[1]) {
		t.Errorf("expected a missing-record failure, got %v", failures[1])
	}
}

func TestBuildManyProxyLookupCached(t *testing.T) {
	proxy := &inventory.Host{
		ID: 10, CloudID: 5, InnerIP: "10.5.0.2",
		NodeType: inventory.NodeProxy, Status: inventory.StatusRunning,
	}
	records := &fakeRecords{
		aps: map[int64]*inventory.AccessPoint{1: testAccessPoint()},
		identities: map[int64]*inventory.Identity{
			1: testIdentity(1), 2: testIdentity(2), 3: testIdentity(3),
		},
		proxies: map[int64][]*inventory.Host{5: {proxy}},
	}

	hosts := make([]*inventory.Host, 0, 3)
	for id := int64(1); id <= 3; id++ {
		host := agentHost(id)
		host.CloudID = 5
		host.NodeType = inventory.NodePAgent
		hosts = append(hosts, host)
	}

	plans, failures, err := newTestCoordinator(records).BuildMany(
		context.Background(), hosts, "PIPE-1", false,
	)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures %v", failures)
	}
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}

	// One lookup per cloud region, regardless of host count.
	if records.proxyCalls != 1 {
		t.Errorf("expected 1 proxy lookup, got %d", records.proxyCalls)
	}

	for id, plan := range plans {
		if plan.JumpServer == nil || plan.JumpServer.ID != 10 {
			t.Errorf("host %d: expected the cloud proxy as jump server, got %+v", id, plan.JumpServer)
		}
	}
}

func TestBuildManyInstallChannel(t *testing.T) {
	jump := &inventory.Host{
		ID: 20, InnerIP: "172.16.0.9",
		OSType: inventory.OSLinux, NodeType: inventory.NodeProxy,
		Status: inventory.StatusRunning,
	}
	records := &fakeRecords{
		aps:        map[int64]*inventory.AccessPoint{1: testAccessPoint()},
		identities: map[int64]*inventory.Identity{1: testIdentity(1)},
		channels: map[int64]*inventory.InstallChannel{
			7: {
				ID: 7, JumpServerID: 20,
				Servers: map[string][]string{
					inventory.PoolBTFileServer: {"172.16.0.10"},
					inventory.PoolDataServer:   {"172.16.0.11"},
					inventory.PoolTaskServer:   {"172.16.0.12"},
				},
			},
		},
		hosts: map[int64]*inventory.Host{20: jump},
	}

	host := agentHost(1)
	host.InstallChannelID = 7

	plans, failures, err := newTestCoordinator(records).BuildMany(
		context.Background(), []*inventory.Host{host}, "PIPE-1", false,
	)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures %v", failures)
	}

	plan := plans[1]
	if plan == nil {
		t.Fatal("expected a plan for host 1")
	}
	if plan.ScriptFileName != ScriptPAgent {
		t.Errorf("channel-pinned host should use the relay script, got %s", plan.ScriptFileName)
	}
	if plan.JumpServer == nil || plan.JumpServer.ID != 20 {
		t.Errorf("expected the channel jump server, got %+v", plan.JumpServer)
	}
}

func TestBuildManyUnknownChannel(t *testing.T) {
	records := &fakeRecords{
		aps:        map[int64]*inventory.AccessPoint{1: testAccessPoint()},
		identities: map[int64]*inventory.Identity{1: testIdentity(1)},
	}

	host := agentHost(1)
	host.InstallChannelID = 999

	_, failures, err := newTestCoordinator(records).BuildMany(
		context.Background(), []*inventory.Host{host}, "PIPE-1", false,
	)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if !IsMissingRecord(failures[1]) {
		t.Errorf("expected a missing-record failure, got %v", failures[1])
	}
}
