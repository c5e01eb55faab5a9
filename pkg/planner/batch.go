package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodescope/nodescope/pkg/inventory"
	"github.com/nodescope/nodescope/pkg/telemetry"
)

// RecordSource supplies the inventory lookups batch planning needs. The
// SQLite store satisfies it; tests substitute in-memory fakes.
type RecordSource interface {
	AccessPointMap(ctx context.Context) (map[int64]*inventory.AccessPoint, error)
	BulkIdentities(ctx context.Context, hostIDs []int64) (map[int64]*inventory.Identity, error)
	GetIdentity(ctx context.Context, hostID int64) (*inventory.Identity, error)
	AliveProxies(ctx context.Context, cloudID int64) ([]*inventory.Host, error)
	GetInstallChannel(ctx context.Context, id int64) (*inventory.InstallChannel, error)
	GetHost(ctx context.Context, id int64) (*inventory.Host, error)
}

// Coordinator drives plan generation for many hosts at once, sharing
// read-only lookup results across the batch. Hosts never affect each
// other's outcome.
type Coordinator struct {
	records     RecordSource
	builder     *Builder
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	maxParallel int
}

// NewCoordinator creates a batch coordinator.
func NewCoordinator(records RecordSource, builder *Builder, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		records:     records,
		builder:     builder,
		logger:      logger.With().Str("component", "plan-coordinator").Logger(),
		maxParallel: 10,
	}
}

// WithMetrics attaches a metrics collector.
func (c *Coordinator) WithMetrics(metrics *telemetry.Metrics) *Coordinator {
	c.metrics = metrics
	return c
}

// WithMaxParallel bounds concurrent plan generation within a batch.
func (c *Coordinator) WithMaxParallel(n int) *Coordinator {
	if n > 0 {
		c.maxParallel = n
	}
	return c
}

// proxiesEntry caches one cloud region's proxy lookup, error included, so a
// failed lookup is not retried per host within the batch.
type proxiesEntry struct {
	proxies []*inventory.Host
	err     error
}

// channelEntry caches one resolved install channel.
type channelEntry struct {
	channel *InstallChannel
	err     error
}

// BuildMany generates installation plans for a batch of hosts. Per-host
// failures land in the error map; the returned error is reserved for
// batch-level lookup failures that prevent planning anything at all.
func (c *Coordinator) BuildMany(
	ctx context.Context,
	hosts []*inventory.Host,
	pipelineID string,
	isUninstall bool,
) (map[int64]*InstallationPlan, map[int64]error, error) {
	start := time.Now()

	apMap, err := c.records.AccessPointMap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load access points: %w", err)
	}

	hostIDs := make([]int64, 0, len(hosts))
	for _, host := range hosts {
		hostIDs = append(hostIDs, host.ID)
	}

	// One bulk query for identities; hosts missing from the result fall
	// back to a single lookup during the build phase.
	identities, err := c.records.BulkIdentities(ctx, hostIDs)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bulk identity fetch failed, falling back to single lookups")
		identities = map[int64]*inventory.Identity{}
	}

	proxiesByCloud := map[int64]*proxiesEntry{}
	channelByID := map[int64]*channelEntry{}

	// Populate the lazy caches serially so the parallel build phase only
	// reads them.
	for _, host := range hosts {
		if _, ok := proxiesByCloud[host.CloudID]; !ok {
			proxies, err := c.records.AliveProxies(ctx, host.CloudID)
			proxiesByCloud[host.CloudID] = &proxiesEntry{proxies: proxies, err: err}
			c.countCache("proxies", "miss")
		} else {
			c.countCache("proxies", "hit")
		}

		if _, ok := channelByID[host.InstallChannelID]; !ok {
			channelByID[host.InstallChannelID] = c.resolveChannel(ctx, host.InstallChannelID)
			c.countCache("channels", "miss")
		} else {
			c.countCache("channels", "hit")
		}
	}

	plans := make(map[int64]*InstallationPlan, len(hosts))
	failures := make(map[int64]error)
	var mu sync.Mutex

	sem := make(chan struct{}, c.maxParallel)
	var wg sync.WaitGroup

	for _, host := range hosts {
		wg.Add(1)
		sem <- struct{}{}
		go func(host *inventory.Host) {
			defer wg.Done()
			defer func() { <-sem }()

			plan, err := c.buildOne(ctx, host, pipelineID, isUninstall, apMap, identities, proxiesByCloud, channelByID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[host.ID] = err
				c.countFailure(err)
				c.logger.Error().Err(err).
					Int64("host_id", host.ID).
					Str("pipeline_id", pipelineID).
					Msg("plan generation failed")
				return
			}
			plans[host.ID] = plan
		}(host)
	}
	wg.Wait()

	c.logger.Info().
		Str("pipeline_id", pipelineID).
		Bool("uninstall", isUninstall).
		Int("hosts", len(hosts)).
		Int("planned", len(plans)).
		Int("failed", len(failures)).
		Dur("elapsed", time.Since(start)).
		Msg("batch plan generation finished")
	if c.metrics != nil {
		c.metrics.ObserveBatch(len(hosts), time.Since(start))
	}

	return plans, failures, nil
}

// buildOne assembles the inputs for a single host from the batch caches and
// runs it through the builder.
func (c *Coordinator) buildOne(
	ctx context.Context,
	host *inventory.Host,
	pipelineID string,
	isUninstall bool,
	apMap map[int64]*inventory.AccessPoint,
	identities map[int64]*inventory.Identity,
	proxiesByCloud map[int64]*proxiesEntry,
	channelByID map[int64]*channelEntry,
) (*InstallationPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ap, ok := apMap[host.AccessPointID]
	if !ok {
		return nil, NewMissingRecordError(
			fmt.Sprintf("access point %d not found", host.AccessPointID), nil,
		).WithHost(host.ID)
	}

	identity := identities[host.ID]
	if identity == nil {
		var err error
		identity, err = c.records.GetIdentity(ctx, host.ID)
		if err != nil {
			return nil, NewMissingRecordError("identity lookup failed", err).WithHost(host.ID)
		}
	}

	entry := proxiesByCloud[host.CloudID]
	if entry.err != nil {
		return nil, NewMissingRecordError(
			fmt.Sprintf("proxy lookup failed for cloud %d", host.CloudID), entry.err,
		).WithHost(host.ID)
	}

	chEntry := channelByID[host.InstallChannelID]
	if chEntry.err != nil {
		return nil, NewMissingRecordError(
			fmt.Sprintf("install channel %d lookup failed", host.InstallChannelID), chEntry.err,
		).WithHost(host.ID)
	}

	start := time.Now()
	plan, err := c.builder.Build(BuildInput{
		Host:        host,
		AccessPoint: ap,
		Identity:    identity,
		Proxies:     entry.proxies,
		Channel:     chEntry.channel,
		PipelineID:  pipelineID,
		IsUninstall: isUninstall,
	})
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.ObservePlanBuild(plan.ScriptFileName, time.Since(start))
	}

	return plan, nil
}

// resolveChannel loads an install channel and its jump host. Channel ID
// zero is the "no channel" case and caches a nil entry.
func (c *Coordinator) resolveChannel(ctx context.Context, channelID int64) *channelEntry {
	if channelID == 0 {
		return &channelEntry{}
	}

	channel, err := c.records.GetInstallChannel(ctx, channelID)
	if err != nil {
		return &channelEntry{err: err}
	}

	jump, err := c.records.GetHost(ctx, channel.JumpServerID)
	if err != nil {
		return &channelEntry{err: fmt.Errorf("jump server %d: %w", channel.JumpServerID, err)}
	}

	return &channelEntry{channel: &InstallChannel{JumpServer: jump, Channel: channel}}
}

func (c *Coordinator) countCache(cache, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(cache, result)
	}
}

func (c *Coordinator) countFailure(err error) {
	if c.metrics != nil {
		kind := KindOf(err)
		if kind == "" {
			kind = "internal"
		}
		c.metrics.RecordPlanFailure(string(kind))
	}
}
