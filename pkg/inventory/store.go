package inventory

import (
	"context"
)

// Store is the persistence interface for inventory records.
// All reads return snapshots; mutating a returned struct has no effect on
// stored state until it is written back through an Upsert method.
type Store interface {
	// Init opens the underlying database connection.
	Init(ctx context.Context) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// Close releases the database connection.
	Close() error

	// GetHost retrieves a host by ID.
	GetHost(ctx context.Context, id int64) (*Host, error)

	// ListHosts returns all hosts, ordered by ID.
	ListHosts(ctx context.Context) ([]*Host, error)

	// UpsertHost inserts or replaces a host record.
	UpsertHost(ctx context.Context, host *Host) error

	// GetAccessPoint retrieves an access point by ID.
	GetAccessPoint(ctx context.Context, id int64) (*AccessPoint, error)

	// AccessPointMap returns all access points keyed by ID. Batch planning
	// fetches the whole table once instead of per-host lookups.
	AccessPointMap(ctx context.Context) (map[int64]*AccessPoint, error)

	// UpsertAccessPoint inserts or replaces an access point record.
	UpsertAccessPoint(ctx context.Context, ap *AccessPoint) error

	// GetIdentity retrieves the identity record for one host.
	GetIdentity(ctx context.Context, hostID int64) (*Identity, error)

	// BulkIdentities retrieves identities for many hosts in one query.
	// Hosts without an identity record are simply absent from the result.
	BulkIdentities(ctx context.Context, hostIDs []int64) (map[int64]*Identity, error)

	// UpsertIdentity inserts or replaces an identity record.
	UpsertIdentity(ctx context.Context, identity *Identity) error

	// AliveProxies returns the RUNNING proxy hosts in a cloud region.
	AliveProxies(ctx context.Context, cloudID int64) ([]*Host, error)

	// GetInstallChannel retrieves an install channel by ID.
	GetInstallChannel(ctx context.Context, id int64) (*InstallChannel, error)

	// ListInstallChannels returns all install channels, ordered by ID.
	ListInstallChannels(ctx context.Context) ([]*InstallChannel, error)

	// UpsertInstallChannel inserts or replaces an install channel record.
	UpsertInstallChannel(ctx context.Context, channel *InstallChannel) error
}
