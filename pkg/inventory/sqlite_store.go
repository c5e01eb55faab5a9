package inventory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  SQLiteConfig
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const hostColumns = "id, cloud_id, inner_ip, login_ip, os_type, node_type, access_point_id, install_channel_id, is_manual, status, created_at, updated_at"

func scanHost(row interface{ Scan(...any) error }) (*Host, error) {
	host := &Host{}
	err := row.Scan(
		&host.ID,
		&host.CloudID,
		&host.InnerIP,
		&host.LoginIP,
		&host.OSType,
		&host.NodeType,
		&host.AccessPointID,
		&host.InstallChannelID,
		&host.IsManual,
		&host.Status,
		&host.CreatedAt,
		&host.UpdatedAt,
	)
	return host, err
}

// GetHost retrieves a host by ID.
func (s *SQLiteStore) GetHost(ctx context.Context, id int64) (*Host, error) {
	query := fmt.Sprintf("SELECT %s FROM hosts WHERE id = ?", hostColumns)

	host, err := scanHost(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("host %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	return host, nil
}

// ListHosts returns all hosts ordered by ID.
func (s *SQLiteStore) ListHosts(ctx context.Context) ([]*Host, error) {
	query := fmt.Sprintf("SELECT %s FROM hosts ORDER BY id", hostColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	hosts := []*Host{}
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hosts: %w", err)
	}

	return hosts, nil
}

// UpsertHost inserts or replaces a host record.
func (s *SQLiteStore) UpsertHost(ctx context.Context, host *Host) error {
	now := time.Now()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now
	if host.Status == "" {
		host.Status = StatusRunning
	}

	query := `
		INSERT INTO hosts (id, cloud_id, inner_ip, login_ip, os_type, node_type, access_point_id, install_channel_id, is_manual, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cloud_id = excluded.cloud_id,
			inner_ip = excluded.inner_ip,
			login_ip = excluded.login_ip,
			os_type = excluded.os_type,
			node_type = excluded.node_type,
			access_point_id = excluded.access_point_id,
			install_channel_id = excluded.install_channel_id,
			is_manual = excluded.is_manual,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		host.ID,
		host.CloudID,
		host.InnerIP,
		host.LoginIP,
		host.OSType,
		host.NodeType,
		host.AccessPointID,
		host.InstallChannelID,
		host.IsManual,
		host.Status,
		host.CreatedAt,
		host.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert host: %w", err)
	}

	return nil
}

const accessPointColumns = "id, name, agent_configs, port_config, package_inner_url, package_outer_url, outer_callback_url, btfileserver, dataserver, taskserver"

func scanAccessPoint(row interface{ Scan(...any) error }) (*AccessPoint, error) {
	ap := &AccessPoint{}
	var agentConfigs, portConfig, btFile, data, task string
	err := row.Scan(
		&ap.ID,
		&ap.Name,
		&agentConfigs,
		&portConfig,
		&ap.PackageInnerURL,
		&ap.PackageOuterURL,
		&ap.OuterCallbackURL,
		&btFile,
		&data,
		&task,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(agentConfigs), &ap.AgentConfigs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent configs: %w", err)
	}
	if err := json.Unmarshal([]byte(portConfig), &ap.PortConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal port config: %w", err)
	}
	if err := json.Unmarshal([]byte(btFile), &ap.BTFileServers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal btfileserver pool: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &ap.DataServers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataserver pool: %w", err)
	}
	if err := json.Unmarshal([]byte(task), &ap.TaskServers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal taskserver pool: %w", err)
	}

	return ap, nil
}

// GetAccessPoint retrieves an access point by ID.
func (s *SQLiteStore) GetAccessPoint(ctx context.Context, id int64) (*AccessPoint, error) {
	query := fmt.Sprintf("SELECT %s FROM access_points WHERE id = ?", accessPointColumns)

	ap, err := scanAccessPoint(s.db.QueryRowContext(ctx, query, id))
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("access point %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access point: %w", err)
	}

	return ap, nil
}

// AccessPointMap returns all access points keyed by ID.
func (s *SQLiteStore) AccessPointMap(ctx context.Context) (map[int64]*AccessPoint, error) {
	query := fmt.Sprintf("SELECT %s FROM access_points", accessPointColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list access points: %w", err)
	}
	defer rows.Close()

	aps := map[int64]*AccessPoint{}
	for rows.Next() {
		ap, err := scanAccessPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access point: %w", err)
		}
		aps[ap.ID] = ap
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access points: %w", err)
	}

	return aps, nil
}

// UpsertAccessPoint inserts or replaces an access point record.
func (s *SQLiteStore) UpsertAccessPoint(ctx context.Context, ap *AccessPoint) error {
	agentConfigs, err := json.Marshal(ap.AgentConfigs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent configs: %w", err)
	}
	portConfig, err := json.Marshal(ap.PortConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal port config: %w", err)
	}
	pools := make([][]byte, 3)
	for i, pool := range [][]ServerEndpoint{ap.BTFileServers, ap.DataServers, ap.TaskServers} {
		if pool == nil {
			pool = []ServerEndpoint{}
		}
		data, err := json.Marshal(pool)
		if err != nil {
			return fmt.Errorf("failed to marshal server pool: %w", err)
		}
		pools[i] = data
	}

	query := `
		INSERT INTO access_points (id, name, agent_configs, port_config, package_inner_url, package_outer_url, outer_callback_url, btfileserver, dataserver, taskserver)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			agent_configs = excluded.agent_configs,
			port_config = excluded.port_config,
			package_inner_url = excluded.package_inner_url,
			package_outer_url = excluded.package_outer_url,
			outer_callback_url = excluded.outer_callback_url,
			btfileserver = excluded.btfileserver,
			dataserver = excluded.dataserver,
			taskserver = excluded.taskserver
	`

	_, err = s.db.ExecContext(ctx, query,
		ap.ID,
		ap.Name,
		string(agentConfigs),
		string(portConfig),
		ap.PackageInnerURL,
		ap.PackageOuterURL,
		ap.OuterCallbackURL,
		string(pools[0]),
		string(pools[1]),
		string(pools[2]),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert access point: %w", err)
	}

	return nil
}

const identityColumns = "host_id, auth_type, account, port, secret_key, password"

func scanIdentity(row interface{ Scan(...any) error }) (*Identity, error) {
	identity := &Identity{}
	err := row.Scan(
		&identity.HostID,
		&identity.AuthType,
		&identity.Account,
		&identity.Port,
		&identity.Key,
		&identity.Password,
	)
	return identity, err
}

// GetIdentity retrieves the identity record for one host.
func (s *SQLiteStore) GetIdentity(ctx context.Context, hostID int64) (*Identity, error) {
	query := fmt.Sprintf("SELECT %s FROM identities WHERE host_id = ?", identityColumns)

	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, hostID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity for host %d: %w", hostID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	return identity, nil
}

// BulkIdentities retrieves identities for many hosts in one query.
func (s *SQLiteStore) BulkIdentities(ctx context.Context, hostIDs []int64) (map[int64]*Identity, error) {
	if len(hostIDs) == 0 {
		return map[int64]*Identity{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hostIDs)), ",")
	query := fmt.Sprintf("SELECT %s FROM identities WHERE host_id IN (%s)", identityColumns, placeholders)

	args := make([]any, len(hostIDs))
	for i, id := range hostIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	identities := map[int64]*Identity{}
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities[identity.HostID] = identity
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identities: %w", err)
	}

	return identities, nil
}

// UpsertIdentity inserts or replaces an identity record.
func (s *SQLiteStore) UpsertIdentity(ctx context.Context, identity *Identity) error {
	query := `
		INSERT INTO identities (host_id, auth_type, account, port, secret_key, password)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(host_id) DO UPDATE SET
			auth_type = excluded.auth_type,
			account = excluded.account,
			port = excluded.port,
			secret_key = excluded.secret_key,
			password = excluded.password
	`

	_, err := s.db.ExecContext(ctx, query,
		identity.HostID,
		identity.AuthType,
		identity.Account,
		identity.Port,
		identity.Key,
		identity.Password,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}

	return nil
}

// AliveProxies returns the RUNNING proxy hosts in a cloud region.
func (s *SQLiteStore) AliveProxies(ctx context.Context, cloudID int64) ([]*Host, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM hosts WHERE cloud_id = ? AND node_type = ? AND status = ? ORDER BY id",
		hostColumns,
	)

	rows, err := s.db.QueryContext(ctx, query, cloudID, NodeProxy, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}
	defer rows.Close()

	proxies := []*Host{}
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy: %w", err)
		}
		proxies = append(proxies, host)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proxies: %w", err)
	}

	return proxies, nil
}

// GetInstallChannel retrieves an install channel by ID.
func (s *SQLiteStore) GetInstallChannel(ctx context.Context, id int64) (*InstallChannel, error) {
	query := `
		SELECT id, name, jump_server_id, servers, agent_download_proxy, channel_proxy_address
		FROM install_channels
		WHERE id = ?
	`

	channel := &InstallChannel{}
	var servers string
	var downloadProxy sql.NullBool
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&channel.ID,
		&channel.Name,
		&channel.JumpServerID,
		&servers,
		&downloadProxy,
		&channel.ChannelProxyAddress,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("install channel %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get install channel: %w", err)
	}

	if err := json.Unmarshal([]byte(servers), &channel.Servers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel servers: %w", err)
	}
	if downloadProxy.Valid {
		channel.AgentDownloadProxy = &downloadProxy.Bool
	}

	return channel, nil
}

// ListInstallChannels returns all install channels ordered by ID.
func (s *SQLiteStore) ListInstallChannels(ctx context.Context) ([]*InstallChannel, error) {
	query := `
		SELECT id, name, jump_server_id, servers, agent_download_proxy, channel_proxy_address
		FROM install_channels
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list install channels: %w", err)
	}
	defer rows.Close()

	channels := []*InstallChannel{}
	for rows.Next() {
		channel := &InstallChannel{}
		var servers string
		var downloadProxy sql.NullBool
		err := rows.Scan(
			&channel.ID,
			&channel.Name,
			&channel.JumpServerID,
			&servers,
			&downloadProxy,
			&channel.ChannelProxyAddress,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install channel: %w", err)
		}
		if err := json.Unmarshal([]byte(servers), &channel.Servers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channel servers: %w", err)
		}
		if downloadProxy.Valid {
			channel.AgentDownloadProxy = &downloadProxy.Bool
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating install channels: %w", err)
	}

	return channels, nil
}

// UpsertInstallChannel inserts or replaces an install channel record.
func (s *SQLiteStore) UpsertInstallChannel(ctx context.Context, channel *InstallChannel) error {
	servers, err := json.Marshal(channel.Servers)
	if err != nil {
		return fmt.Errorf("failed to marshal channel servers: %w", err)
	}

	var downloadProxy any
	if channel.AgentDownloadProxy != nil {
		downloadProxy = *channel.AgentDownloadProxy
	}

	query := `
		INSERT INTO install_channels (id, name, jump_server_id, servers, agent_download_proxy, channel_proxy_address)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			jump_server_id = excluded.jump_server_id,
			servers = excluded.servers,
			agent_download_proxy = excluded.agent_download_proxy,
			channel_proxy_address = excluded.channel_proxy_address
	`

	_, err = s.db.ExecContext(ctx, query,
		channel.ID,
		channel.Name,
		channel.JumpServerID,
		string(servers),
		downloadProxy,
		channel.ChannelProxyAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert install channel: %w", err)
	}

	return nil
}
