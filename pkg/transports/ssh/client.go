package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements the Transport interface over a single SSH
// connection, optionally relayed through a jump host.
type Client struct {
	config *Config

	// Connection management
	client      *ssh.Client
	connMu      sync.RWMutex
	isConnected bool
	connectedAt time.Time
	lastUsedAt  time.Time

	// Executor for command execution
	executor *executor

	// File transfer handler
	fileTransfer *fileTransfer
}

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config: config,
	}, nil
}

// Connect establishes an SSH connection to the remote host.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		// Already connected, verify connection is still alive
		if err := c.healthCheckInternal(); err == nil {
			return nil
		}
		// Connection is dead, close it and reconnect
		log.Warn().Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
	}

	// Build SSH client config
	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	// Relay through the jump host if one is configured
	if c.config.IsJumpEnabled() {
		return c.connectViaJump(ctx, clientConfig)
	}

	return c.connectDirect(ctx, clientConfig)
}

// connectDirect establishes a direct SSH connection.
func (c *Client) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	// Create a channel to handle connection with timeout
	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
			IsAuthError: false,
		}
	case err := <-errChan:
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	case client := <-connChan:
		c.attach(client)
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// connectViaJump establishes an SSH connection through a jump/relay host.
func (c *Client) connectViaJump(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	jumpClientConfig, err := c.config.buildJumpClientConfig()
	if err != nil {
		return &TransportError{
			Op:          "connect-jump",
			Err:         err,
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	jumpAddress := c.config.JumpAddress()
	log.Debug().Str("jump", jumpAddress).Msg("connecting to jump host")

	jumpClient, err := ssh.Dial("tcp", jumpAddress, jumpClientConfig)
	if err != nil {
		return &TransportError{
			Op:          "connect-jump",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	// Now connect to the target through the jump host
	targetAddress := c.config.Address()
	log.Debug().Str("target", targetAddress).Msg("connecting to target through jump host")

	relayConn, err := jumpClient.Dial("tcp", targetAddress)
	if err != nil {
		_ = jumpClient.Close()
		return &TransportError{
			Op:          "connect-via-jump",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(relayConn, targetAddress, targetConfig)
	if err != nil {
		_ = relayConn.Close()
		_ = jumpClient.Close()
		return &TransportError{
			Op:          "connect-via-jump",
			Err:         err,
			IsTemporary: true,
			IsAuthError: true,
		}
	}

	c.attach(ssh.NewClient(ncc, chans, reqs))
	log.Info().Str("target", targetAddress).Str("jump", jumpAddress).Msg("SSH connection established via jump host")
	return nil
}

// attach wires up an established connection (must be called with lock held).
func (c *Client) attach(client *ssh.Client) {
	c.client = client
	c.isConnected = true
	c.connectedAt = time.Now()
	c.lastUsedAt = time.Now()

	c.executor = &executor{
		client: c,
		config: c.config,
	}
	c.fileTransfer = &fileTransfer{
		client: c,
		config: c.config,
	}

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive()
	}
}

// Disconnect closes the SSH connection and releases all resources.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	err := c.client.Close()
	c.client = nil
	c.isConnected = false

	if err != nil {
		return &TransportError{
			Op:          "disconnect",
			Err:         err,
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         fmt.Errorf("not connected"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	return c.healthCheckInternal()
}

// healthCheckInternal performs the actual health check (must be called with lock held).
func (c *Client) healthCheckInternal() error {
	// Create a new session to test the connection
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return nil
}

// keepAlive sends periodic keep-alive messages to keep the connection alive.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	maxRetries := c.config.MaxKeepAliveRetries

	for range ticker.C {
		c.connMu.RLock()
		if !c.isConnected || c.client == nil {
			c.connMu.RUnlock()
			return
		}
		c.connMu.RUnlock()

		_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= maxRetries {
				log.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
		} else {
			retries = 0
			c.lastUsedAt = time.Now()
		}
	}
}

// GetConnectionInfo returns information about the current connection.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:          c.config.Host,
		Port:          c.config.Port,
		User:          c.config.User,
		ViaJumpServer: c.config.IsJumpEnabled(),
		ConnectedAt:   c.connectedAt,
		LastActivity:  c.lastUsedAt,
	}
}

// getClient returns the underlying SSH client (used internally by executor and file transfer).
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{
			Op:          "get-client",
			Err:         fmt.Errorf("not connected"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	c.lastUsedAt = time.Now()
	return c.client, nil
}
