package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nodescope/nodescope/pkg/inventory"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// Config holds SSH connection configuration. Credentials are carried
// inline because host identities store key material, not file paths.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod

	// Password for password-based authentication
	Password string

	// PrivateKey is the PEM-encoded private key material
	PrivateKey string

	// KnownHostsPath is the path to the known_hosts file
	// If empty, host key verification is disabled (not recommended for production)
	KnownHostsPath string

	// StrictHostKeyChecking enables strict host key verification
	// When true, unknown hosts will be rejected
	StrictHostKeyChecking bool

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration

	// CommandTimeout is the default timeout for command execution
	CommandTimeout time.Duration

	// KeepAliveInterval is the interval for sending keep-alive messages
	// Set to 0 to disable keep-alive
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries is the maximum number of keep-alive retries before giving up
	MaxKeepAliveRetries int

	// JumpHost is the hostname of a jump/relay host (optional)
	JumpHost string

	// JumpPort is the SSH port of the jump host
	JumpPort int

	// JumpUser is the username for the jump host
	JumpUser string

	// JumpAuthMethod is the authentication method for the jump host
	JumpAuthMethod AuthMethod

	// JumpPassword is the password for jump host authentication
	JumpPassword string

	// JumpPrivateKey is the PEM-encoded private key for the jump host
	JumpPrivateKey string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        5 * time.Minute,
		KeepAliveInterval:     0,
		MaxKeepAliveRetries:   3,
		JumpPort:              22,
	}
}

// NewConfigFromIdentity builds a connection config for a managed host
// from its inventory record and login identity.
func NewConfigFromIdentity(host *inventory.Host, identity *inventory.Identity) *Config {
	cfg := DefaultConfig(host.ConnectIP(), identity.Account)
	if identity.Port > 0 {
		cfg.Port = identity.Port
	}
	switch identity.AuthType {
	case inventory.AuthPassword:
		cfg.AuthMethod = AuthMethodPassword
		cfg.Password = identity.Password
	default:
		cfg.AuthMethod = AuthMethodKey
		cfg.PrivateKey = identity.Key
	}
	// Managed hosts are provisioned dynamically, so there is no
	// known_hosts entry to check against.
	cfg.StrictHostKeyChecking = false
	cfg.KnownHostsPath = ""
	return cfg
}

// WithJumpServer routes the connection through a relay host using the
// relay's own login identity.
func (c *Config) WithJumpServer(jump *inventory.Host, identity *inventory.Identity) *Config {
	c.JumpHost = jump.ConnectIP()
	c.JumpPort = 22
	if identity.Port > 0 {
		c.JumpPort = identity.Port
	}
	c.JumpUser = identity.Account
	switch identity.AuthType {
	case inventory.AuthPassword:
		c.JumpAuthMethod = AuthMethodPassword
		c.JumpPassword = identity.Password
	default:
		c.JumpAuthMethod = AuthMethodKey
		c.JumpPrivateKey = identity.Key
	}
	return c
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKey == "" {
			return fmt.Errorf("private key is required for key authentication")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}

	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	if c.JumpHost != "" {
		if c.JumpPort <= 0 || c.JumpPort > 65535 {
			return fmt.Errorf("invalid jump host port: %d", c.JumpPort)
		}
		if c.JumpUser == "" {
			return fmt.Errorf("jump host user is required when jump host is specified")
		}
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	authMethods, err := buildAuthMethods(c.AuthMethod, c.Password, c.PrivateKey)
	if err != nil {
		return nil, err
	}

	// Configure host key callback
	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		// Insecure: accept any host key
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	clientConfig := &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}

	return clientConfig, nil
}

// buildJumpClientConfig creates an ssh.ClientConfig for the jump host.
func (c *Config) buildJumpClientConfig() (*ssh.ClientConfig, error) {
	authMethods, err := buildAuthMethods(c.JumpAuthMethod, c.JumpPassword, c.JumpPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("jump host auth: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.JumpUser,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func buildAuthMethods(method AuthMethod, password string, privateKey string) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	switch method {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(password))

		// Keyboard-interactive is required by many SSH servers to
		// answer the "Password:" prompt.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		signer, err := ssh.ParsePrivateKey([]byte(privateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", method)
	}

	return authMethods, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JumpAddress returns the formatted jump host address (host:port).
func (c *Config) JumpAddress() string {
	if c.JumpHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.JumpHost, c.JumpPort)
}

// IsJumpEnabled returns true if a jump/relay host is configured.
func (c *Config) IsJumpEnabled() bool {
	return c.JumpHost != ""
}
