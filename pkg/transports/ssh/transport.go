// Package ssh provides the SSH transport used to push installer scripts
// and run installation commands on managed hosts.
package ssh

import (
	"context"
	"time"
)

// Transport defines the operations the install executor needs from a
// remote connection: command execution, file push, and lifecycle.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// Returns an error if connection fails or authentication is rejected.
	Connect(ctx context.Context) error

	// Disconnect closes the SSH connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// ExecuteCommand runs a command on the remote host.
	// Returns stdout, stderr, and any error that occurred.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// ExecuteCommandWithSudo runs a command with sudo privileges.
	// The sudoPassword parameter can be empty if NOPASSWD is configured.
	ExecuteCommandWithSudo(ctx context.Context, cmd string, sudoPassword string) (stdout string, stderr string, err error)

	// UploadFile uploads a single file to the remote host via SFTP.
	// The mode parameter sets file permissions (e.g., 0755).
	UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error

	// DownloadFile downloads a single file from the remote host via SFTP.
	DownloadFile(ctx context.Context, remotePath string, localPath string) error

	// ComputeChecksum calculates the SHA256 checksum of a remote file.
	ComputeChecksum(ctx context.Context, remotePath string) (string, error)

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ViaJumpServer indicates the connection is relayed through a jump host
	ViaJumpServer bool

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// ExecResult represents the result of a single command execution.
type ExecResult struct {
	// Command is the command that was executed
	Command string

	// Stdout is the standard output from the command
	Stdout string

	// Stderr is the standard error output from the command
	Stderr string

	// ExitCode is the command's exit code
	ExitCode int

	// StartedAt is when the command started executing
	StartedAt time.Time

	// FinishedAt is when the command finished
	FinishedAt time.Time

	// Duration is the total execution time
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
