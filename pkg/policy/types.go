package policy

import (
	"time"

	"github.com/nodescope/nodescope/pkg/inventory"
	"github.com/nodescope/nodescope/pkg/planner"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// HostID is the host that violated the policy.
	HostID int64 `json:"host_id,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides suggested fixes.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the installation may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block the operation.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input represents the input data for policy evaluation.
type Input struct {
	// Host is the host being installed.
	Host *inventory.Host `json:"host,omitempty"`

	// Plan is the installation plan being evaluated.
	Plan *planner.InstallationPlan `json:"plan,omitempty"`

	// Auth describes how the host will be accessed. Secrets are never included.
	Auth *AuthInfo `json:"auth,omitempty"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// AuthInfo carries non-secret authentication attributes for evaluation.
type AuthInfo struct {
	// Type is the authentication type (KEY or PASSWORD).
	Type string `json:"type"`

	// Account is the login account.
	Account string `json:"account"`

	// Port is the login port.
	Port int `json:"port"`
}

// NewAuthInfo extracts the evaluation-safe attributes from an identity.
func NewAuthInfo(identity *inventory.Identity) *AuthInfo {
	if identity == nil {
		return nil
	}
	return &AuthInfo{
		Type:    string(identity.AuthType),
		Account: identity.Account,
		Port:    identity.Port,
	}
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is the environment (e.g., "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed (install or uninstall).
	Operation string `json:"operation,omitempty"`

	// PipelineID is the batch the evaluation belongs to.
	PipelineID string `json:"pipeline_id,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Bundle represents a collection of related policies.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
