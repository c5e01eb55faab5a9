package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		proxyKeyAuthPolicy(),
		loginAccountPolicy(),
		uninstallRestrictionsPolicy(),
		planShapePolicy(),
	}
}

// proxyKeyAuthPolicy requires key-based authentication for proxy hosts.
func proxyKeyAuthPolicy() Policy {
	return Policy{
		Name:        "proxy-key-auth",
		Description: "Requires key-based authentication for PROXY hosts",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"auth", "proxy"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodescope.policies.auth

import rego.v1

deny contains violation if {
	input.host
	input.auth
	host := input.host

	host.node_type == "PROXY"
	input.auth.type != "KEY"

	violation := {
		"message": sprintf("Proxy host %s must use key-based authentication", [host.inner_ip]),
		"severity": "error",
		"remediation": "Register an SSH key identity for this proxy",
	}
}`,
	}
}

// loginAccountPolicy discourages root logins for manual installations.
func loginAccountPolicy() Policy {
	return Policy{
		Name:        "login-account",
		Description: "Discourages root logins for manually installed hosts",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"auth", "accounts"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodescope.policies.accounts

import rego.v1

deny contains violation if {
	input.host
	input.auth
	host := input.host

	host.is_manual
	input.auth.account == "root"

	violation := {
		"message": sprintf("Manual install on host %s logs in as root", [host.inner_ip]),
		"severity": "warning",
		"remediation": "Use a dedicated service account with sudo rules",
	}
}

deny contains violation if {
	input.auth

	# Empty accounts cannot open a session
	input.auth.account == ""

	violation := {
		"message": "Login account is empty",
		"severity": "error",
	}
}`,
	}
}

// uninstallRestrictionsPolicy prevents uninstalling proxies in production.
func uninstallRestrictionsPolicy() Policy {
	return Policy{
		Name:        "uninstall-restrictions",
		Description: "Blocks proxy uninstalls in production unless this is a dry run",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"operations", "safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodescope.policies.operations

import rego.v1

deny contains violation if {
	input.host
	input.context
	host := input.host
	context := input.context

	context.operation == "uninstall"
	host.node_type == "PROXY"
	context.environment == "production"
	not context.dry_run

	violation := {
		"message": sprintf("Uninstalling proxy %s would strand its managed hosts", [host.inner_ip]),
		"severity": "critical",
		"remediation": "Migrate dependent hosts to another proxy first",
	}
}`,
	}
}

// planShapePolicy validates the structure of generated plans.
func planShapePolicy() Policy {
	return Policy{
		Name:        "plan-shape",
		Description: "Validates that generated plans carry the commands needed to execute",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"plans"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodescope.policies.plans

import rego.v1

deny contains violation if {
	input.plan
	input.host
	plan := input.plan

	input.host.os_type != "WINDOWS"
	plan.run_cmd == ""

	violation := {
		"message": "Plan has no run command",
		"severity": "error",
	}
}

deny contains violation if {
	input.plan
	input.host
	plan := input.plan

	input.host.os_type == "WINDOWS"
	not plan.jump_server
	count(plan.win_commands) == 0

	violation := {
		"message": "Windows plan has no command list",
		"severity": "error",
	}
}

deny contains violation if {
	input.plan
	plan := input.plan

	plan.dest_dir == ""

	violation := {
		"message": "Plan has no destination directory",
		"severity": "error",
	}
}`,
	}
}
