package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nodescope/nodescope/pkg/inventory"
	"github.com/nodescope/nodescope/pkg/planner"
)

func testPlan(host *inventory.Host, identity *inventory.Identity) *planner.InstallationPlan {
	return &planner.InstallationPlan{
		ScriptFileName: "setup_agent.sh",
		DestDir:        "/tmp/",
		PreCommands:    []string{"curl http://example.com/setup_agent.sh -o /tmp/setup_agent.sh", "chmod +x /tmp/setup_agent.sh"},
		RunCmd:         "nohup bash /tmp/setup_agent.sh -s 1.1.1.1 &",
		Host:           host,
		Identity:       identity,
	}
}

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("Engine is nil")
	}

	// Check that built-in policies are loaded
	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"proxy-key-auth",
		"login-account",
		"uninstall-restrictions",
		"plan-shape",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluatePlan_ProxyKeyAuth(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		nodeType        inventory.NodeType
		authType        inventory.AuthType
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name:            "proxy with key auth",
			nodeType:        inventory.NodeProxy,
			authType:        inventory.AuthKey,
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name:            "proxy with password auth",
			nodeType:        inventory.NodeProxy,
			authType:        inventory.AuthPassword,
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name:            "agent with password auth",
			nodeType:        inventory.NodeAgent,
			authType:        inventory.AuthPassword,
			expectAllowed:   true,
			expectViolation: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &inventory.Host{
				ID:       1,
				InnerIP:  "10.0.0.1",
				OSType:   inventory.OSLinux,
				NodeType: tt.nodeType,
			}
			identity := &inventory.Identity{
				HostID:   1,
				AuthType: tt.authType,
				Account:  "ops",
				Port:     22,
			}

			result, err := eng.EvaluatePlan(context.Background(), host, testPlan(host, identity), nil)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := false
			for _, v := range result.Violations {
				if v.Policy == "proxy-key-auth" {
					hasViolation = true
				}
			}
			if hasViolation != tt.expectViolation {
				t.Errorf("Expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluatePlan_LoginAccount(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		account       string
		isManual      bool
		expectAllowed bool
		expectWarning bool
	}{
		{
			name:          "manual install as root warns but allows",
			account:       "root",
			isManual:      true,
			expectAllowed: true,
			expectWarning: true,
		},
		{
			name:          "managed install as root passes",
			account:       "root",
			isManual:      false,
			expectAllowed: true,
			expectWarning: false,
		},
		{
			name:          "empty account blocks",
			account:       "",
			isManual:      false,
			expectAllowed: false,
			expectWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &inventory.Host{
				ID:       7,
				InnerIP:  "10.0.0.7",
				OSType:   inventory.OSLinux,
				NodeType: inventory.NodeAgent,
				IsManual: tt.isManual,
			}
			identity := &inventory.Identity{
				HostID:   7,
				AuthType: inventory.AuthKey,
				Account:  tt.account,
				Port:     22,
			}

			result, err := eng.EvaluatePlan(context.Background(), host, testPlan(host, identity), nil)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := false
			for _, v := range result.Violations {
				if v.Policy == "login-account" {
					hasViolation = true
				}
			}
			if hasViolation != tt.expectWarning {
				t.Errorf("Expected login-account violation=%v, got %v: %+v",
					tt.expectWarning, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluatePlan_UninstallRestrictions(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	host := &inventory.Host{
		ID:       3,
		InnerIP:  "192.168.1.3",
		OSType:   inventory.OSLinux,
		NodeType: inventory.NodeProxy,
	}
	identity := &inventory.Identity{
		HostID:   3,
		AuthType: inventory.AuthKey,
		Account:  "ops",
		Port:     22,
	}

	tests := []struct {
		name          string
		environment   string
		operation     string
		dryRun        bool
		expectAllowed bool
	}{
		{
			name:          "production uninstall blocked",
			environment:   "production",
			operation:     "uninstall",
			expectAllowed: false,
		},
		{
			name:          "production dry run allowed",
			environment:   "production",
			operation:     "uninstall",
			dryRun:        true,
			expectAllowed: true,
		},
		{
			name:          "staging uninstall allowed",
			environment:   "staging",
			operation:     "uninstall",
			expectAllowed: true,
		},
		{
			name:          "production install allowed",
			environment:   "production",
			operation:     "install",
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluatePlan(context.Background(), host, testPlan(host, identity), &Context{
				Environment: tt.environment,
				Operation:   tt.operation,
				DryRun:      tt.dryRun,
			})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluatePlan_PlanShape(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	host := &inventory.Host{
		ID:       9,
		InnerIP:  "10.0.0.9",
		OSType:   inventory.OSLinux,
		NodeType: inventory.NodeAgent,
	}
	identity := &inventory.Identity{
		HostID:   9,
		AuthType: inventory.AuthKey,
		Account:  "ops",
		Port:     22,
	}

	plan := testPlan(host, identity)
	plan.RunCmd = ""

	result, err := eng.EvaluatePlan(context.Background(), host, plan, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected plan without run command to be rejected")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "plan-shape" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a plan-shape violation, got: %+v", result.Violations)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policyName := "proxy-key-auth"

	// Disable the policy
	err = eng.DisablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	// Proxy with password auth would normally violate
	host := &inventory.Host{
		ID:       1,
		InnerIP:  "10.0.0.1",
		OSType:   inventory.OSLinux,
		NodeType: inventory.NodeProxy,
	}
	identity := &inventory.Identity{
		HostID:   1,
		AuthType: inventory.AuthPassword,
		Account:  "ops",
		Port:     22,
	}

	result, err := eng.EvaluatePlan(context.Background(), host, testPlan(host, identity), nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	// Should have no violations from the disabled policy
	for _, v := range result.Violations {
		if v.Policy == policyName {
			t.Error("Disabled policy should not generate violations")
		}
	}

	// Re-enable the policy
	err = eng.EnablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	policy, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if !policy.Enabled {
		t.Error("Policy should be enabled")
	}
}

func TestEvaluateBatch(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	goodHost := &inventory.Host{
		ID:       1,
		InnerIP:  "10.0.0.1",
		OSType:   inventory.OSLinux,
		NodeType: inventory.NodeAgent,
	}
	badHost := &inventory.Host{
		ID:       2,
		InnerIP:  "10.0.0.2",
		OSType:   inventory.OSLinux,
		NodeType: inventory.NodeProxy,
	}
	keyIdentity := &inventory.Identity{HostID: 1, AuthType: inventory.AuthKey, Account: "ops", Port: 22}
	passIdentity := &inventory.Identity{HostID: 2, AuthType: inventory.AuthPassword, Account: "ops", Port: 22}

	plans := map[int64]*planner.InstallationPlan{
		1: testPlan(goodHost, keyIdentity),
		2: testPlan(badHost, passIdentity),
	}

	results, err := eng.EvaluateBatch(context.Background(), plans, nil)
	if err != nil {
		t.Fatalf("Batch evaluation failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if !results[1].Allowed {
		t.Errorf("Expected host 1 to be allowed: %+v", results[1].Violations)
	}
	if results[2].Allowed {
		t.Error("Expected host 2 to be rejected")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	initialCount := len(eng.ListPolicies())

	// Reload policies
	err = eng.ReloadPolicies(context.Background())
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	afterReloadCount := len(eng.ListPolicies())

	if initialCount != afterReloadCount {
		t.Errorf("Expected %d policies after reload, got %d", initialCount, afterReloadCount)
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()

	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	// Check that all policies have required fields
	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}
}
