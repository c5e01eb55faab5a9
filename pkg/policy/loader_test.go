package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writePolicyFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadRegoPolicy(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	path := filepath.Join(dir, "no-root-manual.rego")
	writePolicyFile(t, path, `# Manual installs must not run as root
# severity: error
package nodescope.install

deny[msg] {
	input.host.is_manual
	input.auth.account == "root"
	msg := "manual installs must not use the root account"
}`)

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	policy := policies[0]
	if policy.Name != "no-root-manual" {
		t.Errorf("expected name no-root-manual, got %s", policy.Name)
	}
	if policy.Description != "Manual installs must not run as root" {
		t.Errorf("unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityError {
		t.Errorf("severity directive should override the default, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("file policies should load enabled")
	}
}

func TestLoadRegoPolicyDefaultSeverity(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.rego")
	writePolicyFile(t, path, "package nodescope.install\n\ndeny[msg] { false }")

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("expected warning default, got %s", policies[0].Severity)
	}
	if policies[0].Description != "" {
		t.Errorf("expected empty description, got %q", policies[0].Description)
	}
}

func TestLoadJSONPolicy(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	want := Policy{
		Name:        "port-range",
		Description: "Identity ports stay in the unprivileged range",
		Rego:        "package nodescope.install\ndeny[msg] { false }",
		Severity:    SeverityCritical,
		Enabled:     true,
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "port-range.json")
	writePolicyFile(t, path, string(data))

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != want.Name || policies[0].Severity != want.Severity {
		t.Errorf("unexpected policy %+v", policies[0])
	}
	if policies[0].CreatedAt.IsZero() {
		t.Error("defaults should fill the creation timestamp")
	}
}

func TestLoadBundleDocument(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	bundle := Bundle{
		Name:    "site-policies",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "first", Rego: "package p1\ndeny[msg] { false }", Enabled: true},
			{Name: "second", Rego: "package p2\ndeny[msg] { false }", Severity: SeverityError, Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")
	writePolicyFile(t, path, string(data))

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies from the bundle, got %d", len(policies))
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("bundle entries without severity should default to warning, got %s", policies[0].Severity)
	}
	if policies[1].Severity != SeverityError {
		t.Errorf("explicit bundle severity should survive, got %s", policies[1].Severity)
	}
}

func TestLoadDirectoryRecursive(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	sub := filepath.Join(dir, "extra")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	writePolicyFile(t, filepath.Join(dir, "one.rego"), "package p1\ndeny[msg] { false }")
	writePolicyFile(t, filepath.Join(sub, "two.rego"), "package p2\ndeny[msg] { false }")
	writePolicyFile(t, filepath.Join(dir, "README.md"), "# not a policy")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("expected 2 policies across the tree, got %d", len(policies))
	}
}

func TestLoadDirectorySkipsBrokenFiles(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	writePolicyFile(t, filepath.Join(dir, "good.rego"), "package p1\ndeny[msg] { false }")
	writePolicyFile(t, filepath.Join(dir, "broken.json"), "{not json")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("a broken file should not fail the directory: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "good" {
		t.Errorf("expected only the good policy, got %+v", policies)
	}
}

func TestLoadMissingSource(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("expected an error for a missing source")
	}
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"invalid json", "bad.json", "{not json"},
		{"json without name", "anon.json", `{"rego": "package p\ndeny[msg] { false }"}`},
		{"json without rego", "empty.json", `{"name": "empty"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writePolicyFile(t, path, tt.content)
			if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
				t.Error("expected a parse error")
			}
		})
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	writePolicyFile(t, filepath.Join(dir, "one.rego"), "package p1\ndeny[msg] { false }")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	writePolicyFile(t, filepath.Join(dir, "two.rego"), "package p2\ndeny[msg] { false }")

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after a policy file change")
	}
}

func TestEngineReloadsOnPolicyChange(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, filepath.Join(dir, "one.rego"), "package p1\n\ndeny[msg] {\n\tinput.host.is_manual\n\tmsg := \"first rule\"\n}")

	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("engine creation failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := engine.WatchPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	before := len(engine.ListPolicies())

	writePolicyFile(t, filepath.Join(dir, "two.rego"), "package p2\n\ndeny[msg] {\n\tinput.host.is_manual\n\tmsg := \"second rule\"\n}")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(engine.ListPolicies()) == before+1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("engine never picked up the new policy, still %d", len(engine.ListPolicies()))
}
