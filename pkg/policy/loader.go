package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// policyExtensions lists the file extensions the loader accepts.
var policyExtensions = map[string]bool{".rego": true, ".json": true}

// Loader reads install policies from disk. A policy source is a bare
// .rego module, a JSON policy document, or a JSON bundle of several
// policies; directories are walked recursively.
type Loader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads every policy reachable from the given files and
// directories.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var loaded []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy source %s: %w", path, err)
		}

		var policies []Policy
		if info.IsDir() {
			policies, err = l.loadDir(path)
		} else {
			policies, err = l.loadFile(path)
		}
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, policies...)
	}

	l.logger.Info().
		Int("policies", len(loaded)).
		Int("sources", len(paths)).
		Msg("Install policies loaded")
	return loaded, nil
}

// loadDir walks a directory tree, loading every policy file it can read.
// Unreadable files are skipped so one broken policy cannot take down the
// whole directory.
func (l *Loader) loadDir(dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !policyExtensions[filepath.Ext(path)] {
			return nil
		}

		loaded, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable policy file")
			return nil
		}
		policies = append(policies, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory %s: %w", dir, err)
	}
	return policies, nil
}

func (l *Loader) loadFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".rego":
		return []Policy{parseRegoPolicy(path, data)}, nil
	case ".json":
		return parseJSONPolicies(data)
	default:
		return nil, fmt.Errorf("unsupported policy file %s", path)
	}
}

// parseRegoPolicy wraps a Rego module as an install policy. The leading
// comment block becomes the description; a "# severity: <level>" line in
// that block overrides the default warning severity.
func parseRegoPolicy(path string, src []byte) Policy {
	now := time.Now()
	policy := Policy{
		Name:      strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:      string(src),
		Severity:  SeverityWarning,
		Enabled:   true,
		Metadata:  map[string]interface{}{"source": path},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var description []string
	for _, line := range strings.Split(string(src), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if value, ok := strings.CutPrefix(comment, "severity:"); ok {
			policy.Severity = Severity(strings.TrimSpace(value))
			continue
		}
		if comment != "" {
			description = append(description, comment)
		}
	}
	policy.Description = strings.Join(description, " ")

	return policy
}

// parseJSONPolicies decodes a JSON policy document. A document carrying
// a policies array is treated as a bundle.
func parseJSONPolicies(data []byte) ([]Policy, error) {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	if len(bundle.Policies) > 0 {
		policies := bundle.Policies
		for i := range policies {
			applyPolicyDefaults(&policies[i])
		}
		return policies, nil
	}

	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	if policy.Name == "" || policy.Rego == "" {
		return nil, fmt.Errorf("policy document must carry a name and rego source")
	}
	applyPolicyDefaults(&policy)
	return []Policy{policy}, nil
}

func applyPolicyDefaults(policy *Policy) {
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}
}

// Watch reloads the full policy set whenever a watched source changes
// and hands it to apply. Watching stops when ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start policy watcher: %w", err)
	}

	for _, path := range paths {
		if err := addWatchTargets(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Policy source not watchable")
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.watchLoop(ctx, watcher, paths, apply)

	l.logger.Info().Int("sources", len(paths)).Msg("Watching policy sources")
	return nil
}

// addWatchTargets registers a file, or every directory under a root,
// with the watcher.
func addWatchTargets(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	defer watcher.Close()

	// Editors produce bursts of events per save; reload once per burst.
	const settle = 250 * time.Millisecond
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !policyExtensions[filepath.Ext(event.Name)] {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy source changed")

			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(settle, func() {
				l.reload(ctx, paths, apply)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		l.logger.Error().Err(err).Msg("Policy reload failed")
		return
	}
	if err := apply(policies); err != nil {
		l.logger.Error().Err(err).Msg("Reloaded policies rejected")
		return
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
}

// Close stops the watcher, if one is running.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
