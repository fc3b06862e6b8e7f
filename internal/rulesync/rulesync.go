// Package rulesync loads response rules from a YAML file into the store and
// reloads them whenever the file changes.
package rulesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/replydraft/internal/generation"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

const defaultDebounce = 200 * time.Millisecond

// File is the on-disk layout: rule lists keyed by user id, "*" for rules
// shared by every user.
type File struct {
	Rules map[string][]types.ResponseRule `yaml:"rules"`
}

// Sink receives rule sets. *store.Store implements it.
type Sink interface {
	ReplaceRules(ctx context.Context, userID string, rules []types.ResponseRule) error
	RuleOwners(ctx context.Context) ([]string, error)
}

// Load parses and validates a rules file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading rules file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing rules file: %w", err)
	}
	for user, rules := range f.Rules {
		seen := make(map[string]bool, len(rules))
		for i, r := range rules {
			if err := generation.ValidateRule(r); err != nil {
				return File{}, fmt.Errorf("rules[%s][%d]: %w", user, i, err)
			}
			if seen[r.ID] {
				return File{}, fmt.Errorf("rules[%s][%d]: %w", user, i,
					types.NewValidationError("id", "duplicate rule id "+r.ID))
			}
			seen[r.ID] = true
		}
	}
	return f, nil
}

// Apply writes every rule set of f to sink and clears users that no longer
// appear in f.
func Apply(ctx context.Context, sink Sink, f File) error {
	owners, err := sink.RuleOwners(ctx)
	if err != nil {
		return fmt.Errorf("listing rule owners: %w", err)
	}
	users := make([]string, 0, len(f.Rules))
	for u := range f.Rules {
		users = append(users, u)
	}
	sort.Strings(users)

	for _, u := range users {
		if err := sink.ReplaceRules(ctx, u, f.Rules[u]); err != nil {
			return fmt.Errorf("replacing rules of %s: %w", u, err)
		}
	}
	for _, u := range owners {
		if _, ok := f.Rules[u]; !ok {
			if err := sink.ReplaceRules(ctx, u, nil); err != nil {
				return fmt.Errorf("clearing rules of %s: %w", u, err)
			}
		}
	}
	return nil
}

// Watcher keeps the sink in step with a rules file.
type Watcher struct {
	path     string
	sink     Sink
	logger   *slog.Logger
	debounce time.Duration
	onSync   func(error)
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// WithSyncHook is called after every sync attempt with its error.
func WithSyncHook(fn func(error)) Option { return func(w *Watcher) { w.onSync = fn } }

// NewWatcher returns a Watcher for path.
func NewWatcher(path string, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		sink:     sink,
		logger:   slog.Default(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Sync loads the file and applies it once. A missing file is not an error.
func (w *Watcher) Sync(ctx context.Context) error {
	f, err := Load(w.path)
	if errors.Is(err, os.ErrNotExist) {
		w.logger.Info("no rules file", "path", w.path)
		err = nil
	} else if err == nil {
		err = Apply(ctx, w.sink, f)
		if err == nil {
			w.logger.Info("rules synced", "path", w.path, "users", len(f.Rules))
		}
	}
	if err != nil {
		w.logger.Warn("rules sync failed, keeping previous rules", "path", w.path, "error", err)
	}
	if w.onSync != nil {
		w.onSync(err)
	}
	return err
}

// Run syncs once and then on every change to the file until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	_ = w.Sync(ctx)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rules watcher error", "error", err)
		case <-timer.C:
			_ = w.Sync(ctx)
		}
	}
}
