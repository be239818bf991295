// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package watch reloads Lua cogs when their files change.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/cogbot/cogbot/internal/cog"
)

// Defaults for debounce and retry.
const (
	DefaultDelay   = 250 * time.Millisecond
	DefaultRetries = 3
	DefaultBackoff = 200 * time.Millisecond
)

// Reloader reloads a cog by name.
type Reloader interface {
	Reload(ctx context.Context, name string) (cog.Info, error)
}

// Loaded reports whether a cog is currently loaded.
type Loaded interface {
	Has(name string) bool
}

// Resolver maps changed paths to cog names.
type Resolver interface {
	Dir() string
	Owner(ctx context.Context, path string) (string, bool)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets how long a cog's files must be quiet before it reloads.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.delay = d
	}
}

// WithRetries sets how often a reload failing with INIT_ERROR is retried;
// editors often write a file in several steps.
func WithRetries(n uint64, backoff time.Duration) Option {
	return func(w *Watcher) {
		w.retries = n
		w.backoff = backoff
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// OnReload registers a callback run after every reload attempt.
func OnReload(fn func(name string, info cog.Info, err error)) Option {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// Watcher reloads loaded cogs when files under their directory change.
// Cogs that are not loaded are ignored.
type Watcher struct {
	reloader Reloader
	loaded   Loaded
	resolver Resolver
	delay    time.Duration
	retries  uint64
	backoff  time.Duration
	logger   *slog.Logger
	onReload func(name string, info cog.Info, err error)

	mu         sync.Mutex
	debouncers map[string]func(func())
	closed     bool
	pending    sync.WaitGroup
}

// New creates a watcher.
func New(reloader Reloader, loaded Loaded, resolver Resolver, opts ...Option) *Watcher {
	w := &Watcher{
		reloader:   reloader,
		loaded:     loaded,
		resolver:   resolver,
		delay:      DefaultDelay,
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
		debouncers: make(map[string]func(func())),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. It returns once every scheduled reload has
// finished or been abandoned.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("watch").Wrapf(err, "create watcher")
	}
	defer func() { _ = fsw.Close() }()

	root := w.resolver.Dir()
	if err := w.addTree(fsw, root); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "watching cogs for changes", "dir", root)

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watch error", "error", err)
		}
	}
}

// addTree watches root and the directories below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return oops.In("watch").With("path", path).Wrapf(err, "walk cogs directory")
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return oops.In("watch").With("path", path).Wrapf(err, "watch directory")
		}
		return nil
	})
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") || ev.Op == fsnotify.Chmod {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fsw, ev.Name); err != nil {
				w.logger.WarnContext(ctx, "cannot watch new directory", "path", ev.Name, "error", err)
			}
		}
	}

	name, ok := w.resolver.Owner(ctx, ev.Name)
	if !ok {
		return
	}
	w.schedule(ctx, name)
}

// schedule debounces reloads per cog.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	d, ok := w.debouncers[name]
	if !ok {
		d = debounce.New(w.delay)
		w.debouncers[name] = d
	}
	d(func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.pending.Add(1)
		w.mu.Unlock()
		defer w.pending.Done()
		w.reload(ctx, name)
	})
}

func (w *Watcher) drain() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.pending.Wait()
}

// reload reloads name if it is loaded, retrying initialization failures.
func (w *Watcher) reload(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	if !w.loaded.Has(name) {
		w.logger.DebugContext(ctx, "changed cog is not loaded, skipping", "cog", name)
		return
	}

	var info cog.Info
	backoff := retry.WithMaxRetries(w.retries, retry.NewConstant(w.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		info, err = w.reloader.Reload(ctx, name)
		if cog.HasCode(err, cog.CodeInitError) {
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil {
		w.logger.WarnContext(ctx, "hot reload failed, keeping current version",
			"cog", name, "error", err)
	} else {
		w.logger.InfoContext(ctx, "hot reloaded cog", "cog", name, "version", info.Version)
	}
	if w.onReload != nil {
		w.onReload(name, info, err)
	}
}
