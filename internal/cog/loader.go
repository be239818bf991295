// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultTeardownTimeout bounds a single teardown hook.
const DefaultTeardownTimeout = 5 * time.Second

// Source resolves cog names to uninitialized cog instances.
type Source interface {
	// Kind names the source (e.g., "static", "lua").
	Kind() string
	// Resolve returns a fresh instance of the named cog. It returns a
	// COG_NOT_FOUND error when the source does not know the name.
	Resolve(ctx context.Context, name string) (*Module, error)
	// Discover lists the names this source can resolve.
	Discover(ctx context.Context) ([]string, error)
}

// Factory constructs a fresh cog instance.
type Factory func() (Cog, error)

type staticEntry struct {
	version string
	factory Factory
}

// StaticSource resolves cogs compiled into the binary.
type StaticSource struct {
	mu      sync.RWMutex
	entries map[string]staticEntry
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{entries: make(map[string]staticEntry)}
}

// Register adds a factory under name.
func (s *StaticSource) Register(name, version string, f Factory) error {
	if err := ValidateCogName(name); err != nil {
		return err
	}
	if f == nil {
		return oops.Code(CodeInitError).
			In("cog").
			With("cog", name).
			Errorf("factory for cog %s is nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return oops.Code(CodeAlreadyLoaded).
			In("cog").
			With("cog", name).
			Errorf("cog %s is already registered", name)
	}
	s.entries[name] = staticEntry{version: version, factory: f}
	return nil
}

// MustRegister is like Register but panics on error. Intended for init-time
// registration of built-in cogs.
func (s *StaticSource) MustRegister(name, version string, f Factory) {
	if err := s.Register(name, version, f); err != nil {
		panic(err)
	}
}

// Kind returns "static".
func (s *StaticSource) Kind() string { return "static" }

// Resolve calls the factory registered under name.
func (s *StaticSource) Resolve(_ context.Context, name string) (*Module, error) {
	s.mu.RLock()
	entry, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound(name)
	}

	var c Cog
	err := callSafely(func() error {
		var ferr error
		c, ferr = entry.factory()
		return ferr
	})
	if err != nil {
		return nil, ErrInit(name, err)
	}
	if c == nil {
		return nil, ErrInit(name, oops.Errorf("factory returned nil cog"))
	}
	return &Module{Name: name, Version: entry.version, Cog: c}, nil
}

// Discover returns the registered names, sorted.
func (s *StaticSource) Discover(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithClock sets the clock used to stamp LoadedAt.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) {
		l.now = now
	}
}

// WithTeardownTimeout bounds each teardown hook.
func WithTeardownTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.teardownTimeout = d
	}
}

// WithLoaderLogger sets the logger used for teardown failures.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// Loader resolves cog names through its sources and initializes them.
// It never touches the Registry.
type Loader struct {
	sources         []Source
	now             func() time.Time
	teardownTimeout time.Duration
	logger          *slog.Logger
}

// NewLoader creates a loader that tries sources in order.
func NewLoader(sources []Source, opts ...LoaderOption) (*Loader, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	l := &Loader{
		sources:         sources,
		now:             time.Now,
		teardownTimeout: DefaultTeardownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load resolves and initializes the named cog. On any failure no record is
// returned and whatever Setup managed to acquire has been torn down.
func (l *Loader) Load(ctx context.Context, name string) (*Record, error) {
	if err := ValidateCogName(name); err != nil {
		return nil, err
	}

	mod, kind, err := l.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	b := newBuilder(name)
	err = callSafely(func() error { return mod.Cog.Setup(ctx, b) })
	if err == nil {
		err = b.Err()
	}
	if err != nil {
		if tdErr := teardownInstance(name, mod.Cog, l.teardownTimeout); tdErr != nil {
			l.logger.Warn("teardown after failed setup", "cog", name, "error", tdErr)
		}
		switch {
		case HasCode(err, CodeConflict), HasCode(err, CodeInvalidName), HasCode(err, CodeInitError):
			return nil, err
		default:
			return nil, ErrInit(name, err)
		}
	}

	return newRecord(kind, mod, b, l.now(), l.teardownTimeout, l.logger), nil
}

func (l *Loader) resolve(ctx context.Context, name string) (*Module, string, error) {
	for _, src := range l.sources {
		mod, err := src.Resolve(ctx, name)
		if err != nil {
			if HasCode(err, CodeNotFound) {
				continue
			}
			if HasCode(err, CodeInitError) {
				return nil, "", err
			}
			return nil, "", ErrInit(name, err)
		}
		if mod == nil || mod.Cog == nil {
			return nil, "", ErrInit(name, oops.Errorf("source %s returned no cog", src.Kind()))
		}
		if mod.Name != name {
			return nil, "", ErrInit(name, oops.Errorf("source %s resolved %q to %q", src.Kind(), name, mod.Name))
		}
		return mod, src.Kind(), nil
	}
	return nil, "", ErrNotFound(name)
}

// Discover lists every name resolvable by any source, in source order
// without duplicates.
func (l *Loader) Discover(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, src := range l.sources {
		found, err := src.Discover(ctx)
		if err != nil {
			return nil, oops.In("cog").With("source", src.Kind()).Wrapf(err, "discover cogs")
		}
		for _, name := range found {
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}
