// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package lua

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/cogbot/cogbot/internal/cog"
)

// DefaultCallTimeout bounds one script run (setup, one command, teardown).
const DefaultCallTimeout = 5 * time.Second

// CodeScriptError marks a script that failed to compile or raised an error.
const CodeScriptError = "SCRIPT_ERROR"

// Entry is one cog directory found by Scan.
type Entry struct {
	Dir      string    // absolute cog directory
	Manifest *Manifest // nil when Err is set
	Err      error     // manifest missing, unreadable or invalid
}

// Name returns the manifest name, or the directory name when the manifest
// is invalid.
func (e Entry) Name() string {
	if e.Manifest != nil {
		return e.Manifest.Name
	}
	return filepath.Base(e.Dir)
}

// Option configures a Source.
type Option func(*Source)

// WithBotVersion sets the version checked against manifest requires.
func WithBotVersion(v string) Option {
	return func(s *Source) {
		s.botVersion = v
	}
}

// WithSettings exposes configuration to scripts through cog.setting.
func WithSettings(settings Settings) Option {
	return func(s *Source) {
		s.settings = settings
	}
}

// WithCallTimeout bounds each script run.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Source) {
		s.callTimeout = d
	}
}

// WithLogger sets the logger scripts write to through cog.log.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// Source resolves cog names to Lua cogs found under a directory. Each
// immediate subdirectory holding a cog.yaml is one cog. Resolve re-reads
// the manifest and script, so edits take effect on the next load.
type Source struct {
	dir         string
	botVersion  string
	settings    Settings
	callTimeout time.Duration
	factory     *stateFactory
	logger      *slog.Logger
}

var _ cog.Source = (*Source)(nil)

// NewSource creates a source reading cogs from dir.
func NewSource(dir string, opts ...Option) *Source {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	s := &Source{
		dir:         dir,
		callTimeout: DefaultCallTimeout,
		factory:     newStateFactory(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind implements cog.Source.
func (s *Source) Kind() string { return "lua" }

// Dir returns the absolute cog directory.
func (s *Source) Dir() string {
	return s.dir
}

// Scan lists every cog directory with its parsed manifest, sorted by
// directory. A missing root directory yields no entries.
func (s *Source) Scan(_ context.Context) ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("lua").With("dir", s.dir).Wrapf(err, "read cogs directory")
	}

	var entries []Entry
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := filepath.Join(s.dir, d.Name())
		data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			entries = append(entries, Entry{Dir: dir, Err: oops.In("lua").With("dir", dir).Wrapf(err, "read manifest")})
			continue
		}
		m, err := ParseManifest(data)
		if err != nil {
			entries = append(entries, Entry{Dir: dir, Err: err})
			continue
		}
		entries = append(entries, Entry{Dir: dir, Manifest: m})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Dir < entries[j].Dir })
	return entries, nil
}

// Discover implements cog.Source. Invalid manifests are logged and skipped;
// when two directories declare the same name the first one wins.
func (s *Source) Discover(ctx context.Context) ([]string, error) {
	entries, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Err != nil {
			s.logger.WarnContext(ctx, "skipping invalid lua cog", "dir", e.Dir, "error", e.Err)
			continue
		}
		if seen[e.Manifest.Name] {
			s.logger.WarnContext(ctx, "duplicate lua cog name", "cog", e.Manifest.Name, "dir", e.Dir)
			continue
		}
		seen[e.Manifest.Name] = true
		names = append(names, e.Manifest.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Resolve implements cog.Source.
func (s *Source) Resolve(ctx context.Context, name string) (*cog.Module, error) {
	entry, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	m := entry.Manifest

	if !m.Compatible(s.botVersion) {
		return nil, oops.Code("INCOMPATIBLE").
			In("lua").
			With("cog", name).
			With("requires", m.Requires).
			With("bot_version", s.botVersion).
			Errorf("cog %s requires bot %s", name, m.Requires)
	}

	path := filepath.Join(entry.Dir, filepath.FromSlash(m.EntryPath()))
	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("lua").With("cog", name).With("path", path).Hint("failed to read entry file").Wrap(err)
	}
	proto, err := compile(name, string(code))
	if err != nil {
		return nil, err
	}

	return &cog.Module{
		Name:    m.Name,
		Version: m.Version,
		Cog: &script{
			manifest:    m,
			proto:       proto,
			factory:     s.factory,
			kv:          &kvStore{data: make(map[string]string)},
			settings:    s.settings,
			callTimeout: s.callTimeout,
			logger:      s.logger,
		},
	}, nil
}

// find returns the valid entry declaring name. A directory named after the
// cog with a broken manifest reports the manifest error instead of
// COG_NOT_FOUND.
func (s *Source) find(ctx context.Context, name string) (Entry, error) {
	entries, err := s.Scan(ctx)
	if err != nil {
		return Entry{}, err
	}
	var broken error
	for _, e := range entries {
		if e.Err == nil && e.Manifest.Name == name {
			return e, nil
		}
		if e.Err != nil && filepath.Base(e.Dir) == name && broken == nil {
			broken = e.Err
		}
	}
	if broken != nil {
		return Entry{}, broken
	}
	return Entry{}, cog.ErrNotFound(name)
}

// Owner returns the cog whose directory contains path.
func (s *Source) Owner(ctx context.Context, path string) (string, bool) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	dir := filepath.Join(s.dir, top)

	entries, err := s.Scan(ctx)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Dir == dir {
			return e.Name(), true
		}
	}
	return "", false
}
