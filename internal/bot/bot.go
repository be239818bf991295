// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package bot assembles the cog runtime: it owns the registry, wires the
// loader, coordinator and dispatcher, and pumps messages from a transport.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/cogbot/cogbot/internal/access"
	"github.com/cogbot/cogbot/internal/cog"
	"github.com/cogbot/cogbot/internal/cog/lua"
	"github.com/cogbot/cogbot/internal/cog/watch"
	"github.com/cogbot/cogbot/internal/cogs/admin"
	"github.com/cogbot/cogbot/internal/cogs/example"
	"github.com/cogbot/cogbot/internal/cogs/general"
	"github.com/cogbot/cogbot/internal/config"
	"github.com/cogbot/cogbot/internal/observability"
	"github.com/cogbot/cogbot/internal/ratelimit"
	"github.com/cogbot/cogbot/internal/transport"
	"github.com/cogbot/cogbot/pkg/errutil"
)

// Option configures a Bot.
type Option func(*Bot)

// WithVersion sets the version reported by status and to Lua manifests.
func WithVersion(v string) Option {
	return func(b *Bot) {
		b.version = v
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) {
		b.logger = logger
	}
}

// WithMetrics records transport traffic.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bot) {
		b.metrics = m
	}
}

// WithRegisterer registers the rate limiter's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bot) {
		b.registerer = reg
	}
}

// WithAdmins grants the admin role to requesters in addition to the
// configured admins.
func WithAdmins(names ...string) Option {
	return func(b *Bot) {
		b.extraAdmins = append(b.extraAdmins, names...)
	}
}

// WithStaticCog registers an additional compiled-in cog.
func WithStaticCog(name, version string, f cog.Factory) Option {
	return func(b *Bot) {
		b.extraCogs = append(b.extraCogs, staticCog{name: name, version: version, factory: f})
	}
}

type staticCog struct {
	name    string
	version string
	factory cog.Factory
}

// Bot is one running bot instance. It holds no global state; several bots
// can run in one process.
type Bot struct {
	cfg         *config.Config
	version     string
	started     time.Time
	logger      *slog.Logger
	metrics     *observability.Metrics
	registerer  prometheus.Registerer
	extraAdmins []string
	extraCogs   []staticCog

	registry *cog.Registry
	static   *cog.StaticSource
	scripts  *lua.Source
	loader   *cog.Loader
	coord    *cog.Coordinator
	disp     *cog.Dispatcher
	enforcer *access.Enforcer
	limiter  *ratelimit.Limiter
	parser   *transport.Parser

	ready atomic.Bool
}

// New assembles a bot from cfg. Nothing is loaded until Start.
func New(cfg *config.Config, opts ...Option) (*Bot, error) {
	if cfg == nil {
		return nil, oops.In("bot").Code("CONFIG_INVALID").Errorf("config is nil")
	}
	b := &Bot{
		cfg:     cfg,
		version: "dev",
		started: time.Now(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.registry = cog.NewRegistry()
	b.static = cog.NewStaticSource()
	b.scripts = lua.NewSource(cfg.Cogs.Dir,
		lua.WithBotVersion(b.version),
		lua.WithSettings(cfg.Provider()),
		lua.WithLogger(b.logger))

	loader, err := cog.NewLoader([]cog.Source{b.static, b.scripts},
		cog.WithTeardownTimeout(cfg.Cogs.TeardownTimeout),
		cog.WithLoaderLogger(b.logger))
	if err != nil {
		return nil, err
	}
	b.loader = loader

	b.coord, err = cog.NewCoordinator(b.registry, loader,
		cog.WithLoadTimeout(cfg.Cogs.LoadTimeout),
		cog.WithPinned(admin.Name),
		cog.WithLogger(b.logger))
	if err != nil {
		return nil, err
	}

	admins := append(append([]string{}, cfg.Admins...), b.extraAdmins...)
	b.enforcer = access.NewDefaultEnforcer(admins)
	if b.registerer != nil {
		b.limiter = ratelimit.NewWithRegistry(cfg.RateLimit, b.registerer)
	} else {
		b.limiter = ratelimit.New(cfg.RateLimit)
	}

	b.disp, err = cog.NewDispatcher(b.registry,
		cog.WithAuthorizer(b.enforcer),
		cog.WithRateLimiter(b.limiter),
		cog.WithDispatchLogger(b.logger))
	if err != nil {
		b.limiter.Close()
		return nil, err
	}
	b.parser = transport.NewParser(cfg.MaxInputLength)

	if err := b.registerBuiltins(); err != nil {
		b.limiter.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bot) registerBuiltins() error {
	if err := admin.Register(b.static, b.coord); err != nil {
		return err
	}
	if err := general.Register(b.static, b); err != nil {
		return err
	}
	if err := example.Register(b.static); err != nil {
		return err
	}
	for _, c := range b.extraCogs {
		if err := b.static.Register(c.name, c.version, c.factory); err != nil {
			return err
		}
	}
	return nil
}

// Coordinator returns the lifecycle coordinator.
func (b *Bot) Coordinator() *cog.Coordinator { return b.coord }

// Dispatcher returns the command dispatcher.
func (b *Bot) Dispatcher() *cog.Dispatcher { return b.disp }

// Registry returns the registry of loaded cogs.
func (b *Bot) Registry() *cog.Registry { return b.registry }

// Scripts returns the Lua cog source.
func (b *Bot) Scripts() *lua.Source { return b.scripts }

// Ready reports whether Start has completed.
func (b *Bot) Ready() bool { return b.ready.Load() }

// Status implements general.Host.
func (b *Bot) Status() general.Status {
	return general.Status{
		Version:  b.version,
		Started:  b.started,
		Executed: b.disp.Executed(),
	}
}

// Snapshot implements general.Host.
func (b *Bot) Snapshot() []cog.Info {
	return b.registry.Snapshot()
}

// Start loads the configured autoload cogs followed by every discovered Lua
// cog. Individual failures are logged and reported, they do not stop startup.
func (b *Bot) Start(ctx context.Context) cog.Report {
	names := append([]string{admin.Name}, b.cfg.Cogs.Autoload...)
	scripts, err := b.scripts.Discover(ctx)
	if err != nil {
		errutil.Log(ctx, b.logger, slog.LevelError, "discover lua cogs", err)
	}
	names = append(names, scripts...)

	report := b.coord.LoadAll(ctx, names)
	for _, f := range report.Failures {
		errutil.Log(ctx, b.logger, slog.LevelError, "autoload failed", f.Err)
	}
	b.logger.InfoContext(ctx, "cogs loaded",
		"loaded", b.registry.Names(),
		"failed", report.FailedNames())
	b.ready.Store(true)
	return report
}

// Watch reloads Lua cogs when their files change, until ctx is done. It
// returns immediately when hot reload is disabled.
func (b *Bot) Watch(ctx context.Context) error {
	if !b.cfg.Cogs.HotReload {
		return nil
	}
	w := watch.New(b.coord, b.registry, b.scripts,
		watch.WithDelay(b.cfg.Cogs.Debounce),
		watch.WithLogger(b.logger))
	return w.Run(ctx)
}

// Handle parses and dispatches one message. It returns false when the
// message is not a command.
func (b *Bot) Handle(ctx context.Context, msg transport.Message) (cog.Response, bool) {
	inv, ok := b.parser.Parse(msg)
	if !ok {
		return cog.Response{}, false
	}
	resp, err := b.disp.Dispatch(ctx, inv)
	if err != nil {
		level := slog.LevelWarn
		switch cog.Code(err) {
		case cog.CodeHandlerFailed, lua.CodeScriptError, cog.CodeTimeout:
			level = slog.LevelError
		}
		errutil.Log(ctx, b.logger, level, "command failed", err)
	}
	return resp, true
}

// Serve pumps t until ctx is done or t is closed. Messages are handled
// concurrently, at most cfg.Workers at a time; Receive blocks while every
// worker is busy.
func (b *Bot) Serve(ctx context.Context, t transport.Transport) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	b.logger.InfoContext(ctx, "serving", "transport", t.Name(), "workers", b.cfg.Workers)
	var recvErr error
	for {
		msg, err := t.Receive(gctx)
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) && gctx.Err() == nil {
				recvErr = err
			}
			break
		}
		b.metrics.RecordMessage(t.Name(), observability.DirectionIn, "received")
		g.Go(func() error {
			b.serveOne(gctx, t, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return recvErr
}

func (b *Bot) serveOne(ctx context.Context, t transport.Transport, msg transport.Message) {
	resp, ok := b.Handle(ctx, msg)
	if !ok {
		b.metrics.RecordMessage(t.Name(), observability.DirectionIn, "ignored")
		return
	}
	status := "ok"
	if !resp.OK {
		status = "failed"
	}
	if err := t.Send(ctx, msg, resp); err != nil {
		status = "error"
		errutil.Log(ctx, b.logger, slog.LevelWarn, "send reply", err)
	}
	b.metrics.RecordMessage(t.Name(), observability.DirectionOut, status)
}

// Close unloads every cog and stops the rate limiter.
func (b *Bot) Close(ctx context.Context) error {
	b.ready.Store(false)
	defer b.limiter.Close()
	return b.coord.Close(ctx)
}
