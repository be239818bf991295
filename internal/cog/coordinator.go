// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cogbot/cogbot/pkg/errutil"
)

var tracer = otel.Tracer("cogbot/cog")

// DefaultLoadTimeout bounds a single load when the caller sets no earlier deadline.
const DefaultLoadTimeout = 30 * time.Second

// Request identifies one coordination cycle. It lives only for the duration
// of the operation and shows up in logs and traces.
type Request struct {
	ID          ulid.ULID
	Op          string
	Target      string // cog name, or "all"
	RequestedAt time.Time
}

func newRequest(op, target string) Request {
	return Request{
		ID:          ulid.Make(),
		Op:          op,
		Target:      target,
		RequestedAt: time.Now(),
	}
}

// BatchFailure is one cog that a batch operation could not process.
type BatchFailure struct {
	Name string
	Err  error
}

// Report summarizes a batch operation.
type Report struct {
	Succeeded int // cogs loaded or reloaded
	Failures  []BatchFailure
}

// OK reports whether every cog in the batch succeeded.
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// FailedNames returns the names of the failed cogs in processing order.
func (r Report) FailedNames() []string {
	names := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		names[i] = f.Name
	}
	return names
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLoadTimeout bounds each load and reload.
func WithLoadTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.loadTimeout = d
	}
}

// WithPinned marks cogs that Unload refuses to remove.
func WithPinned(names ...string) CoordinatorOption {
	return func(c *Coordinator) {
		for _, n := range names {
			c.pinned[n] = true
		}
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator sequences load, unload and reload against the Registry.
//
// Operations on the same cog name are serialized; operations on different
// names run concurrently. A failed load or reload never changes what the
// registry publishes.
type Coordinator struct {
	registry    *Registry
	loader      *Loader
	locks       *keyLock
	loadTimeout time.Duration
	pinned      map[string]bool
	logger      *slog.Logger
}

// NewCoordinator creates a coordinator writing to registry.
func NewCoordinator(registry *Registry, loader *Loader, opts ...CoordinatorOption) (*Coordinator, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if loader == nil {
		return nil, ErrNilLoader
	}
	c := &Coordinator{
		registry:    registry,
		loader:      loader,
		locks:       newKeyLock(),
		loadTimeout: DefaultLoadTimeout,
		pinned:      make(map[string]bool),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Registry returns the registry the coordinator writes to.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Pinned reports whether name refuses to be unloaded.
func (c *Coordinator) Pinned(name string) bool {
	return c.pinned[name]
}

// Available lists the cogs the loader can resolve.
func (c *Coordinator) Available(ctx context.Context) ([]string, error) {
	return c.loader.Discover(ctx)
}

// Load loads and publishes a cog that is not loaded yet.
func (c *Coordinator) Load(ctx context.Context, name string) (info Info, err error) {
	req := newRequest(OpLoad, name)
	ctx, span := c.startSpan(ctx, req)
	defer func() { c.finish(ctx, span, req, err) }()

	unlock, err := c.lock(ctx, req)
	if err != nil {
		return Info{}, err
	}
	defer unlock()

	if c.registry.Has(name) {
		return Info{}, ErrAlreadyLoaded(name)
	}
	return c.publish(ctx, req)
}

// Reload replaces a loaded cog with a freshly loaded instance. If loading
// fails the current instance keeps serving. Reloading a cog that is not
// loaded loads it.
func (c *Coordinator) Reload(ctx context.Context, name string) (info Info, err error) {
	req := newRequest(OpReload, name)
	ctx, span := c.startSpan(ctx, req)
	defer func() { c.finish(ctx, span, req, err) }()

	unlock, err := c.lock(ctx, req)
	if err != nil {
		return Info{}, err
	}
	defer unlock()

	return c.publish(ctx, req)
}

// Unload retracts a cog and waits, bounded by ctx, for its teardown.
// Teardown failures are logged and do not fail the unload.
func (c *Coordinator) Unload(ctx context.Context, name string) (err error) {
	req := newRequest(OpUnload, name)
	ctx, span := c.startSpan(ctx, req)
	defer func() { c.finish(ctx, span, req, err) }()

	if c.pinned[name] {
		return ErrPinned(name)
	}
	return c.unload(ctx, req)
}

func (c *Coordinator) unload(ctx context.Context, req Request) error {
	unlock, err := c.lock(ctx, req)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := c.registry.remove(req.Target)
	if err != nil {
		return ErrNotLoaded(req.Target)
	}

	select {
	case <-rec.retire():
	case <-ctx.Done():
		c.logger.WarnContext(ctx, "cog retracted, teardown still pending",
			"cog", req.Target,
			"request_id", req.ID.String())
	}
	return nil
}

// ReloadAll reloads every cog loaded when the call starts. It continues past
// failures; a cog unloaded in the meantime is reported as NOT_LOADED.
func (c *Coordinator) ReloadAll(ctx context.Context) Report {
	req := newRequest(OpReload, "all")
	ctx, span := c.startSpan(ctx, req)
	defer span.End()

	names := c.registry.Names()
	var report Report
	for _, name := range names {
		if _, err := c.reloadLoaded(ctx, name); err != nil {
			report.Failures = append(report.Failures, BatchFailure{Name: name, Err: err})
			continue
		}
		report.Succeeded++
	}

	span.SetAttributes(
		attribute.Int("cog.reloaded", report.Succeeded),
		attribute.Int("cog.failed", len(report.Failures)),
	)
	c.logger.InfoContext(ctx, "reloaded all cogs",
		"request_id", req.ID.String(),
		"reloaded", report.Succeeded,
		"failed", strings.Join(report.FailedNames(), ","))
	return report
}

func (c *Coordinator) reloadLoaded(ctx context.Context, name string) (info Info, err error) {
	req := newRequest(OpReload, name)
	ctx, span := c.startSpan(ctx, req)
	defer func() { c.finish(ctx, span, req, err) }()

	unlock, err := c.lock(ctx, req)
	if err != nil {
		return Info{}, err
	}
	defer unlock()

	if !c.registry.Has(name) {
		return Info{}, ErrNotLoaded(name)
	}
	return c.publish(ctx, req)
}

// LoadAll loads each named cog in order, skipping names already loaded.
// Used at startup.
func (c *Coordinator) LoadAll(ctx context.Context, names []string) Report {
	var report Report
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		_, err := c.Load(ctx, name)
		switch {
		case err == nil:
			report.Succeeded++
		case HasCode(err, CodeAlreadyLoaded):
		default:
			report.Failures = append(report.Failures, BatchFailure{Name: name, Err: err})
		}
	}
	return report
}

// Close unloads every cog, pinned ones included, in reverse load order.
func (c *Coordinator) Close(ctx context.Context) error {
	names := c.registry.Names()
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		req := newRequest(OpUnload, names[i])
		if err := c.unload(ctx, req); err != nil && !HasCode(err, CodeNotLoaded) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// publish stages a new record for req.Target and, on success, swaps it in.
// The displaced record is retired; its teardown runs once in-flight
// dispatches release it.
func (c *Coordinator) publish(ctx context.Context, req Request) (Info, error) {
	rec, err := c.stage(ctx, req)
	if err != nil {
		return Info{}, err
	}

	if prev := c.registry.put(rec); prev != nil {
		prev.retire()
	}
	return rec.Info(), nil
}

type loadResult struct {
	rec *Record
	err error
}

// stage runs the loader bounded by the load timeout. A load that finishes
// after the deadline is torn down and never published.
func (c *Coordinator) stage(ctx context.Context, req Request) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	ch := make(chan loadResult, 1)
	go func() {
		rec, err := c.loader.Load(ctx, req.Target)
		ch <- loadResult{rec: rec, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && ctx.Err() != nil {
			return nil, c.ctxErr(ctx, req)
		}
		return res.rec, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.rec != nil {
				res.rec.retire()
			}
		}()
		return nil, c.ctxErr(ctx, req)
	}
}

// lock takes the per-name lock for req.Target, bounded by ctx.
func (c *Coordinator) lock(ctx context.Context, req Request) (func(), error) {
	unlock, err := c.locks.lock(ctx, req.Target)
	if err != nil {
		return nil, c.ctxErr(ctx, req)
	}
	return unlock, nil
}

func (c *Coordinator) ctxErr(ctx context.Context, req Request) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout(req.Target, req.Op, c.timeoutFor(ctx, req))
	}
	return oops.In("cog").
		With("cog", req.Target).
		With("operation", req.Op).
		Wrapf(ctx.Err(), "%s cog %s", req.Op, req.Target)
}

func (c *Coordinator) timeoutFor(ctx context.Context, req Request) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline.Sub(req.RequestedAt).Round(time.Millisecond)
	}
	return c.loadTimeout
}

func (c *Coordinator) startSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cog."+req.Op,
		trace.WithAttributes(
			attribute.String("cog.name", req.Target),
			attribute.String("request.id", req.ID.String()),
		),
	)
}

// finish records the outcome of a single-cog operation.
func (c *Coordinator) finish(ctx context.Context, span trace.Span, req Request, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		RecordLifecycle(req.Op, StatusError)
		level := slog.LevelError
		switch Code(err) {
		case CodeAlreadyLoaded, CodeNotLoaded, CodeNotFound, CodePinned, CodeInvalidName:
			level = slog.LevelWarn
		}
		errutil.Log(ctx, c.logger, level, "cog "+req.Op+" failed", err)
		return
	}
	RecordLifecycle(req.Op, StatusSuccess)
	c.logger.InfoContext(ctx, "cog "+req.Op+" complete",
		"cog", req.Target,
		"request_id", req.ID.String(),
		"duration", time.Since(req.RequestedAt))
}
