// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CapabilityRateLimitBypass exempts a requester from rate limiting.
const CapabilityRateLimitBypass = "ratelimit.bypass"

// maxResolveAttempts bounds how often a dispatch re-reads the registry after
// racing a retirement.
const maxResolveAttempts = 16

// Authorizer decides whether a requester holds a capability.
type Authorizer interface {
	Check(ctx context.Context, requester, capability string) bool
}

// Limiter throttles requesters. Allow returns false and the cooldown in
// milliseconds when the requester is over its limit.
type Limiter interface {
	Allow(key string) (allowed bool, cooldownMs int64)
}

// DispatcherOption configures a Dispatcher during construction.
type DispatcherOption func(*Dispatcher)

// WithAuthorizer sets the capability check. Without one, commands that
// declare capabilities are always denied.
func WithAuthorizer(a Authorizer) DispatcherOption {
	return func(d *Dispatcher) {
		d.auth = a
	}
}

// WithRateLimiter enables rate limiting per requester.
func WithRateLimiter(l Limiter) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = l
	}
}

// WithDispatchLogger sets the dispatcher's logger.
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher routes invocations to the handler live in the registry when the
// dispatch starts. The record is leased for the whole execution, so a reload
// that lands mid-command never tears down the handler under it.
type Dispatcher struct {
	registry *Registry
	auth     Authorizer
	limiter  Limiter
	logger   *slog.Logger
	executed atomic.Int64
}

// NewDispatcher creates a dispatcher reading from registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	d := &Dispatcher{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch executes one invocation. The returned response is always
// renderable: on failure it carries the user-facing failure text and err
// carries the classified cause. Handler errors and panics never escape.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) (resp Response, err error) {
	if inv == nil || inv.Command == "" {
		err = ErrCommandNotFound("", "")
		return FailureResponse(err), err
	}
	command := strings.ToLower(inv.Command)

	ctx, span := tracer.Start(ctx, "cog.dispatch",
		trace.WithAttributes(
			attribute.String("command.name", command),
			attribute.String("command.cog", inv.Cog),
			attribute.String("requester", inv.Requester),
			attribute.String("invocation.id", inv.ID.String()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			resp = FailureResponse(err)
		}
		span.End()
	}()

	if d.limiter != nil && !d.check(ctx, inv.Requester, CapabilityRateLimitBypass) {
		if allowed, cooldownMs := d.limiter.Allow(inv.Requester); !allowed {
			span.SetAttributes(attribute.Int64("command.cooldown_ms", cooldownMs))
			RecordCommandExecution(inv.Cog, command, StatusRateLimited)
			return Response{}, ErrRateLimited(cooldownMs)
		}
	}

	rec, cmd, err := d.resolve(inv.Cog, command)
	if err != nil {
		RecordCommandExecution(inv.Cog, command, StatusNotFound)
		return Response{}, err
	}
	defer rec.release()

	cogName := rec.Name()
	span.SetAttributes(
		attribute.String("command.cog", cogName),
		attribute.String("cog.id", rec.info.ID.String()),
	)

	for _, capability := range cmd.Capabilities {
		if !d.check(ctx, inv.Requester, capability) {
			RecordCommandExecution(cogName, command, StatusPermissionDenied)
			return Response{}, ErrPermissionDenied(command, capability)
		}
	}

	call := *inv
	call.Cog = cogName
	call.Command = cmd.Name

	d.executed.Add(1)
	start := time.Now()
	resp, err = run(ctx, cmd.Run, &call)
	RecordCommandDuration(cogName, command, time.Since(start))
	if err != nil {
		err = ErrHandlerFailed(cogName, command, err)
		RecordCommandExecution(cogName, command, StatusError)
		d.logger.WarnContext(ctx, "command execution failed",
			"cog", cogName,
			"command", command,
			"requester", inv.Requester,
			"error", err)
		return Response{}, err
	}
	RecordCommandExecution(cogName, command, StatusSuccess)
	return resp, nil
}

// Executed returns how many invocations reached a handler.
func (d *Dispatcher) Executed() int64 {
	return d.executed.Load()
}

func (d *Dispatcher) check(ctx context.Context, requester, capability string) bool {
	if d.auth == nil {
		return false
	}
	return d.auth.Check(ctx, requester, capability)
}

// resolve finds the record serving command and leases it. When the record is
// retired between the registry read and the lease, the registry is read again.
func (d *Dispatcher) resolve(cogName, command string) (*Record, *Command, error) {
	for range maxResolveAttempts {
		rec, cmd, err := d.find(cogName, command)
		if err != nil {
			return nil, nil, err
		}
		if rec.acquire() {
			return rec, cmd, nil
		}
	}
	if cogName != "" {
		return nil, nil, ErrNotFound(cogName)
	}
	return nil, nil, ErrCommandNotFound("", command)
}

func (d *Dispatcher) find(cogName, command string) (*Record, *Command, error) {
	if cogName != "" {
		rec, ok := d.registry.lookup(cogName)
		if !ok {
			return nil, nil, ErrNotFound(cogName)
		}
		cmd, ok := rec.command(command)
		if !ok {
			return nil, nil, ErrCommandNotFound(cogName, command)
		}
		return rec, cmd, nil
	}

	for _, rec := range d.registry.records() {
		if cmd, ok := rec.command(command); ok {
			return rec, cmd, nil
		}
	}
	return nil, nil, ErrCommandNotFound("", command)
}

// run calls h and converts a panic into an error.
func run(ctx context.Context, h Handler, inv *Invocation) (resp Response, err error) {
	err = callSafely(func() error {
		var herr error
		resp, herr = h(ctx, inv)
		return herr
	})
	return resp, err
}
