// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cogbot/cogbot/pkg/errutil"
)

// CommandInfo describes one command of a loaded cog.
type CommandInfo struct {
	Name         string
	Help         string
	Usage        string
	Capabilities []string
}

// Info is an immutable view of a loaded cog. It carries no way to invoke the
// cog; that capability stays with the Dispatcher.
type Info struct {
	ID       ulid.ULID // unique per successful load
	Name     string
	Version  string
	Source   string // kind of the Source that resolved the cog
	LoadedAt time.Time
	Commands []CommandInfo
}

// HasCommand reports whether the cog provides the named command.
func (i Info) HasCommand(name string) bool {
	for _, c := range i.Commands {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Record is a fully initialized cog owned by the Registry.
//
// A record is reference counted. The registry holds one lease for as long as
// the record is published; every dispatch holds one for its whole execution.
// When the registry lets go (replace or remove) the record is retired, and
// the teardown hook runs exactly once when the last lease is released.
type Record struct {
	info     Info
	commands map[string]*Command
	instance Cog

	refs    atomic.Int64
	retired atomic.Bool
	done    chan struct{}

	teardownTimeout time.Duration
	logger          *slog.Logger
}

func newRecord(src string, mod *Module, b *Builder, loadedAt time.Time, teardownTimeout time.Duration, logger *slog.Logger) *Record {
	cmds := make([]CommandInfo, 0, len(b.order))
	for _, name := range b.order {
		c := b.commands[name]
		caps := make([]string, len(c.Capabilities))
		copy(caps, c.Capabilities)
		cmds = append(cmds, CommandInfo{
			Name:         c.Name,
			Help:         c.Help,
			Usage:        c.Usage,
			Capabilities: caps,
		})
	}

	r := &Record{
		info: Info{
			ID:       ulid.Make(),
			Name:     mod.Name,
			Version:  mod.Version,
			Source:   src,
			LoadedAt: loadedAt,
			Commands: cmds,
		},
		commands:        b.commands,
		instance:        mod.Cog,
		done:            make(chan struct{}),
		teardownTimeout: teardownTimeout,
		logger:          logger,
	}
	r.refs.Store(1)
	return r
}

// Name returns the cog name.
func (r *Record) Name() string {
	return r.info.Name
}

// Info returns a copy of the record's metadata.
func (r *Record) Info() Info {
	info := r.info
	info.Commands = make([]CommandInfo, len(r.info.Commands))
	copy(info.Commands, r.info.Commands)
	return info
}

func (r *Record) command(name string) (*Command, bool) {
	c, ok := r.commands[name]
	return c, ok
}

// acquire takes a lease unless the record has already been disposed.
func (r *Record) acquire() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a dispatch lease. When it was the last one the record is
// disposed in the background, so the reply does not wait for teardown.
func (r *Record) release() {
	r.drop(true)
}

// retire drops the registry's lease. It is idempotent and returns a channel
// that closes once teardown has finished.
func (r *Record) retire() <-chan struct{} {
	if r.retired.CompareAndSwap(false, true) {
		r.drop(false)
	}
	return r.done
}

func (r *Record) drop(background bool) {
	n := r.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("cog: record %s released more often than acquired", r.info.Name))
	}
	if n > 0 {
		return
	}
	if background {
		go r.dispose()
		return
	}
	r.dispose()
}

// Done closes once the record has been torn down.
func (r *Record) Done() <-chan struct{} {
	return r.done
}

func (r *Record) dispose() {
	defer close(r.done)

	start := time.Now()
	err := teardownInstance(r.info.Name, r.instance, r.teardownTimeout)
	if err != nil {
		errutil.LogError(r.logger, "cog teardown failed", err)
		RecordLifecycle(OpTeardown, StatusError)
		return
	}
	RecordLifecycle(OpTeardown, StatusSuccess)
	r.logger.Debug("cog torn down",
		"cog", r.info.Name,
		"id", r.info.ID.String(),
		"duration", time.Since(start))
}

// teardownInstance runs the optional teardown hook of c, bounded by timeout.
// Panics are converted to errors. A hook that outlives the timeout keeps
// running in the background; the caller is not held up by it.
func teardownInstance(name string, c Cog, timeout time.Duration) error {
	td, ok := c.(Teardowner)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- callSafely(func() error { return td.Teardown(ctx) })
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return ErrTeardown(name, err)
		}
		return nil
	case <-ctx.Done():
		return ErrTeardown(name, ErrTimeout(name, OpTeardown, timeout))
	}
}

// callSafely runs fn and converts a panic into an error.
func callSafely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
