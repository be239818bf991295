// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeCog is a configurable cog for tests. Every command replies with the
// cog's tag so tests can tell instances apart.
type fakeCog struct {
	tag       string
	commands  []string
	setupErr  error
	setupHook func(ctx context.Context, b *Builder) error

	teardownErr error
	teardowns   atomic.Int32
}

func (f *fakeCog) Setup(ctx context.Context, b *Builder) error {
	if f.setupHook != nil {
		if err := f.setupHook(ctx, b); err != nil {
			return err
		}
	}
	if f.setupErr != nil {
		return f.setupErr
	}
	for _, name := range f.commands {
		tag := f.tag
		b.Add(Command{
			Name: name,
			Help: "reply with the instance tag",
			Run: func(_ context.Context, _ *Invocation) (Response, error) {
				return Reply(tag), nil
			},
		})
	}
	return nil
}

func (f *fakeCog) Teardown(_ context.Context) error {
	f.teardowns.Add(1)
	return f.teardownErr
}

// generations hands out a new fakeCog on every Resolve and remembers them.
type generations struct {
	mu       sync.Mutex
	built    []*fakeCog
	commands []string
	failOn   map[int]error // construction index -> setup error
}

func newGenerations(commands ...string) *generations {
	return &generations{commands: commands, failOn: map[int]error{}}
}

func (g *generations) factory(name string) Factory {
	return func() (Cog, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		idx := len(g.built)
		c := &fakeCog{
			tag:      name + "#" + strconv.Itoa(idx),
			commands: g.commands,
			setupErr: g.failOn[idx],
		}
		g.built = append(g.built, c)
		return c, nil
	}
}

func (g *generations) failNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failOn[len(g.built)] = err
}

func (g *generations) get(i int) *fakeCog {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.built[i]
}

func (g *generations) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.built)
}

// tickClock returns a clock that advances one second per call.
func tickClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type stack struct {
	registry    *Registry
	loader      *Loader
	coordinator *Coordinator
	dispatcher  *Dispatcher
}

func newStack(t *testing.T, src Source, opts ...CoordinatorOption) *stack {
	t.Helper()
	loader, err := NewLoader([]Source{src}, WithClock(tickClock()), WithTeardownTimeout(time.Second))
	require.NoError(t, err)
	registry := NewRegistry()
	coord, err := NewCoordinator(registry, loader, opts...)
	require.NoError(t, err)
	disp, err := NewDispatcher(registry)
	require.NoError(t, err)
	return &stack{registry: registry, loader: loader, coordinator: coord, dispatcher: disp}
}

// tagOf dispatches command on cogName and returns the replying instance tag.
func (s *stack) tagOf(t *testing.T, cogName, command string) string {
	t.Helper()
	resp, err := s.dispatcher.Dispatch(context.Background(), NewInvocation(cogName, command, "", "tester"))
	require.NoError(t, err)
	return resp.Text
}

var errBoom = errors.New("boom")
