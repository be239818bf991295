// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/cogbot/cogbot/pkg/errutil"
)

func TestNewCoordinator_Validation(t *testing.T) {
	loader, err := NewLoader([]Source{NewStaticSource()})
	require.NoError(t, err)

	_, err = NewCoordinator(nil, loader)
	assert.ErrorIs(t, err, ErrNilRegistry)
	_, err = NewCoordinator(NewRegistry(), nil)
	assert.ErrorIs(t, err, ErrNilLoader)
}

func TestCoordinator_LifecycleScenario(t *testing.T) {
	ctx := context.Background()
	gens := newGenerations("ping")
	src := NewStaticSource()
	src.MustRegister("general", "1.0.0", gens.factory("general"))
	s := newStack(t, src)

	assert.Empty(t, s.registry.Names())

	first, err := s.coordinator.Load(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"general"}, s.registry.Names())

	_, err = s.coordinator.Load(ctx, "general")
	errutil.AssertErrorCode(t, err, CodeAlreadyLoaded)
	assert.Equal(t, []string{"general"}, s.registry.Names())
	assert.Equal(t, 1, gens.count(), "a rejected load must not construct the cog")

	second, err := s.coordinator.Reload(ctx, "general")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.LoadedAt.After(first.LoadedAt))
	assert.Equal(t, int32(1), gens.get(0).teardowns.Load())

	require.NoError(t, s.coordinator.Unload(ctx, "general"))
	assert.Empty(t, s.registry.Names())
	assert.Equal(t, int32(1), gens.get(1).teardowns.Load())
}

func TestCoordinator_ReloadAllScenario(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource()
	gens := map[string]*generations{}
	for _, name := range []string{"general", "admin", "example"} {
		gens[name] = newGenerations(name + "cmd")
		src.MustRegister(name, "1.0.0", gens[name].factory(name))
	}
	s := newStack(t, src)

	report := s.coordinator.LoadAll(ctx, []string{"general", "admin", "example"})
	require.True(t, report.OK())
	require.Equal(t, 3, report.Succeeded)

	gens["admin"].failNext(errBoom)
	report = s.coordinator.ReloadAll(ctx)

	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "admin", report.Failures[0].Name)
	errutil.AssertErrorCode(t, report.Failures[0].Err, CodeInitError)

	assert.Equal(t, "admin#0", s.tagOf(t, "admin", "admincmd"))
	assert.Equal(t, "general#1", s.tagOf(t, "general", "generalcmd"))
	assert.Equal(t, "example#1", s.tagOf(t, "example", "examplecmd"))
	assert.Equal(t, []string{"general", "admin", "example"}, s.registry.Names())
}

func TestCoordinator_ReloadAbsentLoads(t *testing.T) {
	src := NewStaticSource()
	src.MustRegister("general", "1.0.0", newGenerations("ping").factory("general"))
	s := newStack(t, src)

	_, err := s.coordinator.Reload(context.Background(), "general")
	require.NoError(t, err)
	assert.True(t, s.registry.Has("general"))
}

func TestCoordinator_FailedLoadLeavesRegistryUntouched(t *testing.T) {
	src := NewStaticSource()
	src.MustRegister("broken", "1.0.0", func() (Cog, error) { return &fakeCog{setupErr: errBoom}, nil })
	s := newStack(t, src)

	_, err := s.coordinator.Load(context.Background(), "broken")
	errutil.AssertErrorCode(t, err, CodeInitError)
	assert.False(t, s.registry.Has("broken"))

	_, err = s.coordinator.Load(context.Background(), "missing")
	errutil.AssertErrorCode(t, err, CodeNotFound)
	assert.Zero(t, s.registry.Len())
}

func TestCoordinator_UnloadAbsentIsNotLoaded(t *testing.T) {
	gens := newGenerations("ping")
	src := NewStaticSource()
	src.MustRegister("general", "1.0.0", gens.factory("general"))
	s := newStack(t, src)
	ctx := context.Background()

	err := s.coordinator.Unload(ctx, "general")
	errutil.AssertErrorCode(t, err, CodeNotLoaded)

	_, err = s.coordinator.Load(ctx, "general")
	require.NoError(t, err)
	require.NoError(t, s.coordinator.Unload(ctx, "general"))
	errutil.AssertErrorCode(t, s.coordinator.Unload(ctx, "general"), CodeNotLoaded)

	assert.Equal(t, int32(1), gens.get(0).teardowns.Load())
}

func TestCoordinator_PinnedCogRefusesUnload(t *testing.T) {
	src := NewStaticSource()
	src.MustRegister("admin", "1.0.0", newGenerations("reload").factory("admin"))
	s := newStack(t, src, WithPinned("admin"))
	ctx := context.Background()

	_, err := s.coordinator.Load(ctx, "admin")
	require.NoError(t, err)

	errutil.AssertErrorCode(t, s.coordinator.Unload(ctx, "admin"), CodePinned)
	assert.True(t, s.registry.Has("admin"))
	assert.True(t, s.coordinator.Pinned("admin"))

	_, err = s.coordinator.Reload(ctx, "admin")
	assert.NoError(t, err)
}

func TestCoordinator_TeardownErrorDoesNotBlockUnload(t *testing.T) {
	src := NewStaticSource()
	src.MustRegister("general", "1.0.0", func() (Cog, error) {
		return &fakeCog{commands: []string{"ping"}, teardownErr: errBoom}, nil
	})
	s := newStack(t, src)
	ctx := context.Background()

	_, err := s.coordinator.Load(ctx, "general")
	require.NoError(t, err)
	require.NoError(t, s.coordinator.Unload(ctx, "general"))
	assert.False(t, s.registry.Has("general"))
}

func TestCoordinator_LoadTimeoutPreservesPriorState(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var mu sync.Mutex
	var hung *fakeCog
	calls := 0
	src := NewStaticSource()
	src.MustRegister("general", "1.0.0", func() (Cog, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		c := &fakeCog{tag: "v1", commands: []string{"ping"}}
		if calls > 1 {
			c.tag = "v2"
			c.setupHook = func(context.Context, *Builder) error {
				<-release // ignores cancellation on purpose
				return nil
			}
			hung = c
		}
		return c, nil
	})
	s := newStack(t, src, WithLoadTimeout(30*time.Millisecond))
	ctx := context.Background()

	_, err := s.coordinator.Load(ctx, "general")
	require.NoError(t, err)

	_, err = s.coordinator.Reload(ctx, "general")
	errutil.AssertErrorCode(t, err, CodeTimeout)
	assert.Equal(t, "v1", s.tagOf(t, "general", "ping"))

	close(release)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hung.teardowns.Load() == 1
	}, time.Second, 5*time.Millisecond, "late load result must be torn down")
	assert.Equal(t, "v1", s.tagOf(t, "general", "ping"))
}

func TestCoordinator_CallerDeadlineBoundsLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := NewStaticSource()
	src.MustRegister("slow", "1.0.0", func() (Cog, error) {
		return &fakeCog{
			commands: []string{"ping"},
			setupHook: func(ctx context.Context, _ *Builder) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}, nil
	})
	s := newStack(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.coordinator.Load(ctx, "slow")
	errutil.AssertErrorCode(t, err, CodeTimeout)
	assert.False(t, s.registry.Has("slow"))
}

func TestCoordinator_SameNameOperationsSerialize(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	gens := newGenerations("ping")
	src := NewStaticSource()
	src.MustRegister("x", "1.0.0", func() (Cog, error) {
		c, err := gens.factory("x")()
		if gens.count() == 2 {
			c.(*fakeCog).setupHook = func(context.Context, *Builder) error {
				entered <- struct{}{}
				<-gate
				return nil
			}
		}
		return c, err
	})
	s := newStack(t, src)
	ctx := context.Background()
	_, err := s.coordinator.Load(ctx, "x")
	require.NoError(t, err)

	reloadDone := make(chan error, 1)
	go func() {
		_, err := s.coordinator.Reload(ctx, "x")
		reloadDone <- err
	}()
	<-entered

	unloadDone := make(chan error, 1)
	go func() { unloadDone <- s.coordinator.Unload(ctx, "x") }()

	select {
	case <-unloadDone:
		t.Fatal("unload ran while reload held the name")
	case <-time.After(30 * time.Millisecond):
	}
	assert.True(t, s.registry.Has("x"))

	close(gate)
	require.NoError(t, <-reloadDone)
	require.NoError(t, <-unloadDone)

	assert.False(t, s.registry.Has("x"))
	assert.Equal(t, int32(1), gens.get(0).teardowns.Load())
	assert.Equal(t, int32(1), gens.get(1).teardowns.Load())
	assert.Zero(t, s.coordinator.locks.size())
}

func TestCoordinator_DifferentNamesAreIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	src := NewStaticSource()
	src.MustRegister("slow", "1.0.0", func() (Cog, error) {
		return &fakeCog{commands: []string{"a"}, setupHook: func(context.Context, *Builder) error {
			entered <- struct{}{}
			<-gate
			return nil
		}}, nil
	})
	yGens := newGenerations("b")
	src.MustRegister("y", "1.0.0", yGens.factory("y"))
	s := newStack(t, src)
	ctx := context.Background()

	_, err := s.coordinator.Load(ctx, "y")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.coordinator.Load(ctx, "slow")
		done <- err
	}()
	<-entered

	yGens.failNext(errBoom)
	_, err = s.coordinator.Reload(ctx, "y")
	errutil.AssertErrorCode(t, err, CodeInitError)
	assert.Equal(t, "y#0", s.tagOf(t, "y", "b"))

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"y", "slow"}, s.registry.Names())
}

func TestCoordinator_ReloadAllReportsCogsUnloadedMeanwhile(t *testing.T) {
	src := NewStaticSource()
	src.MustRegister("a", "1.0.0", newGenerations("x").factory("a"))
	bGens := newGenerations("y")
	src.MustRegister("b", "1.0.0", bGens.factory("b"))
	s := newStack(t, src)
	ctx := context.Background()

	s.coordinator.LoadAll(ctx, []string{"a", "b"})
	require.NoError(t, s.coordinator.Unload(ctx, "b"))

	// Simulate a snapshot taken before the unload.
	_, err := s.coordinator.reloadLoaded(ctx, "b")
	errutil.AssertErrorCode(t, err, CodeNotLoaded)
	assert.Equal(t, 1, bGens.count())
}

func TestCoordinator_LoadAllSkipsDuplicatesAndReportsFailures(t *testing.T) {
	src := NewStaticSource()
	src.MustRegister("general", "1.0.0", newGenerations("ping").factory("general"))
	s := newStack(t, src)

	report := s.coordinator.LoadAll(context.Background(), []string{"general", "general", "missing"})

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"missing"}, report.FailedNames())
	assert.False(t, report.OK())
}

func TestCoordinator_CloseUnloadsInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	src := NewStaticSource()
	for _, name := range []string{"admin", "general", "example"} {
		src.MustRegister(name, "1.0.0", func() (Cog, error) {
			return &orderedTeardown{name: name, mu: &mu, order: &order}, nil
		})
	}
	s := newStack(t, src, WithPinned("admin"))
	ctx := context.Background()
	s.coordinator.LoadAll(ctx, []string{"admin", "general", "example"})

	require.NoError(t, s.coordinator.Close(ctx))

	assert.Zero(t, s.registry.Len())
	assert.Equal(t, []string{"example", "general", "admin"}, order)
}

type orderedTeardown struct {
	name  string
	mu    *sync.Mutex
	order *[]string
}

func (o *orderedTeardown) Setup(_ context.Context, b *Builder) error {
	b.Add(Command{Name: o.name + "cmd", Run: noopHandler})
	return nil
}

func (o *orderedTeardown) Teardown(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.order = append(*o.order, o.name)
	return nil
}

func TestCoordinator_Available(t *testing.T) {
	src := NewStaticSource()
	src.MustRegister("general", "1.0.0", newGenerations("ping").factory("general"))
	s := newStack(t, src)

	names, err := s.coordinator.Available(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"general"}, names)
}

// A failed reload never changes which instance serves the cog.
func TestCoordinator_AtomicReplaceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gens := newGenerations("ping")
		src := NewStaticSource()
		src.MustRegister("x", "1.0.0", gens.factory("x"))
		loader, err := NewLoader([]Source{src})
		if err != nil {
			rt.Fatalf("loader: %v", err)
		}
		registry := NewRegistry()
		coord, err := NewCoordinator(registry, loader)
		if err != nil {
			rt.Fatalf("coordinator: %v", err)
		}
		ctx := context.Background()
		if _, err := coord.Load(ctx, "x"); err != nil {
			rt.Fatalf("initial load: %v", err)
		}

		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 20).Draw(rt, "reload succeeds")
		for i, ok := range outcomes {
			before, _ := registry.lookup("x")
			if !ok {
				gens.failNext(errBoom)
			}
			_, err := coord.Reload(ctx, "x")
			after, _ := registry.lookup("x")

			if ok {
				if err != nil {
					rt.Fatalf("reload %d: unexpected error %v", i, err)
				}
				if after == before {
					rt.Fatalf("reload %d: record not replaced", i)
				}
				if !isClosed(before.Done()) {
					rt.Fatalf("reload %d: replaced record not torn down", i)
				}
				continue
			}
			if err == nil {
				rt.Fatalf("reload %d: expected failure", i)
			}
			if after != before {
				rt.Fatalf("reload %d: failed reload replaced the record", i)
			}
			if isClosed(after.Done()) {
				rt.Fatalf("reload %d: serving record was torn down", i)
			}
		}
	})
}
