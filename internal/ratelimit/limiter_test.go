// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cogbot/cogbot/internal/cog"
)

var _ cog.Limiter = (*Limiter)(nil)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLimiter(cfg, nil, clock.Now)
	t.Cleanup(l.Close)
	return l, clock
}

func TestNew_Defaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(Config{})
	defer l.Close()

	assert.Equal(t, DefaultBurstCapacity, l.burstCapacity)
	assert.InDelta(t, DefaultSustainedRate, l.sustainedRate, 1e-9)
	assert.Equal(t, DefaultMaxIdle, l.maxIdle)
}

func TestNew_ClampsRate(t *testing.T) {
	l, _ := newTestLimiter(t, Config{SustainedRate: 0.0001, BurstCapacity: -3})
	assert.Equal(t, MinSustainedRate, l.sustainedRate)
	assert.Equal(t, DefaultBurstCapacity, l.burstCapacity)
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(t, Config{BurstCapacity: 3, SustainedRate: 1})

	for i := range 3 {
		allowed, cooldown := l.Allow("u1")
		require.True(t, allowed, "call %d", i)
		assert.Zero(t, cooldown)
	}

	allowed, cooldown := l.Allow("u1")
	assert.False(t, allowed)
	assert.Equal(t, int64(1000), cooldown)
}

func TestLimiter_Refills(t *testing.T) {
	l, clock := newTestLimiter(t, Config{BurstCapacity: 1, SustainedRate: 2})

	allowed, _ := l.Allow("u1")
	require.True(t, allowed)
	allowed, cooldown := l.Allow("u1")
	require.False(t, allowed)
	assert.Equal(t, int64(500), cooldown)

	clock.Advance(500 * time.Millisecond)
	allowed, _ = l.Allow("u1")
	assert.True(t, allowed)
}

func TestLimiter_RequestersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, Config{BurstCapacity: 1, SustainedRate: 1})

	allowed, _ := l.Allow("u1")
	require.True(t, allowed)
	allowed, _ = l.Allow("u1")
	require.False(t, allowed)

	allowed, _ = l.Allow("u2")
	assert.True(t, allowed)
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_CleanupDropsIdle(t *testing.T) {
	l, clock := newTestLimiter(t, Config{})
	l.Allow("old")
	clock.Advance(2 * time.Hour)
	l.Allow("fresh")

	l.Cleanup(time.Hour)

	assert.Equal(t, 1, l.Len())
}

func TestNewWithRegistry_RegistersGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := NewWithRegistry(Config{}, reg)
	defer l.Close()

	l.Allow("u1")
	l.Cleanup(time.Hour)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "cogbot_ratelimiter_requesters", families[0].GetName())
}

func TestLimiter_Concurrency(t *testing.T) {
	l, _ := newTestLimiter(t, Config{BurstCapacity: 100, SustainedRate: 1})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if ok, _ := l.Allow("shared"); ok {
					mu.Lock()
					allowedCount++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowedCount)
}
