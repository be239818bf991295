// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package example

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogbot/cogbot/internal/cog"
	"github.com/cogbot/cogbot/pkg/errutil"
)

type harness struct {
	cog  *Cog
	disp *cog.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := New()
	c.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }
	c.pick = func(int) int { return 1 }

	src := cog.NewStaticSource()
	src.MustRegister(Name, Version, func() (cog.Cog, error) { return c, nil })
	loader, err := cog.NewLoader([]cog.Source{src})
	require.NoError(t, err)
	registry := cog.NewRegistry()
	coord, err := cog.NewCoordinator(registry, loader)
	require.NoError(t, err)
	_, err = coord.Load(context.Background(), Name)
	require.NoError(t, err)
	disp, err := cog.NewDispatcher(registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close(context.Background()) })
	return &harness{cog: c, disp: disp}
}

func (h *harness) run(t *testing.T, user, command, text string) (cog.Response, error) {
	t.Helper()
	return h.disp.Dispatch(context.Background(), cog.NewInvocation("", command, text, user))
}

func (h *harness) text(t *testing.T, user, command, text string) string {
	t.Helper()
	resp, err := h.run(t, user, command, text)
	require.NoError(t, err)
	return resp.Text
}

func TestHello(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "Hello! 👋", h.text(t, "u1", "hello", ""))
	assert.Equal(t, "Hello, Ada! 👋", h.text(t, "u1", "hello", " Ada "))
}

func TestCountQuoteTime(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "🔢 Counter: 1", h.text(t, "u1", "count", ""))
	assert.Equal(t, "🔢 Counter: 2", h.text(t, "u2", "count", ""))
	assert.Contains(t, h.text(t, "u1", "quote", ""), quotes[1])
	assert.Equal(t, "🕐 Current time: 2026-05-06 07:08:09", h.text(t, "u1", "time", ""))
}

func TestUserInfo(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "👤 No user data found.", h.text(t, "u1", "user_info", ""))

	h.text(t, "u1", "hello", "")
	h.text(t, "u1", "count", "")
	resp, err := h.run(t, "u1", "user_info", "show")
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "🆔 ID: u1")
	assert.Contains(t, resp.Text, "📅 First seen: 2026-05-06T07:08:09Z")
	assert.Contains(t, resp.Text, "🔢 Commands run: 2")
	require.NotNil(t, resp.Embed)

	assert.Equal(t, cog.SuccessPrefix+"User data reset.", h.text(t, "u1", "user_info", "reset"))
	assert.Equal(t, cog.FailurePrefix+"No user data to reset.", h.text(t, "u1", "user_info", "reset"))

	resp, err = h.run(t, "u1", "user_info", "explode")
	errutil.AssertErrorCode(t, err, cog.CodeInvalidArgs)
	assert.Equal(t, cog.FailurePrefix+"Usage: user_info [show|reset]", resp.Text)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.text(t, "u1", "count", "")
	h.text(t, "u1", "count", "")
	h.text(t, "u2", "hello", "")

	assert.Equal(t, Stats{Counter: 2, TotalUsers: 2, TotalCommands: 3}, h.cog.Stats())
	assert.Equal(t, "📊 Counter: 2 · Users: 2 · Commands: 4", h.text(t, "u2", "stats", ""))
}

func TestHelpListsCommands(t *testing.T) {
	h := newHarness(t)
	text := h.text(t, "u1", "example_help", "")
	for _, name := range []string{"hello", "count", "quote", "time", "user_info", "stats", "example_help"} {
		assert.Contains(t, text, "`"+name, name)
	}
}
