// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package example is a sample cog showing per-instance state, arguments and
// structured replies. Its state lives in the instance and resets on reload.
package example

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cogbot/cogbot/internal/cog"
)

// Cog identity.
const (
	Name    = "example"
	Version = "1.0.0"
)

var quotes = []string{
	"Persistence is power.",
	"Fall seven times, stand up eight.",
	"Dust piled up becomes a mountain.",
	"A journey of a thousand miles begins with a single step.",
	"No genius beats hard work.",
}

// Register adds the example cog to src.
func Register(src *cog.StaticSource) error {
	return src.Register(Name, Version, func() (cog.Cog, error) {
		return New(), nil
	})
}

type userData struct {
	firstSeen time.Time
	commands  int
}

// Stats summarizes the cog's state.
type Stats struct {
	Counter       int
	TotalUsers    int
	TotalCommands int
}

// Cog implements the example commands.
type Cog struct {
	now  func() time.Time
	pick func(n int) int

	mu      sync.Mutex
	counter int
	users   map[string]*userData
}

// New creates the example cog.
func New() *Cog {
	return &Cog{
		now:   time.Now,
		pick:  rand.IntN,
		users: make(map[string]*userData),
	}
}

// Setup implements cog.Cog.
func (c *Cog) Setup(_ context.Context, b *cog.Builder) error {
	b.Add(cog.Command{Name: "hello", Help: "Say hello", Usage: "hello [name]", Run: c.tracked(c.hello)})
	b.Add(cog.Command{Name: "count", Help: "Increment the counter", Usage: "count", Run: c.tracked(c.count)})
	b.Add(cog.Command{Name: "quote", Help: "Show a random quote", Usage: "quote", Run: c.tracked(c.quote)})
	b.Add(cog.Command{Name: "time", Help: "Show the current time", Usage: "time", Run: c.tracked(c.currentTime)})
	b.Add(cog.Command{Name: "user_info", Help: "Show or reset your usage data", Usage: "user_info [show|reset]", Run: c.userInfo})
	b.Add(cog.Command{Name: "stats", Help: "Show example cog statistics", Usage: "stats", Run: c.tracked(c.stats)})
	b.Add(cog.Command{Name: "example_help", Help: "Show the example commands", Usage: "example_help", Run: c.help})
	return nil
}

// tracked records the requester's activity before running h.
func (c *Cog) tracked(h cog.Handler) cog.Handler {
	return func(ctx context.Context, inv *cog.Invocation) (cog.Response, error) {
		c.track(inv.Requester)
		return h(ctx, inv)
	}
}

func (c *Cog) track(user string) {
	if user == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[user]
	if !ok {
		u = &userData{firstSeen: c.now()}
		c.users[user] = u
	}
	u.commands++
}

func (c *Cog) hello(_ context.Context, inv *cog.Invocation) (cog.Response, error) {
	name := inv.Arg("name", strings.TrimSpace(inv.Text))
	if name == "" {
		return cog.Reply("Hello! 👋"), nil
	}
	return cog.Reply(fmt.Sprintf("Hello, %s! 👋", name)), nil
}

func (c *Cog) count(context.Context, *cog.Invocation) (cog.Response, error) {
	c.mu.Lock()
	c.counter++
	n := c.counter
	c.mu.Unlock()
	return cog.Reply(fmt.Sprintf("🔢 Counter: %d", n)), nil
}

func (c *Cog) quote(context.Context, *cog.Invocation) (cog.Response, error) {
	q := quotes[c.pick(len(quotes))]
	return cog.Reply(fmt.Sprintf("💭 **Quote of the day**\n\n*%s*", q)), nil
}

func (c *Cog) currentTime(context.Context, *cog.Invocation) (cog.Response, error) {
	return cog.Reply("🕐 Current time: " + c.now().Format("2006-01-02 15:04:05")), nil
}

func (c *Cog) userInfo(_ context.Context, inv *cog.Invocation) (cog.Response, error) {
	action := inv.Arg("action", strings.TrimSpace(inv.Text))
	if action == "" {
		action = "show"
	}
	user := inv.Requester

	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[user]

	switch action {
	case "show":
		if !ok {
			return cog.Reply("👤 No user data found."), nil
		}
		text := fmt.Sprintf("👤 **User info**\n\n🆔 ID: %s\n📅 First seen: %s\n🔢 Commands run: %d",
			user, u.firstSeen.Format(time.RFC3339), u.commands)
		resp := cog.Reply(text)
		resp.Embed = cog.NewEmbed("User info", user, "good",
			cog.Field{Title: "First seen", Value: u.firstSeen.Format(time.RFC3339), Short: true},
			cog.Field{Title: "Commands run", Value: fmt.Sprint(u.commands), Short: true},
		)
		return resp, nil
	case "reset":
		if !ok {
			return cog.Failure("No user data to reset."), nil
		}
		delete(c.users, user)
		return cog.Success("User data reset."), nil
	default:
		return cog.Response{}, cog.ErrInvalidArgs("user_info", "user_info [show|reset]")
	}
}

// Stats returns the cog's counters.
func (c *Cog) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Counter: c.counter, TotalUsers: len(c.users)}
	for _, u := range c.users {
		s.TotalCommands += u.commands
	}
	return s
}

func (c *Cog) stats(context.Context, *cog.Invocation) (cog.Response, error) {
	s := c.Stats()
	resp := cog.Reply(fmt.Sprintf("📊 Counter: %d · Users: %d · Commands: %d", s.Counter, s.TotalUsers, s.TotalCommands))
	resp.Embed = cog.NewEmbed("Example stats", "", "good",
		cog.Field{Title: "Counter", Value: fmt.Sprint(s.Counter), Short: true},
		cog.Field{Title: "Users", Value: fmt.Sprint(s.TotalUsers), Short: true},
		cog.Field{Title: "Commands", Value: fmt.Sprint(s.TotalCommands), Short: true},
	)
	return resp, nil
}

const helpText = `🎯 **Example commands**

👋 ` + "`hello [name]`" + ` - Say hello
🔢 ` + "`count`" + ` - Increment the counter
💭 ` + "`quote`" + ` - Show a random quote
🕐 ` + "`time`" + ` - Show the current time
👤 ` + "`user_info [show|reset]`" + ` - Show or reset your usage data
📊 ` + "`stats`" + ` - Show example cog statistics
❓ ` + "`example_help`" + ` - Show this help

These are samples; adapt them for real use.`

func (c *Cog) help(context.Context, *cog.Invocation) (cog.Response, error) {
	return cog.Reply(helpText), nil
}
