// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package general provides the ping, help and status commands.
package general

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cogbot/cogbot/internal/cog"
)

// Cog identity.
const (
	Name    = "general"
	Version = "1.0.0"
)

// Status is the bot state reported by the status command.
type Status struct {
	Version  string
	Started  time.Time
	Executed int64 // invocations that reached a handler
}

// Host provides what the general commands report on.
type Host interface {
	Status() Status
	Snapshot() []cog.Info
}

// Register adds the general cog to src.
func Register(src *cog.StaticSource, host Host) error {
	return src.Register(Name, Version, func() (cog.Cog, error) {
		return New(host), nil
	})
}

// Cog implements the general commands.
type Cog struct {
	host Host
	now  func() time.Time
}

// New creates the general cog.
func New(host Host) *Cog {
	return &Cog{host: host, now: time.Now}
}

// Setup implements cog.Cog.
func (c *Cog) Setup(_ context.Context, b *cog.Builder) error {
	b.Add(cog.Command{Name: "ping", Help: "Check that the bot responds", Usage: "ping", Run: c.ping})
	b.Add(cog.Command{Name: "help", Help: "List the available commands", Usage: "help [cog]", Run: c.help})
	b.Add(cog.Command{Name: "status", Help: "Show uptime and statistics", Usage: "status", Run: c.status})
	return nil
}

func (c *Cog) ping(context.Context, *cog.Invocation) (cog.Response, error) {
	return cog.Reply("🏓 Pong! The bot is up and running."), nil
}

// help lists the commands of every loaded cog, or of one cog when named.
func (c *Cog) help(_ context.Context, inv *cog.Invocation) (cog.Response, error) {
	only := strings.TrimSpace(inv.Text)
	var b strings.Builder
	b.WriteString("📚 **Available commands**\n")

	found := false
	for _, info := range c.host.Snapshot() {
		if only != "" && info.Name != only {
			continue
		}
		found = true
		fmt.Fprintf(&b, "\n**%s**\n", info.Name)
		for _, cmd := range info.Commands {
			fmt.Fprintf(&b, "🔹 `%s`", cmd.Usage)
			if cmd.Help != "" {
				b.WriteString(" - " + cmd.Help)
			}
			if len(cmd.Capabilities) > 0 {
				b.WriteString(" 🔒")
			}
			b.WriteString("\n")
		}
	}
	if only != "" && !found {
		return cog.Response{}, cog.ErrNotLoaded(only)
	}
	b.WriteString("\nFor admin commands see `admin_help`.")
	return cog.Reply(b.String()), nil
}

func (c *Cog) status(context.Context, *cog.Invocation) (cog.Response, error) {
	st := c.host.Status()
	infos := c.host.Snapshot()
	commands := 0
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		commands += len(info.Commands)
		names = append(names, info.Name)
	}
	sort.Strings(names)

	uptime := FormatUptime(c.now().Sub(st.Started))
	text := fmt.Sprintf("📊 **Bot status**\n\n"+
		"🟢 **State**: running\n"+
		"⏰ **Uptime**: %s\n"+
		"📈 **Commands executed**: %d\n"+
		"🔧 **Version**: %s", uptime, st.Executed, st.Version)

	resp := cog.Reply(text)
	resp.Embed = cog.NewEmbed("Bot status", "running", "good",
		cog.Field{Title: "Uptime", Value: uptime, Short: true},
		cog.Field{Title: "Executed", Value: fmt.Sprint(st.Executed), Short: true},
		cog.Field{Title: "Cogs", Value: strings.Join(names, ", "), Short: false},
		cog.Field{Title: "Commands", Value: fmt.Sprint(commands), Short: true},
		cog.Field{Title: "Version", Value: st.Version, Short: true},
	)
	return resp, nil
}

// FormatUptime renders d as "Nd Nh Nm", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
