// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package admin provides the cog management commands.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/cogbot/cogbot/internal/cog"
)

// Cog identity.
const (
	Name    = "admin"
	Version = "1.0.0"
)

// Capabilities required by the admin commands.
const (
	CapabilityReload = "cogs.admin.reload"
	CapabilityLoad   = "cogs.admin.load"
	CapabilityUnload = "cogs.admin.unload"
	CapabilityList   = "cogs.admin.list"
	CapabilityHelp   = "cogs.admin.help"
)

// Manager is the lifecycle surface the admin commands drive.
type Manager interface {
	Load(ctx context.Context, name string) (cog.Info, error)
	Unload(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) (cog.Info, error)
	ReloadAll(ctx context.Context) cog.Report
	Available(ctx context.Context) ([]string, error)
	Registry() *cog.Registry
}

// Register adds the admin cog to src.
func Register(src *cog.StaticSource, m Manager) error {
	return src.Register(Name, Version, func() (cog.Cog, error) {
		return New(m), nil
	})
}

// Cog implements the admin commands.
type Cog struct {
	manager Manager
}

// New creates the admin cog.
func New(m Manager) *Cog {
	return &Cog{manager: m}
}

// Setup implements cog.Cog.
func (c *Cog) Setup(_ context.Context, b *cog.Builder) error {
	b.Add(cog.Command{
		Name:         "reload",
		Help:         "Reload a cog, or every loaded cog when no name is given",
		Usage:        "reload [cog]",
		Capabilities: []string{CapabilityReload},
		Run:          c.reload,
	})
	b.Add(cog.Command{
		Name:         "load",
		Help:         "Load a cog",
		Usage:        "load <cog>",
		Capabilities: []string{CapabilityLoad},
		Run:          c.load,
	})
	b.Add(cog.Command{
		Name:         "unload",
		Help:         "Unload a cog",
		Usage:        "unload <cog>",
		Capabilities: []string{CapabilityUnload},
		Run:          c.unload,
	})
	b.Add(cog.Command{
		Name:         "list_cogs",
		Help:         "List loaded cogs",
		Usage:        "list_cogs",
		Capabilities: []string{CapabilityList},
		Run:          c.listCogs,
	})
	b.Add(cog.Command{
		Name:         "available",
		Help:         "List cogs that can be loaded",
		Usage:        "available",
		Capabilities: []string{CapabilityList},
		Run:          c.available,
	})
	b.Add(cog.Command{
		Name:         "admin_help",
		Help:         "Show the admin commands",
		Usage:        "admin_help",
		Capabilities: []string{CapabilityHelp},
		Run:          c.help,
	})
	return nil
}

// target returns the single cog name argument, if any.
func target(inv *cog.Invocation) string {
	if name := inv.Arg("cog", ""); name != "" {
		return name
	}
	fields := strings.Fields(inv.Text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (c *Cog) reload(ctx context.Context, inv *cog.Invocation) (cog.Response, error) {
	name := target(inv)
	if name != "" {
		info, err := c.manager.Reload(ctx, name)
		if err != nil {
			return cog.Response{}, err
		}
		return cog.Success(fmt.Sprintf("Cog `%s` reloaded (v%s).", info.Name, info.Version)), nil
	}

	report := c.manager.ReloadAll(ctx)
	if report.OK() {
		return cog.Success(fmt.Sprintf("Reloaded %d cogs.", report.Succeeded)), nil
	}
	lines := make([]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		lines = append(lines, fmt.Sprintf("• `%s`: %s", f.Name, cog.UserMessage(f.Err)))
	}
	return cog.Failure(fmt.Sprintf("Reloaded %d cogs, %d failed:\n%s",
		report.Succeeded, len(report.Failures), strings.Join(lines, "\n"))), nil
}

func (c *Cog) load(ctx context.Context, inv *cog.Invocation) (cog.Response, error) {
	name := target(inv)
	if name == "" {
		return cog.Response{}, cog.ErrInvalidArgs("load", "load <cog>")
	}
	info, err := c.manager.Load(ctx, name)
	if err != nil {
		return cog.Response{}, err
	}
	return cog.Success(fmt.Sprintf("Cog `%s` loaded (v%s, %d commands).", info.Name, info.Version, len(info.Commands))), nil
}

func (c *Cog) unload(ctx context.Context, inv *cog.Invocation) (cog.Response, error) {
	name := target(inv)
	if name == "" {
		return cog.Response{}, cog.ErrInvalidArgs("unload", "unload <cog>")
	}
	if err := c.manager.Unload(ctx, name); err != nil {
		return cog.Response{}, err
	}
	return cog.Success(fmt.Sprintf("Cog `%s` unloaded.", name)), nil
}

func (c *Cog) listCogs(_ context.Context, _ *cog.Invocation) (cog.Response, error) {
	infos := c.manager.Registry().Snapshot()
	if len(infos) == 0 {
		return cog.Reply("📝 No cogs are loaded."), nil
	}

	lines := make([]string, 0, len(infos))
	fields := make([]cog.Field, 0, len(infos))
	for _, info := range infos {
		lines = append(lines, "🔹 "+info.Name)
		fields = append(fields, cog.Field{
			Title: info.Name,
			Value: fmt.Sprintf("v%s · %s · %d commands", info.Version, info.Source, len(info.Commands)),
			Short: true,
		})
	}
	resp := cog.Reply("📚 **Loaded cogs**\n\n" + strings.Join(lines, "\n"))
	resp.Embed = cog.NewEmbed("Loaded cogs", fmt.Sprintf("%d loaded", len(infos)), "good", fields...)
	return resp, nil
}

func (c *Cog) available(ctx context.Context, _ *cog.Invocation) (cog.Response, error) {
	names, err := c.manager.Available(ctx)
	if err != nil {
		return cog.Response{}, err
	}
	if len(names) == 0 {
		return cog.Reply("📝 No cogs are available."), nil
	}
	registry := c.manager.Registry()
	lines := make([]string, 0, len(names))
	for _, name := range names {
		mark := "▫️"
		if registry.Has(name) {
			mark = "🔹"
		}
		lines = append(lines, mark+" "+name)
	}
	return cog.Reply("📦 **Available cogs** (🔹 loaded)\n\n" + strings.Join(lines, "\n")), nil
}

const helpText = `🛠️ **Admin commands**

🔄 ` + "`reload [cog]`" + ` - Reload a cog (all loaded cogs when omitted)
📥 ` + "`load <cog>`" + ` - Load a cog
📤 ` + "`unload <cog>`" + ` - Unload a cog
📚 ` + "`list_cogs`" + ` - List loaded cogs
📦 ` + "`available`" + ` - List cogs that can be loaded
❓ ` + "`admin_help`" + ` - Show this help

⚠️ These commands require admin permissions.`

func (c *Cog) help(context.Context, *cog.Invocation) (cog.Response, error) {
	return cog.Reply(helpText), nil
}
