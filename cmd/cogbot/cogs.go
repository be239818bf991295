// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cogbot/cogbot/internal/bot"
	"github.com/cogbot/cogbot/internal/cog"
	"github.com/cogbot/cogbot/internal/cog/lua"
	"github.com/cogbot/cogbot/internal/xdg"
)

const scaffoldScript = `-- %s cog

cog.command{
  name = "%s",
  help = "Say hello",
  usage = "%s [name]",
  run = function(ctx)
    local who = ctx.words[1] or ctx.user
    return "Hello, " .. who .. "!"
  end,
}
`

// NewCogsCmd creates the cogs subcommand.
func NewCogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cogs",
		Short: "Inspect and validate cogs",
	}
	cmd.PersistentFlags().String("cogs-dir", "cogs", "directory of Lua cogs")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the cogs the bot can load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCogsList(cmd.Context(), cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the Lua cogs in the cogs directory",
		Long: `Validate every Lua cog in the cogs directory: the cog.yaml manifest
against the manifest schema and its own rules, then the entry script
compiles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCogsValidate(cmd.Context(), cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init <name>",
		Short: "Create a new Lua cog in the cogs directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCogsInit(cmd, args[0])
		},
	})
	return cmd
}

func runCogsList(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	b, err := bot.New(cfg, bot.WithVersion(version))
	if err != nil {
		return err
	}
	defer func() { _ = b.Close(ctx) }()

	names, err := b.Coordinator().Available(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		cmd.Println(name)
	}
	return nil
}

func runCogsValidate(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	src := lua.NewSource(cfg.Cogs.Dir, lua.WithBotVersion(version))
	entries, err := src.Scan(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		cmd.Printf("no cogs in %s\n", src.Dir())
		return nil
	}

	failed := 0
	for _, e := range entries {
		if err := validateEntry(ctx, src, e); err != nil {
			failed++
			cmd.Printf("FAIL %s: %v\n", filepath.Base(e.Dir), err)
			continue
		}
		cmd.Printf("ok   %s (v%s)\n", e.Manifest.Name, e.Manifest.Version)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cogs failed validation", failed, len(entries))
	}
	return nil
}

func validateEntry(ctx context.Context, src *lua.Source, e lua.Entry) error {
	data, err := os.ReadFile(filepath.Join(e.Dir, lua.ManifestFile))
	if err != nil {
		return err
	}
	if err := lua.ValidateSchema(data); err != nil {
		return err
	}
	if e.Err != nil {
		return e.Err
	}
	_, err = src.Resolve(ctx, e.Manifest.Name)
	return err
}

func runCogsInit(cmd *cobra.Command, name string) error {
	if err := cog.ValidateCogName(name); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	dir := filepath.Join(cfg.Cogs.Dir, name)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s already exists", dir)
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return err
	}

	manifest := fmt.Sprintf("name: %s\nversion: 0.1.0\ndescription: %s cog\nentry: %s\n", name, name, lua.DefaultEntry)
	if err := os.WriteFile(filepath.Join(dir, lua.ManifestFile), []byte(manifest), 0o600); err != nil {
		return err
	}
	script := fmt.Sprintf(scaffoldScript, name, name, name)
	if err := os.WriteFile(filepath.Join(dir, lua.DefaultEntry), []byte(script), 0o600); err != nil {
		return err
	}
	cmd.Printf("created %s\n", dir)
	return nil
}
