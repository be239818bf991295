// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cogbot/cogbot/internal/config"
	"github.com/cogbot/cogbot/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the cogbot CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cogbot",
		Short: "CogBot - a chat bot built from hot-reloadable cogs",
		Long: `CogBot is a chat bot whose commands live in cogs: compiled-in Go
cogs and Lua cogs discovered from a directory, loaded, unloaded and
reloaded at runtime without a restart.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/cogbot/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read below the process environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCogsCmd())

	return cmd
}

// loadConfig reads the layered configuration for a command. An explicit
// --config file must exist; the XDG default may be absent.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	opts := config.Options{
		File:     configFile,
		Required: configFile != "",
		EnvFile:  envFile,
		Flags:    flags,
	}
	if opts.File == "" {
		if path, err := xdg.ConfigFile(); err == nil {
			opts.File = path
		}
	}
	return config.Load(opts)
}
