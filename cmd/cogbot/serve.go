// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cogbot/cogbot/internal/bot"
	"github.com/cogbot/cogbot/internal/cog"
	"github.com/cogbot/cogbot/internal/config"
	"github.com/cogbot/cogbot/internal/logging"
	"github.com/cogbot/cogbot/internal/observability"
	"github.com/cogbot/cogbot/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long: `Run the bot on the configured transport: the console (stdin/stdout),
a websocket endpoint or a telnet line server. Autoloads the configured
cogs and every Lua cog found in the cogs directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	f := cmd.Flags()
	f.String("transport", config.TransportConsole, "transport: console, websocket or telnet")
	f.String("host", "localhost", "websocket/telnet listen host")
	f.Int("port", 3000, "websocket/telnet listen port")
	f.Bool("debug", false, "debug mode (forces log level debug)")
	f.StringSlice("admins", nil, "requesters granted the admin role")
	f.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	f.Int("workers", 16, "maximum commands handled at once")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "text", "log format: json or text")
	f.String("log-file", "", "append logs to this file as well as stderr")
	f.String("cogs-dir", "cogs", "directory of Lua cogs")
	f.StringSlice("autoload", nil, "cogs loaded at startup")
	f.Bool("hot-reload", false, "reload Lua cogs when their files change")
	f.Duration("load-timeout", 30*time.Second, "bound on a single cog load")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := logging.New("cogbot", version, logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var b *bot.Bot
	var metrics *observability.Metrics
	var reg prometheus.Registerer
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			return b != nil && b.Ready()
		}, cog.RegisterMetrics)
		metrics = obsServer.Metrics()
		reg = obsServer.Registerer()
	}

	opts := []bot.Option{
		bot.WithVersion(version),
		bot.WithLogger(logger),
		bot.WithMetrics(metrics),
	}
	if reg != nil {
		opts = append(opts, bot.WithRegisterer(reg))
	}
	if cfg.Transport == config.TransportConsole {
		// The console operator is local.
		opts = append(opts, bot.WithAdmins(transport.ConsoleName))
	}
	b, err = bot.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	t, err := newTransport(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), metrics, logger)
	if err != nil {
		_ = b.Close(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if obsServer != nil {
		errCh, err := obsServer.Start()
		if err != nil {
			_ = t.Close()
			_ = b.Close(ctx)
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		g.Go(func() error { return monitorServerErrors(gctx, errCh) })
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	report := b.Start(gctx)
	logger.Info("bot ready",
		"transport", t.Name(),
		"cogs", b.Registry().Len(),
		"failed", report.FailedNames(),
		"hot_reload", cfg.Cogs.HotReload)

	g.Go(func() error { return b.Watch(gctx) })
	g.Go(func() error {
		defer cancel()
		return b.Serve(gctx, t)
	})
	runErr := g.Wait()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := t.Close(); err != nil {
		logger.Warn("error closing transport", "error", err)
	}
	if err := b.Close(shutdownCtx); err != nil {
		logger.Warn("error unloading cogs", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return runErr
}

func newTransport(cfg *config.Config, in io.Reader, out io.Writer, metrics *observability.Metrics, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportWebsocket:
		ws := transport.NewWebSocket(cfg.Addr(),
			transport.WithToken(cfg.Token),
			transport.WithMetrics(metrics),
			transport.WithWebSocketLogger(logger))
		if err := ws.Start(); err != nil {
			return nil, fmt.Errorf("failed to start websocket transport: %w", err)
		}
		return ws, nil
	case config.TransportTelnet:
		tn := transport.NewTelnet(cfg.Addr(),
			transport.WithTelnetToken(cfg.Token),
			transport.WithTelnetMetrics(metrics),
			transport.WithTelnetLogger(logger))
		if err := tn.Start(); err != nil {
			return nil, fmt.Errorf("failed to start telnet transport: %w", err)
		}
		return tn, nil
	default:
		return transport.NewConsole(in, out, transport.ConsoleName), nil
	}
}

// monitorServerErrors turns a server failure into a group error, which
// cancels the group and shuts the bot down.
func monitorServerErrors(ctx context.Context, errCh <-chan error) error {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return nil
		}
		return fmt.Errorf("observability server: %w", err)
	case <-ctx.Done():
		return nil
	}
}
