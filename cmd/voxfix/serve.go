package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxfix/internal/app"
	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/server"
	"github.com/MrWong99/voxfix/internal/termui"
)

const shutdownGrace = 15 * time.Second

func serveCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		origins []string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.ListenAddr = addr
			}
			var appOpts []app.Option
			if watch && opts.configPath != "" {
				appOpts = append(appOpts, app.WithConfigWatch(opts.configPath))
			}
			return serve(cmd.Context(), cfg, origins, appOpts...)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.listen_addr)")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "browser origin allowed to call the API; repeatable, wildcards allowed")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload log level and playback settings when the config file changes")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, origins []string, appOpts ...app.Option) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, level := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return err
	}

	printStartupSummary(cfg)

	appOpts = append(appOpts,
		app.WithRegistry(reg),
		app.WithMetrics(metrics),
		app.WithLogger(logger),
		app.WithLevelVar(level),
	)
	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	srv := server.New(server.Deps{
		Accounts:       application.Accounts(),
		History:        application.History(),
		Corrector:      application.Corrector(),
		Sessions:       application.Sessions(),
		LLM:            application.LLM(),
		Health:         application.Health(),
		Metrics:        metrics,
		MetricsHandler: tel.Handler(),
	}, server.WithAllowedOrigins(origins...))

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx, srv.Handler())
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	backends := make([]string, 0, len(cfg.Correction.Backends))
	for _, b := range cfg.Correction.Backends {
		backends = append(backends, b.Name)
	}
	termui.New(os.Stdout).PrintSummary("VoxFix startup summary", []termui.Row{
		{Key: "Correction", Value: joinOr(backends, "(none)")},
		{Key: "LLM", Value: providerLabel(cfg.LLM)},
		{Key: "STT", Value: providerLabel(cfg.STT)},
		{Key: "TTS", Value: providerLabel(cfg.TTS)},
		{Key: "History", Value: cfg.History.Backend},
		{Key: "Accounts", Value: cfg.Accounts.Backend},
		{Key: "Listen addr", Value: cfg.Server.ListenAddr},
	})
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func joinOr(parts []string, empty string) string {
	if len(parts) == 0 {
		return empty
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " → " + p
	}
	return out
}
