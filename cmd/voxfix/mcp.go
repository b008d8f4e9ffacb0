package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/history/memory"
	"github.com/MrWong99/voxfix/internal/mcptools"
	"github.com/MrWong99/voxfix/internal/observe"
)

func mcpCmd(opts *rootOptions) *cobra.Command {
	var noHistory bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the grammar tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveMCP(ctx, cfg, !noHistory, &mcp.StdioTransport{})
		},
	}
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "only expose check_grammar")
	return cmd
}

// serveMCP runs the MCP server on transport until the client disconnects or
// ctx ends. Logs go to stderr since stdout may carry the protocol.
func serveMCP(ctx context.Context, cfg *config.Config, exposeHistory bool, transport mcp.Transport) error {
	logger, _ := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	metrics := observe.DefaultMetrics()
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return err
	}

	deps := mcptools.Deps{Corrector: providers.Correction}
	if exposeHistory {
		var store history.Store = memory.New()
		if cfg.History.Backend != config.BackendMemory {
			s, closeFn, err := reg.OpenHistory(ctx, cfg.History)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			if closeFn != nil {
				defer closeFn()
			}
			store = s
		}
		deps.History = history.Instrument(store, cfg.History.Backend, metrics)
	}

	slog.Info("mcp server starting", "history", exposeHistory, "history_backend", cfg.History.Backend)
	err = mcptools.NewServer(deps, version).Run(ctx, transport)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}
