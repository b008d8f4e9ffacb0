package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/termui"
)

// errVolatileHistory is returned when the history commands are pointed at
// the in-memory backend, which never outlives a process.
var errVolatileHistory = errors.New("history.backend is memory; configure postgres, sqlite or redis to manage saved history")

func historyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and delete saved corrections",
	}

	listCmd := &cobra.Command{
		Use:   "list <email>",
		Short: "List a user's saved corrections, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), opts, func(ctx context.Context, store history.Store) error {
				recs, err := store.ListByUser(ctx, args[0])
				if err != nil {
					return err
				}
				return termui.New(cmd.OutOrStdout(), termui.WithMarkers(true)).PrintHistory(recs)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one saved correction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), opts, func(ctx context.Context, store history.Store) error {
				if err := store.DeleteOne(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Chat history deleted successfully")
				return err
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <email>",
		Short: "Delete every saved correction of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), opts, func(ctx context.Context, store history.Store) error {
				n, err := store.DeleteAllForUser(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d saved corrections\n", n)
				return err
			})
		},
	}

	cmd.AddCommand(listCmd, deleteCmd, clearCmd)
	return cmd
}

// withHistory opens the configured history store, runs fn and closes the
// store again.
func withHistory(ctx context.Context, opts *rootOptions, fn func(context.Context, history.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.History.Backend == config.BackendMemory {
		return errVolatileHistory
	}
	logger, _ := newLogger(os.Stderr, config.LogWarn)
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	store, closeFn, err := reg.OpenHistory(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if closeFn != nil {
		defer func() {
			if err := closeFn(); err != nil {
				slog.Warn("history close error", "err", err)
			}
		}()
	}
	return fn(ctx, store)
}
