package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/termui"
	"github.com/MrWong99/voxfix/pkg/textdiff"
)

func checkCmd(opts *rootOptions) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "check <text>",
		Short: "Correct a sentence and show what changed",
		Long: "Correct a sentence with the configured backends and print a word diff.\n" +
			"With no arguments the text is read from standard input.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(b)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return check(cmd.Context(), cfg, text, cmd.OutOrStdout(), termui.WithMarkers(plain || os.Getenv("NO_COLOR") != ""))
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "mark changes with [-removed-]{+inserted+} instead of colour only")
	return cmd
}

func check(ctx context.Context, cfg *config.Config, text string, out io.Writer, printOpts ...termui.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Provider setup logs at info; only problems belong next to the result.
	logger, _ := newLogger(os.Stderr, config.LogWarn)
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	corrected, err := providers.Correction.Correct(ctx, text)
	if err != nil {
		return err
	}
	corrected = strings.TrimSpace(corrected)
	segs := textdiff.Diff(text, corrected)

	return termui.New(out, printOpts...).PrintCorrection(termui.Correction{
		Original:  text,
		Corrected: corrected,
		Diff:      segs,
		Changes:   feedback.New().SummarizeSegments(segs).Changes,
	})
}
