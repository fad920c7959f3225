package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/postforge/internal/control"
	"github.com/vietddude/postforge/internal/core/config"
	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/infra/storage"
)

var (
	runCategory     string
	runDryRun       bool
	runFallbackMode string
	runMetricsPort  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate one post",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runCategory, "category", "", "post category: data-science, genai or the full category name")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use the offline generator; no network calls or spend")
	runCmd.Flags().StringVar(&runFallbackMode, "fallback-mode", "", "answer fallback proposals: prompt, approve or decline")
	runCmd.Flags().IntVar(&runMetricsPort, "metrics-port", 0, "serve /health and /metrics on this port")
	rootCmd.AddCommand(runCmd)
}

// errRunFailed exits non-zero without logging again; the report already
// describes the failure.
var errRunFailed = errors.New("run failed")

var categoryAliases = map[string]string{
	"data-science": storage.CategoryDataScience,
	"ds":           storage.CategoryDataScience,
	"genai":        storage.CategoryGenAI,
	"gen-ai":       storage.CategoryGenAI,
}

func resolveCategory(s string) string {
	if c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return s
}

func applyRunFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	if cmd.Flags().Changed("category") {
		cfg.Pipeline.Category = resolveCategory(runCategory)
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Pipeline.DryRun = runDryRun
	}
	if cmd.Flags().Changed("fallback-mode") {
		cfg.Fallback.Mode = runFallbackMode
	}
	if cmd.Flags().Changed("metrics-port") {
		cfg.Metrics.Port = runMetricsPort
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyRunFlags(cmd, cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("Invalid configuration", "field", e.Field, "error", e.Message)
		}
		return errors.New("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg, control.Options{In: os.Stdin, Out: os.Stderr})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	rep := app.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep))
	if rep.Status != domain.RunStatusSuccess {
		return errRunFailed
	}
	return nil
}
