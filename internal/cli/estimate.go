package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/postforge/internal/core/config"
	"github.com/vietddude/postforge/internal/execution/budget"
)

// A run makes three fixed text calls (research, brief, image prompt), a
// draft and a review per shortening iteration, and one image call.
const (
	baseTextCalls = 3
	iterTextCalls = 2
)

var (
	estimateInput  int
	estimateOutput int
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the cost of a run",
	Args:  cobra.NoArgs,
	RunE:  runEstimate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var forceInit bool

func init() {
	estimateCmd.Flags().IntVar(&estimateInput, "input-tokens", 2000, "average input tokens per text call")
	estimateCmd.Flags().IntVar(&estimateOutput, "output-tokens", budget.DefaultEstimatedOutputTokens, "average output tokens per text call")
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(estimateCmd, configCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	limits := budget.Limits{MaxCostUSD: cfg.Budget.MaxCostUSD, MaxCalls: cfg.Budget.MaxCalls}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Models: %s (text), %s (image)\n", cfg.Pipeline.TextModel, cfg.Pipeline.ImageModel)
	fmt.Fprintf(out, "Budget: $%.2f, %d calls\n\n", limits.MaxCostUSD, limits.MaxCalls)

	for _, iterations := range []int{1, cfg.Quality.MaxIterations} {
		est := budget.EstimateRunCost(cfg.PriceTable(), cfg.Pipeline.TextModel, cfg.Pipeline.ImageModel,
			estimateInput, estimateOutput, baseTextCalls+iterTextCalls*iterations, 1, limits)

		within := "within budget"
		if !est.WithinBudget {
			within = "OVER BUDGET"
		}
		fmt.Fprintf(out, "%d iteration(s): %d text + %d image calls, $%.4f text + $%.4f image = $%.4f (%s)\n",
			iterations, est.TextCalls, est.ImageCalls, est.TextCostUSD, est.ImageCostUSD, est.TotalCostUSD, within)
		if iterations == cfg.Quality.MaxIterations {
			break
		}
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgPath); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
	}
	if _, err := config.Parse([]byte(config.Sample)); err != nil {
		return fmt.Errorf("sample config is invalid: %w", err)
	}
	if err := os.WriteFile(cfgPath, []byte(config.Sample), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgPath)
	return nil
}
