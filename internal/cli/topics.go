package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vietddude/postforge/internal/control"
	"github.com/vietddude/postforge/internal/infra/storage"
)

var (
	topicsSeed     bool
	topicsCategory string
	recentLimit    int
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage the topic database",
}

var topicsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply topic database migrations",
	Args:  cobra.NoArgs,
	RunE:  runTopicsMigrate,
}

var topicsAddCmd = &cobra.Command{
	Use:   "add [topic]...",
	Short: "Add candidate topics",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTopicsAdd,
}

var topicsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recently posted topics",
	Args:  cobra.NoArgs,
	RunE:  runTopicsRecent,
}

func init() {
	topicsMigrateCmd.Flags().BoolVar(&topicsSeed, "seed", false, "insert the starter topics")
	topicsAddCmd.Flags().StringVar(&topicsCategory, "category", "", "topic category (defaults to the configured category)")
	topicsRecentCmd.Flags().IntVar(&recentLimit, "limit", storage.RecentWindow, "number of topics to show")
	topicsCmd.AddCommand(topicsMigrateCmd, topicsAddCmd, topicsRecentCmd)
	rootCmd.AddCommand(topicsCmd)
}

func openTopics(ctx context.Context, seed bool) (storage.TopicRepository, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	topicsCfg := cfg.Topics
	topicsCfg.Seed = seed
	repo, err := control.OpenTopics(ctx, topicsCfg)
	if err != nil {
		return nil, "", err
	}
	return repo, cfg.Pipeline.Category, nil
}

func runTopicsMigrate(cmd *cobra.Command, args []string) error {
	repo, _, err := openTopics(context.Background(), topicsSeed)
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Topic database is up to date")
	return nil
}

func runTopicsAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, category, err := openTopics(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	if cmd.Flags().Changed("category") {
		category = resolveCategory(topicsCategory)
	}
	n, err := repo.AddCandidates(ctx, category, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d of %d topics to %q\n", n, len(args), category)
	return nil
}

func runTopicsRecent(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, _, err := openTopics(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	recent, err := repo.RecentTopics(ctx, recentLimit)
	if err != nil {
		return err
	}
	for i, name := range recent {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s\n", i+1, name)
	}
	return nil
}
