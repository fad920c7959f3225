package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/core/worker"
	"github.com/vietddude/postforge/internal/execution/fallback"
	"github.com/vietddude/postforge/internal/infra/artifact"
	"github.com/vietddude/postforge/internal/infra/eventlog"
	redisclient "github.com/vietddude/postforge/internal/infra/redis"
)

var (
	failedLimit    int64
	failedKind     string
	eventsLimit    int64
	pruneRetention time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List run directories, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run_id]",
	Short: "Show the artifacts, events and outcome of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List failed runs recorded in Redis",
	Args:  cobra.NoArgs,
	RunE:  runRunsFailed,
}

var runsEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the newest step events mirrored to Redis",
	Args:  cobra.NoArgs,
	RunE:  runRunsEvents,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete run directories older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runRunsPrune,
}

func init() {
	runsFailedCmd.Flags().Int64Var(&failedLimit, "limit", 20, "maximum number of runs to show")
	runsFailedCmd.Flags().StringVar(&failedKind, "kind", "", "only show runs that failed with this error type")
	runsEventsCmd.Flags().Int64Var(&eventsLimit, "limit", 50, "maximum number of events to show")
	runsPruneCmd.Flags().DurationVar(&pruneRetention, "retention", 0, "override pipeline.retention")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsFailedCmd, runsEventsCmd, runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runs, err := artifact.ListRuns(cfg.Pipeline.OutputDir)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No runs under %s\n", cfg.Pipeline.OutputDir)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tMODIFIED")
	for _, r := range runs {
		status := "incomplete"
		switch {
		case r.Failed:
			status = "failed"
		case r.Success:
			status = "success"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, status, r.ModTime.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runID := args[0]
	dir := filepath.Join(cfg.Pipeline.OutputDir, runID)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	store := artifact.NewStore(dir)
	out := cmd.OutOrStdout()

	names, err := store.List()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run %s (%s)\n\nArtifacts:\n", runID, dir)
	for _, name := range names {
		status := "ok"
		if err := store.Verify(name); err != nil {
			status = err.Error()
		}
		fmt.Fprintf(out, "  %-28s %s\n", name, status)
	}

	for _, name := range []string{artifact.FailureFile, artifact.SummaryFile} {
		if !store.Exists(name) {
			continue
		}
		var outcome map[string]any
		if err := store.ReadJSON(name, &outcome); err != nil {
			return err
		}
		delete(outcome, "metrics")
		data, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Fprintf(out, "\n%s:\n%s\n", name, data)
	}

	invs, err := eventlog.Read(cfg.Pipeline.EventLog, runID)
	if err != nil {
		return err
	}
	if len(invs) > 0 {
		fmt.Fprintln(out, "\nEvents:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TIME\tSTEP\tATTEMPT\tSTATUS\tERROR\tMS")
		for _, inv := range invs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
				inv.Timestamp.Format("15:04:05"), inv.Step, inv.Attempt, inv.Status, inv.ErrorKind, inv.DurationMs)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if store.Exists(artifact.FallbackLogFile) {
		warnings, err := fallback.LoadWarnings(store.Path(artifact.FallbackLogFile))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n", fallback.Report(warnings))
	}
	return nil
}

func openRedis() (*redisclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("redis is not configured")
	}
	return redisclient.NewClient(cfg.Redis)
}

func runRunsFailed(cmd *cobra.Command, args []string) error {
	kind, err := parseKindFilter(failedKind)
	if err != nil {
		return err
	}

	client, err := openRedis()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	failed, err := redisclient.NewFailedRunRepo(client).List(context.Background(), failedLimit)
	if err != nil {
		return err
	}
	failed = filterFailed(failed, kind)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tFAILED AT\tSTEP\tERROR")
	for _, fr := range failed {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s: %s\n",
			fr.RunID, fr.FailedAt.Format("2006-01-02 15:04:05"), fr.FailedStep, fr.ErrorKind, fr.Message)
	}
	return w.Flush()
}

// parseKindFilter accepts an error type name such as "TransientServiceError".
// An empty filter matches every kind.
func parseKindFilter(s string) (domain.Kind, error) {
	if s == "" {
		return domain.KindUnknown, nil
	}
	k := domain.ParseKind(s)
	if k == domain.KindUnknown {
		return k, fmt.Errorf("unknown error type %q", s)
	}
	return k, nil
}

func filterFailed(runs []domain.FailedRun, kind domain.Kind) []domain.FailedRun {
	if kind == domain.KindUnknown {
		return runs
	}
	out := runs[:0:0]
	for _, fr := range runs {
		if domain.ParseKind(fr.ErrorKind) == kind {
			out = append(out, fr)
		}
	}
	return out
}

func runRunsEvents(cmd *cobra.Command, args []string) error {
	client, err := openRedis()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	events, err := client.RecentEvents(context.Background(), eventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tRUN\tSTEP\tATTEMPT\tSTATUS\tERROR")
	for _, e := range events {
		_, _ = fmt.Fprintln(w, eventRow(e))
	}
	return w.Flush()
}

// eventRow renders one stream entry as a tab-separated row.
func eventRow(v map[string]any) string {
	field := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	ts := field("timestamp")
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		ts = t.Local().Format("2006-01-02 15:04:05")
	}
	return strings.Join([]string{ts, field("run_id"), field("step"), field("attempt"), field("status"), field("error_type")}, "\t")
}

func runRunsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	retention := cfg.Pipeline.Retention
	if cmd.Flags().Changed("retention") {
		retention = pruneRetention
	}
	if retention <= 0 {
		return fmt.Errorf("retention is not set")
	}

	pruner := worker.NewPruner(cfg.Pipeline.OutputDir, retention)
	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, failed-run index left as is", "error", err)
		} else {
			defer func() {
				_ = client.Close()
			}()
			pruner.SetIndex(redisclient.NewFailedRunRepo(client))
		}
	}

	removed, err := pruner.Prune(context.Background())
	for _, id := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s) older than %s\n", len(removed), retention)
	return nil
}
