package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seoworks/indexer-cli/internal/model"
	"github.com/seoworks/indexer-cli/internal/monitoring"
	"github.com/seoworks/indexer-cli/internal/sink"
	"github.com/seoworks/indexer-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect submission run history",
	Long:  "Commands for listing, viewing, summarizing and importing submission runs from the audit store.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submission runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		withOutcomes, _ := cmd.Flags().GetBool("outcomes")
		if !withOutcomes {
			return enc.Encode(run)
		}

		outcomes, err := st.ListOutcomes(ctx, store.OutcomeFilter{
			RunID: run.ID,
			Limit: 100000,
		})
		if err != nil {
			return eris.Wrap(err, "runs show outcomes")
		}

		return enc.Encode(struct {
			Run      *model.Run      `json:"run"`
			Outcomes []model.Outcome `json:"outcomes"`
		}{run, outcomes})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(math.Ceil(since.Hours()))
		if hours < 1 {
			hours = 1
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

// -- runs import --

var runsImportCmd = &cobra.Command{
	Use:   "import <report-dir>",
	Short: "Import per-domain audit CSVs into the store",
	Long:  "Rebuilds run history from a directory of per-domain audit reports, for example when the reports outlived the database they were written alongside.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		dir := args[0]
		outcomes, err := sink.ReadReportDir(dir)
		if err != nil {
			return eris.Wrap(err, "read reports")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, err := st.CreateRun(ctx, "import:"+dir)
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		now := time.Now().UTC()
		summary := &model.RunSummary{StartedAt: now, FinishedAt: now}
		hosts := make(map[string]struct{})

		for i := range outcomes {
			outcomes[i].RunID = run.ID
			if outcomes[i].CreatedAt.IsZero() {
				outcomes[i].CreatedAt = now
			}
			summary.Observe(outcomes[i])
			hosts[outcomes[i].Host] = struct{}{}

			// Recover the original run's wall-clock span from the rows.
			if outcomes[i].CreatedAt.Before(summary.StartedAt) {
				summary.StartedAt = outcomes[i].CreatedAt
			}
			if outcomes[i].CreatedAt.After(summary.FinishedAt) {
				summary.FinishedAt = outcomes[i].CreatedAt
			}
		}
		summary.Domains = len(hosts)

		if err := st.InsertOutcomes(ctx, outcomes); err != nil {
			return eris.Wrap(err, "insert outcomes")
		}
		if err := st.FinishRun(ctx, run.ID, model.RunStatusCompleted, summary); err != nil {
			return eris.Wrap(err, "finish run")
		}

		zap.L().Info("import complete",
			zap.String("run_id", run.ID),
			zap.String("dir", dir),
			zap.Int("outcomes", len(outcomes)),
			zap.Int("domains", summary.Domains),
		)

		fmt.Println(run.ID)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, completed, exhausted, cancelled, failed)")
	runsListCmd.Flags().Duration("since", 0, "only runs newer than this (e.g. 24h, 168h)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("outcomes", false, "include per-URL outcomes")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsImportCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tINPUT\tURLS\tSUBMITTED\tFAILED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t----\t---------\t------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		input := r.Input
		if len(input) > 40 {
			input = "..." + input[len(input)-37:]
		}

		total, submitted, failed := "-", "-", "-"
		if r.Summary != nil {
			total = fmt.Sprintf("%d", r.Summary.Total)
			submitted = fmt.Sprintf("%d", r.Summary.Submitted)
			failed = fmt.Sprintf("%d", r.Summary.Failed)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			input,
			total,
			submitted,
			failed,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes an aggregate snapshot to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", s.RunsCompleted)
	_, _ = fmt.Fprintf(w, "  Exhausted:\t%d\n", s.RunsExhausted)
	_, _ = fmt.Fprintf(w, "  Cancelled:\t%d\n", s.RunsCancelled)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "URLs:\t%d\n", s.URLsTotal)
	_, _ = fmt.Fprintf(w, "  Submitted:\t%d\n", s.URLsSubmitted)
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d\n", s.URLsSkipped)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.URLsFailed)
	_, _ = fmt.Fprintf(w, "  Unsubmitted:\t%d\n", s.URLsUnsubmitted)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailureRate*100)
	_, _ = fmt.Fprintf(w, "Quota used:\t%d\n", s.QuotaUsed)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
