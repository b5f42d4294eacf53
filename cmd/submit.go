package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seoworks/indexer-cli/internal/credential"
	"github.com/seoworks/indexer-cli/internal/input"
	"github.com/seoworks/indexer-cli/internal/model"
	"github.com/seoworks/indexer-cli/internal/monitoring"
	"github.com/seoworks/indexer-cli/internal/probe"
	"github.com/seoworks/indexer-cli/internal/runner"
	"github.com/seoworks/indexer-cli/internal/sink"
	"github.com/seoworks/indexer-cli/pkg/indexing"
)

var (
	submitInput  string
	submitDryRun bool
	submitRate   float64
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Probe, classify and submit a batch of URLs",
	Long:  "Reads a URL list (txt, csv or xlsx; local path or http(s)/ftp URL), probes each URL unless the list carries a status hint, classifies the result, and submits updates and deletions to the Indexing API under the configured credential quotas.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("submit"); err != nil {
			return err
		}

		entries, err := input.Read(ctx, submitInput)
		if err != nil {
			return eris.Wrap(err, "read input")
		}
		if len(entries) == 0 {
			zap.L().Warn("no valid urls in input", zap.String("input", submitInput))
			return nil
		}

		pool, err := initCredentials(ctx)
		if err != nil {
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

		run, err := st.CreateRun(ctx, submitInput)
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		reports, err := sink.NewCSV(cfg.Sink.Dir)
		if err != nil {
			return eris.Wrap(err, "open report sink")
		}
		out := sink.NewMulti(reports, sink.NewStore(st))

		prober := probe.NewHTTPProber(probe.Options{
			UserAgent:  cfg.Probe.UserAgent,
			Timeout:    time.Duration(cfg.Probe.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Probe.MaxRetries,
			RatePerSec: cfg.Probe.RatePerSec,
			Burst:      cfg.Probe.Burst,
		})

		client := indexing.NewClient(
			indexing.WithBaseURL(cfg.Submit.Endpoint),
			indexing.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Submit.TimeoutSecs) * time.Second}),
		)

		rps := cfg.Submit.RatePerSec
		if submitRate > 0 {
			rps = submitRate
		}

		metrics := monitoring.NewMetrics()

		eng := runner.New(prober, client, pool, out, metrics, runner.Options{
			RunID:      run.ID,
			SubmitRate: rps,
			DryRun:     submitDryRun,
		})

		summary, runErr := eng.Run(ctx, entries)

		if err := out.Close(); err != nil {
			zap.L().Warn("close report sink", zap.Error(err))
		}

		status := model.RunStatusCompleted
		switch {
		case runErr != nil:
			status = model.RunStatusCancelled
		case summary.Exhausted:
			status = model.RunStatusExhausted
		}
		metrics.IncRunsTotal(string(status))

		// The final status must land in the store even when the run was
		// cancelled, or the audit trail shows a run stuck in running.
		finishCtx := context.WithoutCancel(ctx)
		if err := st.FinishRun(finishCtx, run.ID, status, summary); err != nil {
			zap.L().Error("finish run", zap.String("run_id", run.ID), zap.Error(err))
		}

		zap.L().Info("run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(status)),
			zap.Strings("reports", reports.Files()),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return eris.Wrap(err, "encode summary")
		}

		switch status {
		case model.RunStatusCancelled:
			return eris.Wrap(runErr, "run cancelled")
		case model.RunStatusExhausted:
			return eris.Errorf("credential pool exhausted, %d url(s) unsubmitted", summary.Unsubmitted)
		}
		return nil
	},
}

// initCredentials builds the rotation pool from the manifest or the
// configured key file patterns, preserving declaration order.
func initCredentials(ctx context.Context) (*credential.Pool, error) {
	var sources []credential.Source

	if cfg.Credentials.Manifest != "" {
		var err error
		sources, err = credential.LoadManifest(cfg.Credentials.Manifest)
		if err != nil {
			return nil, eris.Wrap(err, "load credential manifest")
		}
	} else {
		for _, pattern := range cfg.Credentials.KeyFiles {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, eris.Wrapf(err, "bad key file pattern %q", pattern)
			}
			if len(matches) == 0 {
				// A literal path that does not exist still becomes a
				// source so the loader reports it instead of the pool
				// silently shrinking.
				sources = append(sources, credential.Source{File: pattern})
				continue
			}
			for _, m := range matches {
				sources = append(sources, credential.Source{File: m})
			}
		}
	}

	if len(sources) == 0 {
		return nil, eris.New("no credential key files configured")
	}

	pool, err := credential.Load(ctx, sources, cfg.Credentials.QuotaPerKey)
	if err != nil {
		return nil, eris.Wrap(err, "load credentials")
	}
	return pool, nil
}

func init() {
	submitCmd.Flags().StringVarP(&submitInput, "input", "i", "", "URL list: .txt, .csv or .xlsx, local path or http(s)/ftp URL (required)")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "probe and classify only, submit nothing")
	submitCmd.Flags().Float64Var(&submitRate, "rate", 0, "submissions per second (default from config)")
	_ = submitCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(submitCmd)
}
