package main

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seoworks/indexer-cli/internal/classify"
	"github.com/seoworks/indexer-cli/internal/input"
	"github.com/seoworks/indexer-cli/internal/model"
	"github.com/seoworks/indexer-cli/internal/probe"
)

var (
	checkInput       string
	checkOutput      string
	checkConcurrency int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe a URL list without submitting",
	Long:  "Probes every URL in the input list concurrently and writes a URL,Status Code CSV. The output feeds straight back into submit as a hinted list, so a later run skips its probe phase. No quota is consumed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("check"); err != nil {
			return err
		}

		entries, err := input.Read(ctx, checkInput)
		if err != nil {
			return eris.Wrap(err, "read input")
		}
		if len(entries) == 0 {
			zap.L().Warn("no valid urls in input", zap.String("input", checkInput))
			return nil
		}

		prober := probe.NewHTTPProber(probe.Options{
			UserAgent:  cfg.Probe.UserAgent,
			Timeout:    time.Duration(cfg.Probe.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Probe.MaxRetries,
			RatePerSec: cfg.Probe.RatePerSec,
			Burst:      cfg.Probe.Burst,
		})

		zap.L().Info("probing urls",
			zap.Int("urls", len(entries)),
			zap.Int("concurrency", checkConcurrency),
		)

		// Results land at the entry's own index, so output order matches
		// input order no matter how the probes interleave.
		results := make([]model.ProbeResult, len(entries))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(checkConcurrency)

		var reachable, unreachable atomic.Int64

		for i, e := range entries {
			i, e := i, e
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := prober.Probe(gctx, e.URL)
				results[i] = res
				if res.StatusCode == 0 {
					unreachable.Add(1)
					zap.L().Warn("unreachable", zap.String("url", e.URL), zap.String("detail", res.Detail))
				} else {
					reachable.Add(1)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "probe batch")
		}

		if err := writeStatusCSV(checkOutput, entries, results); err != nil {
			return err
		}

		actions := make(map[model.Action]int)
		for _, res := range results {
			actions[classify.Classify(res.StatusCode)]++
		}

		zap.L().Info("check complete",
			zap.Int("urls", len(entries)),
			zap.Int64("reachable", reachable.Load()),
			zap.Int64("unreachable", unreachable.Load()),
			zap.Int("updates", actions[model.ActionUpdate]),
			zap.Int("deletions", actions[model.ActionDelete]),
			zap.Int("skips", actions[model.ActionSkip]),
			zap.String("output", checkOutput),
		)
		return nil
	},
}

// writeStatusCSV writes URL and probed status pairs in input order.
func writeStatusCSV(path string, entries []model.Entry, results []model.ProbeResult) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create output file %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	_ = w.Write([]string{"URL", "Status Code"})
	for i, e := range entries {
		_ = w.Write([]string{e.URL, strconv.Itoa(results[i].StatusCode)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "write output file %s", path)
	}
	return nil
}

func init() {
	checkCmd.Flags().StringVarP(&checkInput, "input", "i", "", "URL list: .txt, .csv or .xlsx, local path or http(s)/ftp URL (required)")
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "status.csv", "output CSV path")
	checkCmd.Flags().IntVar(&checkConcurrency, "concurrency", 8, "number of concurrent probes")
	_ = checkCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(checkCmd)
}
