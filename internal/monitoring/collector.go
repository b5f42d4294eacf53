package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seoworks/indexer-cli/internal/model"
	"github.com/seoworks/indexer-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of submission health.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal     int `json:"runs_total"`
	RunsRunning   int `json:"runs_running"`
	RunsCompleted int `json:"runs_completed"`
	RunsExhausted int `json:"runs_exhausted"`
	RunsCancelled int `json:"runs_cancelled"`
	RunsFailed    int `json:"runs_failed"`

	// URL totals folded from run summaries within the window.
	URLsTotal       int     `json:"urls_total"`
	URLsSubmitted   int     `json:"urls_submitted"`
	URLsSkipped     int     `json:"urls_skipped"`
	URLsFailed      int     `json:"urls_failed"`
	URLsUnsubmitted int     `json:"urls_unsubmitted"`
	FailureRate     float64 `json:"failure_rate"`
	QuotaUsed       int     `json:"quota_used"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the audit store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of submission metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusRunning:
			snap.RunsRunning++
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusExhausted:
			snap.RunsExhausted++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		case model.RunStatusFailed:
			snap.RunsFailed++
		}
		if r.Summary == nil {
			continue
		}
		snap.URLsTotal += r.Summary.Total
		snap.URLsSubmitted += r.Summary.Submitted
		snap.URLsSkipped += r.Summary.Skipped
		snap.URLsFailed += r.Summary.Failed
		snap.URLsUnsubmitted += r.Summary.Unsubmitted
		snap.QuotaUsed += r.Summary.QuotaUsed
	}

	// Failure rate over attempted submissions only; skipped and
	// unsubmitted URLs never reached the API.
	if attempted := snap.URLsSubmitted + snap.URLsFailed; attempted > 0 {
		snap.FailureRate = float64(snap.URLsFailed) / float64(attempted)
	}

	return snap, nil
}
