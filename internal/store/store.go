package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seoworks/indexer-cli/internal/model"
)

// ErrNotFound reports a run id with no row behind it. Both drivers wrap
// it, so callers branch with errors.Is.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// OutcomeFilter specifies criteria for listing outcomes.
type OutcomeFilter struct {
	RunID  string              `json:"run_id,omitempty"`
	Host   string              `json:"host,omitempty"`
	Result model.OutcomeResult `json:"result,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// DomainStat aggregates one host's outcomes within a run.
type DomainStat struct {
	Host        string `json:"host"`
	Total       int    `json:"total"`
	Submitted   int    `json:"submitted"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Unsubmitted int    `json:"unsubmitted"`
}

// Store defines the audit persistence interface.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, input string) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Outcomes
	InsertOutcome(ctx context.Context, o model.Outcome) error
	InsertOutcomes(ctx context.Context, outcomes []model.Outcome) error
	ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.Outcome, error)
	DomainStats(ctx context.Context, runID string) ([]DomainStat, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
