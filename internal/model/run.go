package model

import "time"

// RunStatus represents the terminal (or in-flight) state of a batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// OutcomeResult describes how processing ended for one URL.
type OutcomeResult string

const (
	// ResultSubmitted: the notification was accepted and quota was consumed.
	ResultSubmitted OutcomeResult = "submitted"
	// ResultSkipped: the classifier decided no submission was warranted.
	ResultSkipped OutcomeResult = "skipped"
	// ResultFailed: a submission was attempted and the API rejected it.
	ResultFailed OutcomeResult = "failed"
	// ResultUnsubmitted: the credential pool ran out or the run was
	// cancelled before this URL could be submitted.
	ResultUnsubmitted OutcomeResult = "unsubmitted"
)

// Outcome is the audit record for a single URL. Every entry that enters a
// run produces exactly one Outcome, whatever happens to it.
type Outcome struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	// Seq is the zero-based position of the URL in the run's input.
	Seq        int           `json:"seq"`
	URL        string        `json:"url"`
	Host       string        `json:"host"`
	Action     Action        `json:"action"`
	StatusCode int           `json:"status_code"`
	Result     OutcomeResult `json:"result"`
	Credential string        `json:"credential,omitempty"`
	NotifiedAt *time.Time    `json:"notified_at,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// RunSummary aggregates one batch run for logging and the final report.
type RunSummary struct {
	Total       int `json:"total"`
	Submitted   int `json:"submitted"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Unsubmitted int `json:"unsubmitted"`

	Updated     int `json:"updated"`
	Deleted     int `json:"deleted"`
	Unreachable int `json:"unreachable"`

	Domains    int            `json:"domains"`
	QuotaUsed  int            `json:"quota_used"`
	ByCred     map[string]int `json:"by_credential,omitempty"`
	Exhausted  bool           `json:"exhausted"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Observe folds one outcome into the summary counts.
func (s *RunSummary) Observe(o Outcome) {
	s.Total++
	switch o.Result {
	case ResultSubmitted:
		s.Submitted++
		s.QuotaUsed++
		if o.Credential != "" {
			if s.ByCred == nil {
				s.ByCred = make(map[string]int)
			}
			s.ByCred[o.Credential]++
		}
	case ResultSkipped:
		s.Skipped++
	case ResultFailed:
		s.Failed++
	case ResultUnsubmitted:
		s.Unsubmitted++
	}
	switch o.Action {
	case ActionUpdate:
		if o.Result == ResultSubmitted {
			s.Updated++
		}
	case ActionDelete:
		if o.Result == ResultSubmitted {
			s.Deleted++
		}
	case ActionUnreachable:
		s.Unreachable++
	}
}

// Run is a persisted batch run.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Input     string      `json:"input,omitempty"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
