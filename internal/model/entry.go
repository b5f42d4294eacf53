package model

import "time"

// Entry is a single URL queued for a run, in input order.
type Entry struct {
	URL  string `json:"url"`
	Host string `json:"host"`

	// HintAction, when non-empty, bypasses both probing and classification
	// for this entry. Populated from the status column of CSV/XLSX inputs.
	HintAction Action `json:"hint_action,omitempty"`

	// HintStatus, when non-nil and HintAction is empty, bypasses probing
	// but still goes through classification.
	HintStatus *int `json:"hint_status,omitempty"`
}

// ProbeResult is the outcome of one reachability check. StatusCode 0 means
// the host could not be reached at all.
type ProbeResult struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
	CheckedAt  time.Time     `json:"checked_at"`
	Detail     string        `json:"detail,omitempty"`
}
