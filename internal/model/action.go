package model

import "strings"

// Action is the decision the classifier makes for a probed URL. The values
// double as the notification types the indexing API accepts, and as the
// status labels written to audit CSVs.
type Action string

const (
	ActionUpdate      Action = "URL_UPDATED"
	ActionDelete      Action = "URL_DELETED"
	ActionSkip        Action = "URL_SKIPPED"
	ActionUnreachable Action = "UNREACHABLE"
)

// Submittable reports whether the action results in an API submission.
func (a Action) Submittable() bool {
	return a == ActionUpdate || a == ActionDelete
}

// ParseAction maps a status-column label from an input file to an Action.
// Matching is case-insensitive and tolerates surrounding whitespace.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionUpdate:
		return ActionUpdate, true
	case ActionDelete:
		return ActionDelete, true
	case ActionSkip:
		return ActionSkip, true
	case ActionUnreachable:
		return ActionUnreachable, true
	default:
		return "", false
	}
}
