// Package classify maps probe status codes to indexing actions.
package classify

import "github.com/seoworks/indexer-cli/internal/model"

// Classify returns the action for a probed status code.
// Rules:
//   - 200-299: the page is live, notify an update
//   - 400-499: the page is gone, notify a removal
//   - 0: the host never answered, skip and flag for review
//   - anything else (1xx, 3xx, 5xx, out-of-range values): skip
//
// Server errors and redirects deliberately fall through to skip; a 5xx is
// usually transient and a 3xx means the probe's redirect handling already
// ran, so neither justifies telling the index anything.
func Classify(status int) model.Action {
	switch {
	case status >= 200 && status <= 299:
		return model.ActionUpdate
	case status >= 400 && status <= 499:
		return model.ActionDelete
	case status == 0:
		return model.ActionUnreachable
	default:
		return model.ActionSkip
	}
}
