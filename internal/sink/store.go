package sink

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/seoworks/indexer-cli/internal/model"
)

// OutcomeWriter is the slice of the store this sink needs.
type OutcomeWriter interface {
	InsertOutcome(ctx context.Context, o model.Outcome) error
}

// Store persists outcomes to the audit store.
type Store struct {
	w OutcomeWriter
}

// NewStore wraps an outcome writer as a sink.
func NewStore(w OutcomeWriter) *Store {
	return &Store{w: w}
}

func (s *Store) Record(ctx context.Context, o model.Outcome) error {
	if err := s.w.InsertOutcome(ctx, o); err != nil {
		return eris.Wrap(err, "sink: insert outcome")
	}
	return nil
}

func (s *Store) Close() error { return nil }
