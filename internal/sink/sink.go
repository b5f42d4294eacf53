// Package sink records per-URL outcomes as a run progresses. Every entry
// that enters a run is recorded exactly once, whatever happened to it.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/seoworks/indexer-cli/internal/model"
)

// Sink receives one outcome per processed URL.
type Sink interface {
	Record(ctx context.Context, o model.Outcome) error
	Close() error
}

// Multi fans every outcome out to several sinks. Record keeps going past
// individual failures so one broken sink cannot starve the others.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a fan-out sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Record(ctx context.Context, o model.Outcome) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory buffers outcomes in order. Test helper and dry-run target.
type Memory struct {
	mu       sync.Mutex
	outcomes []model.Outcome
}

// NewMemory builds an in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, o model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

func (m *Memory) Close() error { return nil }

// Outcomes returns a copy of everything recorded so far.
func (m *Memory) Outcomes() []model.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}
