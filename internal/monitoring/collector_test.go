package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoworks/indexer-cli/internal/model"
	"github.com/seoworks/indexer-cli/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	runs    []model.Run
	listErr error
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// Unused store methods to satisfy the interface.
func (m *mockStore) CreateRun(context.Context, string) (*model.Run, error) { return nil, nil }
func (m *mockStore) FinishRun(context.Context, string, model.RunStatus, *model.RunSummary) error {
	return nil
}
func (m *mockStore) GetRun(context.Context, string) (*model.Run, error)  { return nil, nil }
func (m *mockStore) InsertOutcome(context.Context, model.Outcome) error  { return nil }
func (m *mockStore) InsertOutcomes(context.Context, []model.Outcome) error {
	return nil
}
func (m *mockStore) ListOutcomes(context.Context, store.OutcomeFilter) ([]model.Outcome, error) {
	return nil, nil
}
func (m *mockStore) DomainStats(context.Context, string) ([]store.DomainStat, error) {
	return nil, nil
}
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Ping(context.Context) error    { return nil }
func (m *mockStore) Close() error                  { return nil }

func TestCollector_EmptyStore(t *testing.T) {
	st := &mockStore{}
	c := NewCollector(st)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0, snap.URLsTotal)
	assert.Equal(t, 0.0, snap.FailureRate)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RunMetrics(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusCompleted, CreatedAt: now.Add(-1 * time.Hour), Summary: &model.RunSummary{
				Total: 10, Submitted: 8, Skipped: 1, Failed: 1, QuotaUsed: 8,
			}},
			{ID: "2", Status: model.RunStatusExhausted, CreatedAt: now.Add(-2 * time.Hour), Summary: &model.RunSummary{
				Total: 20, Submitted: 12, Failed: 3, Unsubmitted: 5, QuotaUsed: 12, Exhausted: true,
			}},
			{ID: "3", Status: model.RunStatusRunning, CreatedAt: now.Add(-30 * time.Minute)},
			{ID: "4", Status: model.RunStatusCancelled, CreatedAt: now.Add(-3 * time.Hour), Summary: &model.RunSummary{
				Total: 5, Submitted: 2, Unsubmitted: 3, QuotaUsed: 2,
			}},
			// Outside the lookback window.
			{ID: "5", Status: model.RunStatusFailed, CreatedAt: now.Add(-48 * time.Hour)},
		},
	}

	c := NewCollector(st)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsExhausted)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, 1, snap.RunsCancelled)
	assert.Equal(t, 0, snap.RunsFailed)

	assert.Equal(t, 35, snap.URLsTotal)
	assert.Equal(t, 22, snap.URLsSubmitted)
	assert.Equal(t, 1, snap.URLsSkipped)
	assert.Equal(t, 4, snap.URLsFailed)
	assert.Equal(t, 8, snap.URLsUnsubmitted)
	assert.Equal(t, 22, snap.QuotaUsed)
	assert.InDelta(t, 4.0/26.0, snap.FailureRate, 0.001) // 4 failed / 26 attempted
}

func TestCollector_FailureRateNoAttempts(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusCompleted, CreatedAt: now.Add(-1 * time.Hour), Summary: &model.RunSummary{
				Total: 3, Skipped: 3,
			}},
		},
	}

	c := NewCollector(st)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	// Nothing reached the API, so the failure rate stays 0.
	assert.Equal(t, 0.0, snap.FailureRate)
}

func TestCollector_ListError(t *testing.T) {
	st := &mockStore{listErr: assert.AnError}
	c := NewCollector(st)

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
