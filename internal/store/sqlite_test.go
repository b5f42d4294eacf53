package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoworks/indexer-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Runs ---

func TestSQLite_Runs_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, "urls.txt", got.Input)
	assert.Nil(t, got.Summary)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLite_Runs_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "no-such-run")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Runs_FinishWithSummary(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)

	summary := &model.RunSummary{
		Total:     3,
		Submitted: 2,
		Skipped:   1,
		QuotaUsed: 2,
		ByCred:    map[string]int{"sa-1": 2},
		Exhausted: false,
	}
	err = st.FinishRun(ctx, run.ID, model.RunStatusCompleted, summary)
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 3, got.Summary.Total)
	assert.Equal(t, 2, got.Summary.Submitted)
	assert.Equal(t, map[string]int{"sa-1": 2}, got.Summary.ByCred)
}

func TestSQLite_Runs_FinishMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.FinishRun(context.Background(), "no-such-run", model.RunStatusCompleted, &model.RunSummary{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Runs_ListWithStatusFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, "a.txt")
	require.NoError(t, err)
	r2, err := st.CreateRun(ctx, "b.txt")
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, r2.ID, model.RunStatusExhausted, &model.RunSummary{Exhausted: true}))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	exhausted, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusExhausted})
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, r2.ID, exhausted[0].ID)

	running, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, r1.ID, running[0].ID)
}

func TestSQLite_Runs_ListNewestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.CreateRun(ctx, "first.txt")
	require.NoError(t, err)
	second, err := st.CreateRun(ctx, "second.txt")
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)

	offset, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, offset, 1)
	assert.Equal(t, first.ID, offset[0].ID)
}

// --- Outcomes ---

func testOutcome(runID string, seq int, url, host string) model.Outcome {
	return model.Outcome{
		RunID:      runID,
		Seq:        seq,
		URL:        url,
		Host:       host,
		Action:     model.ActionUpdate,
		StatusCode: 200,
		Result:     model.ResultSubmitted,
		Credential: "sa-1",
	}
}

func TestSQLite_Outcomes_InsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)

	notified := time.Date(2026, 8, 25, 10, 15, 30, 0, time.UTC)
	o := testOutcome(run.ID, 0, "https://example.com/a", "example.com")
	o.NotifiedAt = &notified
	require.NoError(t, st.InsertOutcome(ctx, o))

	got, err := st.ListOutcomes(ctx, OutcomeFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, run.ID, got[0].RunID)
	assert.Equal(t, "https://example.com/a", got[0].URL)
	assert.Equal(t, model.ActionUpdate, got[0].Action)
	assert.Equal(t, 200, got[0].StatusCode)
	assert.Equal(t, model.ResultSubmitted, got[0].Result)
	assert.Equal(t, "sa-1", got[0].Credential)
	require.NotNil(t, got[0].NotifiedAt)
	assert.WithinDuration(t, notified, *got[0].NotifiedAt, time.Second)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestSQLite_Outcomes_NilNotifiedAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)

	o := testOutcome(run.ID, 0, "https://example.com/a", "example.com")
	o.Result = model.ResultSkipped
	o.Credential = ""
	require.NoError(t, st.InsertOutcome(ctx, o))

	got, err := st.ListOutcomes(ctx, OutcomeFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].NotifiedAt)
	assert.Empty(t, got[0].Credential)
}

func TestSQLite_Outcomes_SeqOrdering(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)

	// Identical created_at forces the seq tiebreak to carry the ordering.
	created := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for _, seq := range []int{2, 0, 1} {
		o := testOutcome(run.ID, seq, "https://example.com/p", "example.com")
		o.CreatedAt = created
		require.NoError(t, st.InsertOutcome(ctx, o))
	}

	got, err := st.ListOutcomes(ctx, OutcomeFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Seq)
	assert.Equal(t, 1, got[1].Seq)
	assert.Equal(t, 2, got[2].Seq)
}

func TestSQLite_Outcomes_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)

	a := testOutcome(run.ID, 0, "https://alpha.com/1", "alpha.com")
	b := testOutcome(run.ID, 1, "https://beta.com/1", "beta.com")
	b.Result = model.ResultFailed
	b.Detail = "api rejected"
	c := testOutcome(run.ID, 2, "https://alpha.com/2", "alpha.com")
	c.Result = model.ResultSkipped
	for _, o := range []model.Outcome{a, b, c} {
		require.NoError(t, st.InsertOutcome(ctx, o))
	}

	byHost, err := st.ListOutcomes(ctx, OutcomeFilter{RunID: run.ID, Host: "alpha.com"})
	require.NoError(t, err)
	assert.Len(t, byHost, 2)

	byResult, err := st.ListOutcomes(ctx, OutcomeFilter{RunID: run.ID, Result: model.ResultFailed})
	require.NoError(t, err)
	require.Len(t, byResult, 1)
	assert.Equal(t, "https://beta.com/1", byResult[0].URL)
	assert.Equal(t, "api rejected", byResult[0].Detail)
}

func TestSQLite_Outcomes_BulkInsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "import")
	require.NoError(t, err)

	var batch []model.Outcome
	for i := 0; i < 25; i++ {
		batch = append(batch, testOutcome(run.ID, i, "https://example.com/p", "example.com"))
	}
	require.NoError(t, st.InsertOutcomes(ctx, batch))

	got, err := st.ListOutcomes(ctx, OutcomeFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, got, 25)
}

func TestSQLite_Outcomes_BulkInsertEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.InsertOutcomes(context.Background(), nil))
}

// --- Domain stats ---

func TestSQLite_DomainStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)

	outcomes := []model.Outcome{
		testOutcome(run.ID, 0, "https://big.com/1", "big.com"),
		testOutcome(run.ID, 1, "https://big.com/2", "big.com"),
		testOutcome(run.ID, 2, "https://big.com/3", "big.com"),
		testOutcome(run.ID, 3, "https://small.com/1", "small.com"),
	}
	outcomes[1].Result = model.ResultFailed
	outcomes[2].Result = model.ResultUnsubmitted
	outcomes[3].Result = model.ResultSkipped
	require.NoError(t, st.InsertOutcomes(ctx, outcomes))

	stats, err := st.DomainStats(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, DomainStat{
		Host: "big.com", Total: 3, Submitted: 1, Failed: 1, Unsubmitted: 1,
	}, stats[0])
	assert.Equal(t, DomainStat{
		Host: "small.com", Total: 1, Skipped: 1,
	}, stats[1])
}

func TestSQLite_DomainStats_EmptyRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)

	stats, err := st.DomainStats(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, stats)
}
