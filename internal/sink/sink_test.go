package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoworks/indexer-cli/internal/model"
)

func fixedTime() time.Time {
	return time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
}

func newTestCSV(t *testing.T) (*CSV, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := NewCSV(dir)
	require.NoError(t, err)
	c.now = fixedTime
	return c, dir
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSV_GroupsByDomain(t *testing.T) {
	c, dir := newTestCSV(t)
	ctx := context.Background()

	notified := time.Date(2026, 8, 25, 10, 15, 30, 123456000, time.UTC)
	require.NoError(t, c.Record(ctx, model.Outcome{
		URL: "https://acme.com/a", Host: "acme.com",
		Action: model.ActionUpdate, StatusCode: 200,
		Result: model.ResultSubmitted, Credential: "svc-a",
		NotifiedAt: &notified,
	}))
	require.NoError(t, c.Record(ctx, model.Outcome{
		URL: "https://other.org/x", Host: "other.org",
		Action: model.ActionDelete, StatusCode: 404,
		Result: model.ResultSubmitted, Credential: "svc-a",
	}))
	require.NoError(t, c.Record(ctx, model.Outcome{
		URL: "https://acme.com/b", Host: "acme.com",
		Action: model.ActionSkip, StatusCode: 301,
		Result: model.ResultSkipped,
	}))
	require.NoError(t, c.Close())

	acme := readRows(t, filepath.Join(dir, "acme.com_2026-08-25.csv"))
	require.Len(t, acme, 3)
	assert.Equal(t, []string{"URL", "Status Code", "Status", "Notify Date", "Date", "Service Account"}, acme[0])
	assert.Equal(t, []string{
		"https://acme.com/a", "200", "URL_UPDATED",
		"2026-08-25T10:15:30.123456Z", "2026-08-25 14:30:00", "svc-a",
	}, acme[1])
	assert.Equal(t, []string{
		"https://acme.com/b", "301", "URL_SKIPPED",
		"", "2026-08-25 14:30:00", "",
	}, acme[2])

	other := readRows(t, filepath.Join(dir, "other.org_2026-08-25.csv"))
	require.Len(t, other, 2)
	assert.Equal(t, "URL_DELETED", other[1][2])
}

func TestCSV_UniqueFileNames(t *testing.T) {
	c, dir := newTestCSV(t)

	// A file from an earlier run today already exists.
	taken := filepath.Join(dir, "acme.com_2026-08-25.csv")
	require.NoError(t, os.WriteFile(taken, []byte("old\n"), 0o644))

	require.NoError(t, c.Record(context.Background(), model.Outcome{
		URL: "https://acme.com/a", Host: "acme.com",
		Action: model.ActionUpdate, StatusCode: 200, Result: model.ResultSubmitted,
	}))
	require.NoError(t, c.Close())

	// The old audit is untouched and the new rows went to a suffixed file.
	old, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(old))

	rows := readRows(t, filepath.Join(dir, "acme.com_2026-08-25_1.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, "https://acme.com/a", rows[1][0])
}

func TestCSV_StatusLabels(t *testing.T) {
	tests := []struct {
		result model.OutcomeResult
		action model.Action
		want   string
	}{
		{model.ResultSubmitted, model.ActionUpdate, "URL_UPDATED"},
		{model.ResultSubmitted, model.ActionDelete, "URL_DELETED"},
		{model.ResultSkipped, model.ActionSkip, "URL_SKIPPED"},
		{model.ResultSkipped, model.ActionUnreachable, "UNREACHABLE"},
		{model.ResultFailed, model.ActionUpdate, "API_ERROR"},
		{model.ResultUnsubmitted, model.ActionUpdate, "UNSUBMITTED"},
	}
	for _, tt := range tests {
		got := statusLabel(model.Outcome{Result: tt.result, Action: tt.action})
		assert.Equal(t, tt.want, got)
	}
}

func TestSanitizeHost(t *testing.T) {
	assert.Equal(t, "acme.com", sanitizeHost("acme.com"))
	assert.Equal(t, "sub.acme-shop.com", sanitizeHost("sub.acme-shop.com"))
	assert.Equal(t, "-2001-db8--1-", sanitizeHost("[2001:db8::1]"))
	assert.Equal(t, "unknown", sanitizeHost(""))
}

type failingSink struct{ closed bool }

func (f *failingSink) Record(context.Context, model.Outcome) error {
	return eris.New("sink broke")
}
func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestMulti_KeepsGoingPastFailures(t *testing.T) {
	mem := NewMemory()
	broken := &failingSink{}
	m := NewMulti(broken, mem)

	err := m.Record(context.Background(), model.Outcome{URL: "https://acme.com/a"})
	require.Error(t, err)

	// The healthy sink still got the record.
	require.Len(t, mem.Outcomes(), 1)

	require.NoError(t, m.Close())
	assert.True(t, broken.closed)
}

func TestStoreSink(t *testing.T) {
	mem := &memWriter{}
	s := NewStore(mem)
	require.NoError(t, s.Record(context.Background(), model.Outcome{URL: "https://acme.com/a"}))
	require.Len(t, mem.got, 1)
	require.NoError(t, s.Close())
}

type memWriter struct{ got []model.Outcome }

func (m *memWriter) InsertOutcome(_ context.Context, o model.Outcome) error {
	m.got = append(m.got, o)
	return nil
}
