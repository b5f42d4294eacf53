package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewSQLite_InvalidDSN verifies that NewSQLite returns an error for
// an invalid DSN (e.g., a path inside a nonexistent directory).
func TestNewSQLite_InvalidDSN(t *testing.T) {
	// Use a path that cannot be created (nested under a nonexistent parent).
	_, err := NewSQLite("/nonexistent/dir/subdir/test.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

// TestNewSQLite_ValidPath confirms NewSQLite succeeds with a valid path and
// sets up WAL mode properly.
func TestNewSQLite_ValidPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "valid.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NotNil(t, s)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	// Verify WAL mode was set by querying the journal_mode pragma.
	var mode string
	err = s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// TestNewSQLite_CloseAndReopen verifies the database can be closed and reopened.
func TestNewSQLite_CloseAndReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	s1, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Migrate(context.Background()))
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() }) //nolint:errcheck

	// Tables should already exist from the first migration.
	ctx := context.Background()
	_, err = s2.CreateRun(ctx, "urls.txt")
	require.NoError(t, err)
}

// TestScanRun_CorruptSummaryJSON covers the error path where summary JSON is
// present but invalid.
func TestScanRun_CorruptSummaryJSON(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	// Insert a row with corrupt summary JSON directly via SQL.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, input, summary, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"corrupt-summary-id", "completed", "urls.txt", "not-valid-json{{{", time.Now().UTC(), time.Now().UTC(),
	)
	require.NoError(t, err)

	_, err = s.GetRun(ctx, "corrupt-summary-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal summary")
}

// TestScanRun_NullSummary verifies that a literal "null" summary column is
// treated the same as an absent one.
func TestScanRun_NullSummary(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, input, summary, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"null-summary-id", "completed", "urls.txt", "null", time.Now().UTC(), time.Now().UTC(),
	)
	require.NoError(t, err)

	got, err := s.GetRun(ctx, "null-summary-id")
	require.NoError(t, err)
	assert.Nil(t, got.Summary)
}

// TestCheckRowsAffected_ZeroRows verifies the "not found" error when no rows
// are affected.
func TestCheckRowsAffected_ZeroRows(t *testing.T) {
	res := &fakeResult{rowsAffected: 0, err: nil}
	err := checkRowsAffected(res, "run", "abc-123")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "abc-123")
}

// TestCheckRowsAffected_Error verifies error propagation from RowsAffected().
func TestCheckRowsAffected_Error(t *testing.T) {
	res := &fakeResult{rowsAffected: 0, err: assert.AnError}
	err := checkRowsAffected(res, "run", "abc-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected")
}

// TestCheckRowsAffected_Success verifies nil error when rows > 0.
func TestCheckRowsAffected_Success(t *testing.T) {
	res := &fakeResult{rowsAffected: 1, err: nil}
	err := checkRowsAffected(res, "run", "abc-123")
	require.NoError(t, err)
}

// TestInsertOutcome_InvalidRunID verifies that inserting an outcome with a
// non-existent run ID fails when FK enforcement is on (SQLite enforces FK).
func TestInsertOutcome_InvalidRunID(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	// Enable foreign key enforcement.
	_, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	err = s.InsertOutcome(ctx, testOutcome("nonexistent-run-id", 0, "https://x.com/a", "x.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: insert outcome")
}

// fakeResult implements sql.Result for testing checkRowsAffected.
type fakeResult struct {
	rowsAffected int64
	err          error
}

func (f *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (f *fakeResult) RowsAffected() (int64, error) { return f.rowsAffected, f.err }

// Verify fakeResult implements sql.Result at compile time.
var _ sql.Result = (*fakeResult)(nil)
