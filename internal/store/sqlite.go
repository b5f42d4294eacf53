package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/seoworks/indexer-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	input      TEXT,
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS outcomes (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL DEFAULT 0,
	url         TEXT NOT NULL,
	host        TEXT NOT NULL,
	action      TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	result      TEXT NOT NULL,
	credential  TEXT,
	detail      TEXT,
	notified_at DATETIME,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_host ON outcomes(host);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_host ON outcomes(run_id, host);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, input string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, input, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), input, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, input, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, input, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) InsertOutcome(ctx context.Context, o model.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	var notified any
	if o.NotifiedAt != nil {
		notified = o.NotifiedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, run_id, seq, url, host, action, status_code, result, credential, detail, notified_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RunID, o.Seq, o.URL, o.Host, string(o.Action), o.StatusCode,
		string(o.Result), o.Credential, o.Detail, notified, o.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert outcome %s", o.URL)
}

// InsertOutcomes writes a batch of outcomes in a single transaction.
func (s *SQLiteStore) InsertOutcomes(ctx context.Context, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (id, run_id, seq, url, host, action, status_code, result, credential, detail, notified_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert outcome")
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now().UTC()
		}
		var notified any
		if o.NotifiedAt != nil {
			notified = o.NotifiedAt.UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			o.ID, o.RunID, o.Seq, o.URL, o.Host, string(o.Action), o.StatusCode,
			string(o.Result), o.Credential, o.Detail, notified, o.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert outcome %s", o.URL)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit outcomes")
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.Outcome, error) {
	query := `SELECT id, run_id, seq, url, host, action, status_code, result, credential, detail, notified_at, created_at
	          FROM outcomes WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Host != "" {
		query += ` AND host = ?`
		args = append(args, filter.Host)
	}
	if filter.Result != "" {
		query += ` AND result = ?`
		args = append(args, string(filter.Result))
	}
	// seq preserves the input order of the run the outcome belongs to.
	query += ` ORDER BY created_at ASC, seq ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) DomainStats(ctx context.Context, runID string) ([]DomainStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host,
		        COUNT(*),
		        SUM(CASE WHEN result = 'submitted' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN result = 'skipped' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN result = 'failed' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN result = 'unsubmitted' THEN 1 ELSE 0 END)
		 FROM outcomes WHERE run_id = ?
		 GROUP BY host ORDER BY COUNT(*) DESC, host ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: domain stats")
	}
	defer rows.Close()

	var stats []DomainStat
	for rows.Next() {
		var d DomainStat
		if err := rows.Scan(&d.Host, &d.Total, &d.Submitted, &d.Skipped, &d.Failed, &d.Unsubmitted); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan domain stat")
		}
		stats = append(stats, d)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: domain stats iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var input, summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &input, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Input = input.String
	if summaryJSON.Valid && summaryJSON.String != "" && summaryJSON.String != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}

func scanOutcome(row scannable) (*model.Outcome, error) {
	var o model.Outcome
	var credential, detail sql.NullString
	var notified sql.NullTime

	err := row.Scan(&o.ID, &o.RunID, &o.Seq, &o.URL, &o.Host, &o.Action, &o.StatusCode,
		&o.Result, &credential, &detail, &notified, &o.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan outcome")
	}

	o.Credential = credential.String
	o.Detail = detail.String
	if notified.Valid {
		t := notified.Time
		o.NotifiedAt = &t
	}
	return &o, nil
}
