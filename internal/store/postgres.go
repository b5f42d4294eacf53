package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/seoworks/indexer-cli/internal/db"
	"github.com/seoworks/indexer-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot path: one insert per processed URL.
var preparedStatements = map[string]string{
	"insert_run":     `INSERT INTO runs (id, status, input, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"finish_run":     `UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
	"get_run":        `SELECT id, status, input, summary, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_outcome": `INSERT INTO outcomes (id, run_id, seq, url, host, action, status_code, result, credential, detail, notified_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'running',
	input      TEXT,
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outcomes (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL DEFAULT 0,
	url         TEXT NOT NULL,
	host        TEXT NOT NULL,
	action      TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	result      TEXT NOT NULL,
	credential  TEXT,
	detail      TEXT,
	notified_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_host ON outcomes(host);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_host ON outcomes(run_id, host);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, input string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, input, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.RunStatusRunning), input, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var input *string
	var summaryJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, input, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &input, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if input != nil {
		r.Input = *input
	}
	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, input, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var input *string
		var summaryJSON []byte

		if err := rows.Scan(&r.ID, &r.Status, &input, &summaryJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if input != nil {
			r.Input = *input
		}
		if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) InsertOutcome(ctx context.Context, o model.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	var notified *time.Time
	if o.NotifiedAt != nil {
		t := o.NotifiedAt.UTC()
		notified = &t
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO outcomes (id, run_id, seq, url, host, action, status_code, result, credential, detail, notified_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.RunID, o.Seq, o.URL, o.Host, string(o.Action), o.StatusCode,
		string(o.Result), o.Credential, o.Detail, notified, o.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert outcome %s", o.URL)
}

var outcomeColumns = []string{
	"id", "run_id", "seq", "url", "host", "action",
	"status_code", "result", "credential", "detail", "notified_at", "created_at",
}

// InsertOutcomes bulk-loads a batch of outcomes via the COPY protocol.
func (s *PostgresStore) InsertOutcomes(ctx context.Context, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(outcomes))
	for _, o := range outcomes {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now().UTC()
		}
		var notified *time.Time
		if o.NotifiedAt != nil {
			t := o.NotifiedAt.UTC()
			notified = &t
		}
		rows = append(rows, []any{
			o.ID, o.RunID, o.Seq, o.URL, o.Host, string(o.Action),
			o.StatusCode, string(o.Result), o.Credential, o.Detail, notified, o.CreatedAt,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "outcomes", outcomeColumns, rows)
	if err != nil {
		return err
	}
	if n != int64(len(outcomes)) {
		return eris.Errorf("postgres: copied %d of %d outcomes", n, len(outcomes))
	}
	return nil
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.Outcome, error) {
	query := `SELECT id, run_id, seq, url, host, action, status_code, result, credential, detail, notified_at, created_at
	          FROM outcomes WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Host != "" {
		query += fmt.Sprintf(` AND host = $%d`, argIdx)
		args = append(args, filter.Host)
		argIdx++
	}
	if filter.Result != "" {
		query += fmt.Sprintf(` AND result = $%d`, argIdx)
		args = append(args, string(filter.Result))
		argIdx++
	}
	// seq preserves the input order of the run the outcome belongs to.
	query += ` ORDER BY created_at ASC, seq ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var o model.Outcome
		var credential, detail *string
		var notified *time.Time

		if err := rows.Scan(&o.ID, &o.RunID, &o.Seq, &o.URL, &o.Host, &o.Action, &o.StatusCode,
			&o.Result, &credential, &detail, &notified, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		if credential != nil {
			o.Credential = *credential
		}
		if detail != nil {
			o.Detail = *detail
		}
		o.NotifiedAt = notified
		outcomes = append(outcomes, o)
	}
	return outcomes, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) DomainStats(ctx context.Context, runID string) ([]DomainStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT host,
		        COUNT(*),
		        SUM(CASE WHEN result = 'submitted' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN result = 'skipped' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN result = 'failed' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN result = 'unsubmitted' THEN 1 ELSE 0 END)
		 FROM outcomes WHERE run_id = $1
		 GROUP BY host ORDER BY COUNT(*) DESC, host ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: domain stats")
	}
	defer rows.Close()

	var stats []DomainStat
	for rows.Next() {
		var d DomainStat
		if err := rows.Scan(&d.Host, &d.Total, &d.Submitted, &d.Skipped, &d.Failed, &d.Unsubmitted); err != nil {
			return nil, eris.Wrap(err, "postgres: scan domain stat")
		}
		stats = append(stats, d)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: domain stats iterate")
}
