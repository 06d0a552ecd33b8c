package stresstest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/studiowebux/asynchttp/internal/migrations"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("stress run not found")

const runColumns = `id, name, method, url, started_at, completed_at, status, concurrency,
	total_requests, completed_requests, total_errors, validation_errors, avg_duration_ms,
	min_duration_ms, max_duration_ms, p50_duration_ms, p95_duration_ms, p99_duration_ms`

// Store handles stress run persistence in the history database
type Store struct {
	db      *sql.DB
	dialect migrations.Dialect
}

// NewStore wraps a migrated database handle
func NewStore(db *sql.DB, dialect migrations.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// SaveRun inserts a finished run and its error counts, setting run.ID
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	query := `
		INSERT INTO stress_runs (
			name, method, url, started_at, completed_at, status, concurrency,
			total_requests, completed_requests, total_errors, validation_errors, avg_duration_ms,
			min_duration_ms, max_duration_ms, p50_duration_ms, p95_duration_ms, p99_duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		run.Name, run.Method, run.URL, run.StartedAt.UTC(), completedAt, run.Status, run.Concurrency,
		run.TotalRequests, run.CompletedRequests, run.TotalErrors, run.ValidationErrors, run.AvgDurationMs,
		run.MinDurationMs, run.MaxDurationMs, run.P50DurationMs, run.P95DurationMs, run.P99DurationMs,
	}

	var id int64
	if s.dialect.Returning {
		err = tx.QueryRowContext(ctx, s.dialect.Rebind(query+" RETURNING id"), args...).Scan(&id)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, s.dialect.Rebind(query), args...)
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	insertKind := s.dialect.Rebind("INSERT INTO stress_errors (run_id, kind, count) VALUES (?, ?, ?)")
	for kind, count := range run.Errors {
		if _, err := tx.ExecContext(ctx, insertKind, id, kind, count); err != nil {
			return fmt.Errorf("failed to insert error count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	run.ID = id
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind("SELECT "+runColumns+" FROM stress_runs WHERE id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err := s.loadErrors(ctx, runs[0]); err != nil {
		return nil, err
	}
	return runs[0], nil
}

// ListRuns returns runs newest first. A limit of zero or less returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM stress_runs ORDER BY started_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if err := s.loadErrors(ctx, r); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteRun removes a run and its error counts
func (s *Store) DeleteRun(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM stress_errors WHERE run_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete error counts: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM stress_runs WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return tx.Commit()
}

// scanRuns reads and closes rows
func scanRuns(rows *sql.Rows) ([]*Run, error) {
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var completedAt sql.NullTime
		err := rows.Scan(&r.ID, &r.Name, &r.Method, &r.URL, &r.StartedAt, &completedAt, &r.Status,
			&r.Concurrency, &r.TotalRequests, &r.CompletedRequests, &r.TotalErrors, &r.ValidationErrors,
			&r.AvgDurationMs, &r.MinDurationMs, &r.MaxDurationMs, &r.P50DurationMs, &r.P95DurationMs,
			&r.P99DurationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) loadErrors(ctx context.Context, r *Run) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind("SELECT kind, count FROM stress_errors WHERE run_id = ?"), r.ID)
	if err != nil {
		return fmt.Errorf("failed to query error counts: %w", err)
	}
	defer rows.Close()

	r.Errors = make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return fmt.Errorf("failed to scan error count: %w", err)
		}
		r.Errors[kind] = count
	}
	return rows.Err()
}
