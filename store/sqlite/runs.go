package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/warp/franchise-billing/billing"
)

// =============================================================================
// SWEEP RUNS (billing.RunStore interface)
// =============================================================================

// SaveSweepRun inserts or updates a sweep run.
func (s *Store) SaveSweepRun(ctx context.Context, r billing.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sweep_runs (id, year, month, status, created, skipped, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created = excluded.created,
			skipped = excluded.skipped,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Year, int(r.Month), r.Status, r.Created, r.Skipped, r.Failed, r.Error,
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	return errors.Wrap(err, "failed to save sweep run")
}

// GetSweepRuns returns sweep runs, most recent first. An empty status returns all.
func (s *Store) GetSweepRuns(ctx context.Context, status string) ([]billing.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, year, month, status, created, skipped, failed, error, started_at, completed_at
		FROM sweep_runs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query sweep runs")
	}
	defer rows.Close()

	var runs []billing.SweepRun
	for rows.Next() {
		var r billing.SweepRun
		var month int
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Year, &month, &r.Status, &r.Created, &r.Skipped, &r.Failed,
			&r.Error, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		var p columnParser
		r.Month = time.Month(month)
		r.StartedAt = p.time("started_at", startedAt)
		r.CompletedAt = p.timePtr("completed_at", completedAt)
		if p.err != nil {
			return nil, errors.Wrapf(p.err, "sweep run %s", r.ID)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// IsSweepComplete checks if the latest completed sweep for the month had no
// failed scopes.
func (s *Store) IsSweepComplete(ctx context.Context, year int, month time.Month) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed int
	err := s.db.QueryRowContext(ctx, `
		SELECT failed FROM sweep_runs
		WHERE year = ? AND month = ? AND status = 'completed'
		ORDER BY rowid DESC
		LIMIT 1
	`, year, int(month)).Scan(&failed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to query sweep status")
	}
	return failed == 0, nil
}
