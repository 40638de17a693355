// ABOUTME: Run log and cross-process sync lock persistence
// ABOUTME: sync_runs keeps one row per orchestrator run; sync_lock guards against overlapping runs
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/gestor/models"
)

const (
	runColumns   = `id, trigger_source, full_resync, status, started_at, finished_at, summary, error`
	syncLockName = "sync"
)

func scanRun(row scanner) (*models.SyncRun, error) {
	var r models.SyncRun
	var finished sql.NullTime
	var summary, errMsg sql.NullString
	err := row.Scan(&r.ID, &r.Trigger, &r.Full, &r.Status, &r.StartedAt, &finished, &summary, &errMsg)
	if err != nil {
		return nil, err
	}
	r.FinishedAt = timePtr(finished)
	r.Summary = summary.String
	r.Error = errMsg.String
	return &r, nil
}

// CreateSyncRun records the start of a run.
func (s *Store) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, trigger_source, full_resync, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Trigger, run.Full, run.Status, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// FinishSyncRun stores the outcome of a run.
func (s *Store) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.FinishedAt == nil {
		now := s.timestamp()
		run.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_at = ?, summary = ?, error = ?
		WHERE id = ?
	`, run.Status, run.FinishedAt.UTC(), run.Summary, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to finish sync run: unknown run %s", run.ID)
	}
	return nil
}

// LatestSyncRun returns the most recently started run, or nil.
func (s *Store) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	return s.runWhere(ctx, ``)
}

// LatestSuccessfulSyncRun returns the most recent run that finished ok, or nil.
func (s *Store) LatestSuccessfulSyncRun(ctx context.Context) (*models.SyncRun, error) {
	return s.runWhere(ctx, `WHERE status = 'ok'`)
}

func (s *Store) runWhere(ctx context.Context, where string) (*models.SyncRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs `+where+` ORDER BY started_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return r, nil
}

// ListSyncRuns returns the most recent runs first.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []models.SyncRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, nil
}

// AcquireSyncLock claims the run lock for owner until ttl elapses. It
// returns false when another owner holds an unexpired lock. Re-acquiring
// by the same owner extends the expiry.
func (s *Store) AcquireSyncLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()

		var holder string
		var expires time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT owner, expires_at FROM sync_lock WHERE name = ?`, syncLockName).Scan(&holder, &expires)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read sync lock: %w", err)
		}
		if err == nil && holder != owner && expires.After(now) {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_lock (name, owner, acquired_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				owner = excluded.owner,
				acquired_at = excluded.acquired_at,
				expires_at = excluded.expires_at
		`, syncLockName, owner, now, now.Add(ttl))
		if err != nil {
			return fmt.Errorf("failed to write sync lock: %w", err)
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseSyncLock drops the lock if owner still holds it.
func (s *Store) ReleaseSyncLock(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_lock WHERE name = ? AND owner = ?`, syncLockName, owner)
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// SyncLockHolder returns the current owner of an unexpired lock, or "".
func (s *Store) SyncLockHolder(ctx context.Context) (string, error) {
	var holder string
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, expires_at FROM sync_lock WHERE name = ?`, syncLockName).Scan(&holder, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync lock: %w", err)
	}
	if !expires.After(s.timestamp()) {
		return "", nil
	}
	return holder, nil
}
