// ABOUTME: Database operations for the sync_state cursor table
// ABOUTME: Tracks per-resource watermarks, run status and the last error
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/gestor/models"
)

const cursorColumns = `resource, watermark, token, last_run_at, status, error_message, created_at, updated_at`

func scanCursor(row scanner) (*models.SyncCursor, error) {
	var c models.SyncCursor
	var watermark, lastRun sql.NullTime
	var token, errorMessage sql.NullString

	err := row.Scan(&c.Resource, &watermark, &token, &lastRun, &c.Status, &errorMessage, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Watermark = timePtr(watermark)
	c.LastRunAt = timePtr(lastRun)
	c.Token = token.String
	c.ErrorMessage = errorMessage.String
	return &c, nil
}

// SyncCursor retrieves the cursor for a resource, or nil when it has never
// completed a pass.
func (s *Store) SyncCursor(ctx context.Context, resource string) (*models.SyncCursor, error) {
	c, err := scanCursor(s.db.QueryRowContext(ctx,
		`SELECT `+cursorColumns+` FROM sync_state WHERE resource = ?`, resource))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return c, nil
}

// MarkSyncRunning flags a resource as syncing without touching its watermark.
func (s *Store) MarkSyncRunning(ctx context.Context, resource string) error {
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (resource, status, created_at, updated_at)
		VALUES (?, 'syncing', ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			status = 'syncing',
			updated_at = excluded.updated_at
	`, resource, now, now)
	if err != nil {
		return fmt.Errorf("failed to mark sync running: %w", err)
	}
	return nil
}

// AdvanceSyncCursor records a completed pass. The watermark never moves
// backwards; use ResetSyncCursor to rewind.
func (s *Store) AdvanceSyncCursor(ctx context.Context, resource string, watermark time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanCursor(tx.QueryRowContext(ctx,
			`SELECT `+cursorColumns+` FROM sync_state WHERE resource = ?`, resource))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to load sync cursor: %w", err)
		}

		next := watermark.UTC()
		if current != nil && current.Watermark != nil && current.Watermark.After(next) {
			next = *current.Watermark
		}

		now := s.timestamp()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_state (resource, watermark, last_run_at, status, error_message, created_at, updated_at)
			VALUES (?, ?, ?, 'idle', NULL, ?, ?)
			ON CONFLICT(resource) DO UPDATE SET
				watermark = excluded.watermark,
				last_run_at = excluded.last_run_at,
				status = 'idle',
				error_message = NULL,
				updated_at = excluded.updated_at
		`, resource, next, now, now, now)
		if err != nil {
			return fmt.Errorf("failed to advance sync cursor: %w", err)
		}
		return nil
	})
}

// MarkSyncFailed records a failed pass. The watermark is left untouched so
// the next run re-covers the same window.
func (s *Store) MarkSyncFailed(ctx context.Context, resource, message string) error {
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (resource, last_run_at, status, error_message, created_at, updated_at)
		VALUES (?, ?, 'error', ?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			status = 'error',
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, resource, now, message, now, now)
	if err != nil {
		return fmt.Errorf("failed to mark sync failed: %w", err)
	}
	return nil
}

// ResetSyncCursor forgets the cursor for one resource, or for every
// resource when resource is empty. The next run starts from the default
// look-back window.
func (s *Store) ResetSyncCursor(ctx context.Context, resource string) error {
	resource = strings.TrimSpace(resource)
	var err error
	if resource == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM sync_state`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE resource = ?`, resource)
	}
	if err != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", err)
	}
	return nil
}

// ListSyncCursors retrieves every stored cursor ordered by resource.
func (s *Store) ListSyncCursors(ctx context.Context) ([]models.SyncCursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cursorColumns+` FROM sync_state ORDER BY resource`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cursors []models.SyncCursor
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync cursor: %w", err)
		}
		cursors = append(cursors, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync cursors: %w", err)
	}
	return cursors, nil
}
