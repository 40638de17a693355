// ABOUTME: Process upsert and query operations
// ABOUTME: Every process belongs to a company; opaque upstream blobs are stored as JSON text
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/gestor/models"
)

// ProcessFields carries the values supplied by one upstream record.
// Nil fields leave the stored column untouched, except CompanyID which is
// required on every call.
type ProcessFields struct {
	CompanyID   *uuid.UUID
	Title       *string
	Department  *string
	Description *string
	StatusRaw   *string
	Status      *string
	Progress    *float64
	StartedAt   *time.Time
	FinishedAt  *time.Time
	ChangedAt   *time.Time
	Responsible *string
	Steps       *string
	History     *string
	Attachments *string
	Raw         *string
}

// ProcessFilter narrows ListProcesses. Limit <= 0 lists everything.
type ProcessFilter struct {
	CompanyID    *uuid.UUID
	Status       string
	Query        string
	ChangedSince *time.Time
	Limit        int
}

const processColumns = `id, external_id, company_id, title, department, description, status_raw, status,
	progress, started_at, finished_at, changed_at, responsible, steps, history, attachments, raw,
	created_at, updated_at`

func scanProcess(row scanner) (*models.Process, error) {
	var p models.Process
	var started, finished, changed sql.NullTime
	err := row.Scan(&p.ID, &p.ExternalID, &p.CompanyID, &p.Title, &p.Department, &p.Description,
		&p.StatusRaw, &p.Status, &p.Progress, &started, &finished, &changed,
		&p.Responsible, &p.Steps, &p.History, &p.Attachments, &p.Raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.StartedAt = timePtr(started)
	p.FinishedAt = timePtr(finished)
	p.ChangedAt = timePtr(changed)
	return &p, nil
}

func applyProcess(p *models.Process, f ProcessFields) bool {
	changed := false
	if f.CompanyID != nil && p.CompanyID != *f.CompanyID {
		p.CompanyID = *f.CompanyID
		changed = true
	}
	changed = mergeString(&p.Title, f.Title) || changed
	changed = mergeString(&p.Department, f.Department) || changed
	changed = mergeString(&p.Description, f.Description) || changed
	changed = mergeString(&p.StatusRaw, f.StatusRaw) || changed
	changed = mergeString(&p.Status, f.Status) || changed
	changed = mergeFloat(&p.Progress, f.Progress) || changed
	changed = mergeTime(&p.StartedAt, f.StartedAt) || changed
	changed = mergeTime(&p.FinishedAt, f.FinishedAt) || changed
	changed = mergeTime(&p.ChangedAt, f.ChangedAt) || changed
	changed = mergeString(&p.Responsible, f.Responsible) || changed
	changed = mergeString(&p.Steps, f.Steps) || changed
	changed = mergeString(&p.History, f.History) || changed
	changed = mergeString(&p.Attachments, f.Attachments) || changed
	changed = mergeString(&p.Raw, f.Raw) || changed
	return changed
}

// UpsertProcess inserts or merges the process with the given external id.
func (s *Store) UpsertProcess(ctx context.Context, externalID string, f ProcessFields) (*models.Process, error) {
	externalID, err := normalizeExternalID(externalID)
	if err != nil {
		return nil, err
	}
	if f.CompanyID == nil || *f.CompanyID == uuid.Nil {
		return nil, ErrMissingCompany
	}

	var result *models.Process
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanProcess(tx.QueryRowContext(ctx,
			`SELECT `+processColumns+` FROM processes WHERE external_id = ?`, externalID))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to load process: %w", err)
		}

		now := s.timestamp()
		if existing == nil {
			p := &models.Process{
				ID:         uuid.New(),
				ExternalID: externalID,
				Status:     models.StatusOther,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			applyProcess(p, f)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO processes (id, external_id, company_id, title, department, description,
					status_raw, status, progress, started_at, finished_at, changed_at,
					responsible, steps, history, attachments, raw, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, p.ID.String(), p.ExternalID, p.CompanyID.String(), p.Title, p.Department, p.Description,
				p.StatusRaw, p.Status, p.Progress, nullTime(p.StartedAt), nullTime(p.FinishedAt), nullTime(p.ChangedAt),
				p.Responsible, p.Steps, p.History, p.Attachments, p.Raw, p.CreatedAt, p.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert process: %w", err)
			}
			result = p
			return nil
		}

		result = existing
		if !applyProcess(existing, f) {
			return nil
		}
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE processes
			SET company_id = ?, title = ?, department = ?, description = ?, status_raw = ?, status = ?,
				progress = ?, started_at = ?, finished_at = ?, changed_at = ?, responsible = ?, steps = ?,
				history = ?, attachments = ?, raw = ?, updated_at = ?
			WHERE id = ?
		`, existing.CompanyID.String(), existing.Title, existing.Department, existing.Description,
			existing.StatusRaw, existing.Status, existing.Progress, nullTime(existing.StartedAt),
			nullTime(existing.FinishedAt), nullTime(existing.ChangedAt), existing.Responsible, existing.Steps,
			existing.History, existing.Attachments, existing.Raw, existing.UpdatedAt, existing.ID.String())
		if err != nil {
			return fmt.Errorf("failed to update process: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert process %s: %w", externalID, err)
	}
	return result, nil
}

// ProcessByExternalID returns nil when no process has that external id.
func (s *Store) ProcessByExternalID(ctx context.Context, externalID string) (*models.Process, error) {
	p, err := scanProcess(s.db.QueryRowContext(ctx,
		`SELECT `+processColumns+` FROM processes WHERE external_id = ?`, strings.TrimSpace(externalID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return p, nil
}

// ListProcesses returns processes most recently changed first.
func (s *Store) ListProcesses(ctx context.Context, filter ProcessFilter) ([]models.Process, error) {
	var where []string
	var args []any
	if filter.CompanyID != nil {
		where = append(where, `company_id = ?`)
		args = append(args, filter.CompanyID.String())
	}
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, strings.ToUpper(filter.Status))
	}
	if strings.TrimSpace(filter.Query) != "" {
		where = append(where, `(LOWER(title) LIKE ? OR external_id LIKE ?)`)
		pattern := likePattern(filter.Query)
		args = append(args, pattern, pattern)
	}
	if filter.ChangedSince != nil {
		where = append(where, `changed_at >= ?`)
		args = append(args, filter.ChangedSince.UTC())
	}

	query := `SELECT ` + processColumns + ` FROM processes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY changed_at DESC, external_id` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var processes []models.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}
		processes = append(processes, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processes: %w", err)
	}
	return processes, nil
}
