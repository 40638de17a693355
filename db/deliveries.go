// ABOUTME: Delivery upsert and query operations
// ABOUTME: Deliveries may link to a process and a company; neither link is required
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

// DeliveryFields carries the values supplied by one upstream record.
// Nil fields leave the stored column untouched.
type DeliveryFields struct {
	ProcessID  *uuid.UUID
	CompanyID  *uuid.UUID
	Type       *string
	StatusRaw  *string
	OccurredAt *time.Time
	DueAt      *time.Time
	Raw        *string
}

// DeliveryFilter narrows ListDeliveries. Limit <= 0 lists everything.
type DeliveryFilter struct {
	CompanyID *uuid.UUID
	ProcessID *uuid.UUID
	Type      string
	Since     *time.Time
	Limit     int
}

const deliveryColumns = `id, external_id, process_id, company_id, type, status_raw, occurred_at, due_at, raw,
	created_at, updated_at`

func scanDelivery(row scanner) (*models.Delivery, error) {
	var d models.Delivery
	var processID, companyID sql.NullString
	var occurred, due sql.NullTime
	err := row.Scan(&d.ID, &d.ExternalID, &processID, &companyID, &d.Type, &d.StatusRaw,
		&occurred, &due, &d.Raw, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.ProcessID, err = uuidPtr(processID); err != nil {
		return nil, err
	}
	if d.CompanyID, err = uuidPtr(companyID); err != nil {
		return nil, err
	}
	d.OccurredAt = timePtr(occurred)
	d.DueAt = timePtr(due)
	return &d, nil
}

func applyDelivery(d *models.Delivery, f DeliveryFields) bool {
	changed := mergeUUID(&d.ProcessID, f.ProcessID)
	changed = mergeUUID(&d.CompanyID, f.CompanyID) || changed
	changed = mergeString(&d.Type, f.Type) || changed
	changed = mergeString(&d.StatusRaw, f.StatusRaw) || changed
	changed = mergeTime(&d.OccurredAt, f.OccurredAt) || changed
	changed = mergeTime(&d.DueAt, f.DueAt) || changed
	changed = mergeString(&d.Raw, f.Raw) || changed
	return changed
}

// UpsertDelivery inserts or merges the delivery with the given external id.
func (s *Store) UpsertDelivery(ctx context.Context, externalID string, f DeliveryFields) (*models.Delivery, error) {
	externalID, err := normalizeExternalID(externalID)
	if err != nil {
		return nil, err
	}

	var result *models.Delivery
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanDelivery(tx.QueryRowContext(ctx,
			`SELECT `+deliveryColumns+` FROM deliveries WHERE external_id = ?`, externalID))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to load delivery: %w", err)
		}

		now := s.timestamp()
		if existing == nil {
			d := &models.Delivery{ID: uuid.New(), ExternalID: externalID, CreatedAt: now, UpdatedAt: now}
			applyDelivery(d, f)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO deliveries (id, external_id, process_id, company_id, type, status_raw,
					occurred_at, due_at, raw, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, d.ID.String(), d.ExternalID, nullUUID(d.ProcessID), nullUUID(d.CompanyID), d.Type, d.StatusRaw,
				nullTime(d.OccurredAt), nullTime(d.DueAt), d.Raw, d.CreatedAt, d.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert delivery: %w", err)
			}
			result = d
			return nil
		}

		result = existing
		if !applyDelivery(existing, f) {
			return nil
		}
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE deliveries
			SET process_id = ?, company_id = ?, type = ?, status_raw = ?, occurred_at = ?, due_at = ?,
				raw = ?, updated_at = ?
			WHERE id = ?
		`, nullUUID(existing.ProcessID), nullUUID(existing.CompanyID), existing.Type, existing.StatusRaw,
			nullTime(existing.OccurredAt), nullTime(existing.DueAt), existing.Raw, existing.UpdatedAt,
			existing.ID.String())
		if err != nil {
			return fmt.Errorf("failed to update delivery: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert delivery %s: %w", externalID, err)
	}
	return result, nil
}

// DeliveryByExternalID returns nil when no delivery has that external id.
func (s *Store) DeliveryByExternalID(ctx context.Context, externalID string) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE external_id = ?`, strings.TrimSpace(externalID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns deliveries most recent event first.
func (s *Store) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]models.Delivery, error) {
	var where []string
	var args []any
	if filter.CompanyID != nil {
		where = append(where, `company_id = ?`)
		args = append(args, filter.CompanyID.String())
	}
	if filter.ProcessID != nil {
		where = append(where, `process_id = ?`)
		args = append(args, filter.ProcessID.String())
	}
	if strings.TrimSpace(filter.Type) != "" {
		where = append(where, `LOWER(type) LIKE ?`)
		args = append(args, likePattern(filter.Type))
	}
	if filter.Since != nil {
		where = append(where, `occurred_at >= ?`)
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + deliveryColumns + ` FROM deliveries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY occurred_at DESC, external_id` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}
	return deliveries, nil
}
