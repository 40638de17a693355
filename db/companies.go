// ABOUTME: Company upsert and lookup operations
// ABOUTME: Companies are keyed by upstream external id and looked up by document number
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/harperreed/gestor/models"
)

// CompanyFields carries the values supplied by one upstream record.
// Nil fields leave the stored column untouched.
type CompanyFields struct {
	Name     *string
	Document *string
	Email    *string
	Raw      *string
}

// CompanyFilter narrows ListCompanies. Limit <= 0 lists everything.
type CompanyFilter struct {
	Query string
	Limit int
}

const companyColumns = `id, external_id, name, document, email, raw, created_at, updated_at`

func scanCompany(row scanner) (*models.Company, error) {
	var c models.Company
	err := row.Scan(&c.ID, &c.ExternalID, &c.Name, &c.Document, &c.Email, &c.Raw, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func applyCompany(c *models.Company, f CompanyFields) bool {
	changed := mergeString(&c.Name, f.Name)
	changed = mergeString(&c.Document, f.Document) || changed
	changed = mergeString(&c.Email, f.Email) || changed
	changed = mergeString(&c.Raw, f.Raw) || changed
	return changed
}

// UpsertCompany inserts or merges the company with the given external id.
// Repeating the call with the same fields leaves the row unchanged.
func (s *Store) UpsertCompany(ctx context.Context, externalID string, f CompanyFields) (*models.Company, error) {
	externalID, err := normalizeExternalID(externalID)
	if err != nil {
		return nil, err
	}

	var result *models.Company
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanCompany(tx.QueryRowContext(ctx,
			`SELECT `+companyColumns+` FROM companies WHERE external_id = ?`, externalID))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to load company: %w", err)
		}

		now := s.timestamp()
		if existing == nil {
			c := &models.Company{ID: uuid.New(), ExternalID: externalID, CreatedAt: now, UpdatedAt: now}
			applyCompany(c, f)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO companies (id, external_id, name, document, email, raw, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, c.ID.String(), c.ExternalID, c.Name, c.Document, c.Email, c.Raw, c.CreatedAt, c.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert company: %w", err)
			}
			result = c
			return nil
		}

		result = existing
		if !applyCompany(existing, f) {
			return nil
		}
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE companies
			SET name = ?, document = ?, email = ?, raw = ?, updated_at = ?
			WHERE id = ?
		`, existing.Name, existing.Document, existing.Email, existing.Raw, existing.UpdatedAt, existing.ID.String())
		if err != nil {
			return fmt.Errorf("failed to update company: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert company %s: %w", externalID, err)
	}
	return result, nil
}

// CompanyByExternalID returns nil when no company has that external id.
func (s *Store) CompanyByExternalID(ctx context.Context, externalID string) (*models.Company, error) {
	return s.companyWhere(ctx, `external_id = ?`, strings.TrimSpace(externalID))
}

// CompanyByDocument returns the oldest company with that document, or nil.
func (s *Store) CompanyByDocument(ctx context.Context, document string) (*models.Company, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return nil, nil
	}
	return s.companyWhere(ctx, `document = ?`, document)
}

// GetCompany returns nil when the local id is unknown.
func (s *Store) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	return s.companyWhere(ctx, `id = ?`, id.String())
}

func (s *Store) companyWhere(ctx context.Context, where string, arg any) (*models.Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE `+where+` ORDER BY created_at LIMIT 1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return c, nil
}

// ListCompanies returns companies ordered by name, optionally matching a
// case-insensitive query against name, document or external id.
func (s *Store) ListCompanies(ctx context.Context, filter CompanyFilter) ([]models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies`
	var args []any
	if strings.TrimSpace(filter.Query) != "" {
		pattern := likePattern(filter.Query)
		query += ` WHERE LOWER(name) LIKE ? OR document LIKE ? OR external_id LIKE ?`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY name, external_id` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var companies []models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}
	return companies, nil
}

// FindCompany resolves a user-supplied reference: a local id, an upstream
// external id, or a document number with or without punctuation.
func (s *Store) FindCompany(ctx context.Context, ref string) (*models.Company, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.GetCompany(ctx, id)
	}
	c, err := s.CompanyByExternalID(ctx, ref)
	if err != nil || c != nil {
		return c, err
	}
	return s.CompanyByDocument(ctx, digitsOnly(ref))
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
