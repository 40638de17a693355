// ABOUTME: Store is the repository over the SQLite handle used by the sync engine
// ABOUTME: Provides transactions, merge helpers and scanning utilities shared by upserts
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

var (
	ErrMissingExternalID = errors.New("external id is required")
	ErrMissingCompany    = errors.New("company id is required")
)

// Store wraps the database for the entities mirrored from upstream.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new store over an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Counts returns the number of stored rows per resource.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(models.Resources))
	for _, table := range models.Resources {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func normalizeExternalID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingExternalID
	}
	return id, nil
}

// Merge helpers: a nil source leaves dst untouched. Each reports whether dst changed.

func mergeString(dst *string, src *string) bool {
	if src == nil || *dst == *src {
		return false
	}
	*dst = *src
	return true
}

func mergeFloat(dst *float64, src *float64) bool {
	if src == nil || *dst == *src {
		return false
	}
	*dst = *src
	return true
}

func mergeTime(dst **time.Time, src *time.Time) bool {
	if src == nil {
		return false
	}
	if *dst != nil && (*dst).Equal(*src) {
		return false
	}
	t := src.UTC()
	*dst = &t
	return true
}

func mergeUUID(dst **uuid.UUID, src *uuid.UUID) bool {
	if src == nil {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	id := *src
	*dst = &id
	return true
}

type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func uuidPtr(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id %q: %w", s.String, err)
	}
	return &id, nil
}

func likePattern(query string) string {
	return "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}
