// ABOUTME: Read-only query tool handlers for mirrored companies
// ABOUTME: Implements the find_companies tool and the output shapes shared with the HTTP API
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/models"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

type QueryHandlers struct {
	store *db.Store
}

func NewQueryHandlers(store *db.Store) *QueryHandlers {
	return &QueryHandlers{store: store}
}

type FindCompaniesInput struct {
	Query string `json:"query,omitempty" jsonschema:"Search by name, document (CNPJ/CPF) or upstream id"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 20)"`
}

type CompanyOutput struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Document   string `json:"document,omitempty"`
	Email      string `json:"email,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

type FindCompaniesOutput struct {
	Companies []CompanyOutput `json:"companies"`
}

func (h *QueryHandlers) FindCompanies(ctx context.Context, _ *mcp.CallToolRequest, input FindCompaniesInput) (*mcp.CallToolResult, FindCompaniesOutput, error) {
	companies, err := h.store.ListCompanies(ctx, db.CompanyFilter{
		Query: input.Query,
		Limit: clampLimit(input.Limit),
	})
	if err != nil {
		return nil, FindCompaniesOutput{}, fmt.Errorf("failed to find companies: %w", err)
	}

	result := make([]CompanyOutput, len(companies))
	for i := range companies {
		result[i] = companyToOutput(&companies[i])
	}
	return nil, FindCompaniesOutput{Companies: result}, nil
}

func companyToOutput(c *models.Company) CompanyOutput {
	return CompanyOutput{
		ID:         c.ID.String(),
		ExternalID: c.ExternalID,
		Name:       c.Name,
		Document:   c.Document,
		Email:      c.Email,
		UpdatedAt:  formatTime(c.UpdatedAt),
	}
}

// lookupCompany resolves an optional company reference. An unknown
// reference is an error so a typo never silently widens a query.
func (h *QueryHandlers) lookupCompany(ctx context.Context, ref string) (*models.Company, error) {
	if ref == "" {
		return nil, nil
	}
	c, err := h.store.FindCompany(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up company: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("company not found: %s", ref)
	}
	return c, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
