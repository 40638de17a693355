// ABOUTME: Query tool handler for mirrored processes
// ABOUTME: Implements find_processes with company, status, text and change-date filters
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/models"
	"github.com/harperreed/gestor/resolve"
)

type FindProcessesInput struct {
	Company      string `json:"company,omitempty" jsonschema:"Company id, upstream id or CNPJ/CPF"`
	Status       string `json:"status,omitempty" jsonschema:"Normalized status: IN_PROGRESS, DONE or OTHER"`
	Query        string `json:"query,omitempty" jsonschema:"Search in title and department"`
	ChangedSince string `json:"changed_since,omitempty" jsonschema:"Only processes changed at or after this date (YYYY-MM-DD or RFC3339)"`
	Limit        int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 20)"`
}

type ProcessOutput struct {
	ID          string  `json:"id"`
	ExternalID  string  `json:"external_id"`
	CompanyID   string  `json:"company_id"`
	CompanyName string  `json:"company_name,omitempty"`
	Title       string  `json:"title"`
	Department  string  `json:"department,omitempty"`
	Status      string  `json:"status"`
	StatusRaw   string  `json:"status_raw,omitempty"`
	Progress    float64 `json:"progress"`
	StartedAt   string  `json:"started_at,omitempty"`
	FinishedAt  string  `json:"finished_at,omitempty"`
	ChangedAt   string  `json:"changed_at,omitempty"`
}

type FindProcessesOutput struct {
	Processes []ProcessOutput `json:"processes"`
}

func (h *QueryHandlers) FindProcesses(ctx context.Context, _ *mcp.CallToolRequest, input FindProcessesInput) (*mcp.CallToolResult, FindProcessesOutput, error) {
	filter := db.ProcessFilter{
		Query: input.Query,
		Limit: clampLimit(input.Limit),
	}

	if input.Status != "" {
		status := strings.ToUpper(strings.TrimSpace(input.Status))
		switch status {
		case models.StatusInProgress, models.StatusDone, models.StatusOther:
			filter.Status = status
		default:
			return nil, FindProcessesOutput{}, fmt.Errorf("invalid status %q (use IN_PROGRESS, DONE or OTHER)", input.Status)
		}
	}

	if input.ChangedSince != "" {
		since, ok := resolve.ToTime(input.ChangedSince)
		if !ok {
			return nil, FindProcessesOutput{}, fmt.Errorf("invalid changed_since date: %s", input.ChangedSince)
		}
		filter.ChangedSince = &since
	}

	company, err := h.lookupCompany(ctx, input.Company)
	if err != nil {
		return nil, FindProcessesOutput{}, err
	}
	if company != nil {
		filter.CompanyID = &company.ID
	}

	processes, err := h.store.ListProcesses(ctx, filter)
	if err != nil {
		return nil, FindProcessesOutput{}, fmt.Errorf("failed to find processes: %w", err)
	}

	names := map[uuid.UUID]string{}
	result := make([]ProcessOutput, len(processes))
	for i := range processes {
		p := &processes[i]
		result[i] = processToOutput(p, h.companyName(ctx, names, p.CompanyID))
	}
	return nil, FindProcessesOutput{Processes: result}, nil
}

// companyName caches names for one response. Lookup failures leave the
// name blank.
func (h *QueryHandlers) companyName(ctx context.Context, cache map[uuid.UUID]string, id uuid.UUID) string {
	if name, ok := cache[id]; ok {
		return name
	}
	name := ""
	if c, err := h.store.GetCompany(ctx, id); err == nil && c != nil {
		name = c.Name
	}
	cache[id] = name
	return name
}

func processToOutput(p *models.Process, companyName string) ProcessOutput {
	return ProcessOutput{
		ID:          p.ID.String(),
		ExternalID:  p.ExternalID,
		CompanyID:   p.CompanyID.String(),
		CompanyName: companyName,
		Title:       p.Title,
		Department:  p.Department,
		Status:      p.Status,
		StatusRaw:   p.StatusRaw,
		Progress:    p.Progress,
		StartedAt:   formatTimePtr(p.StartedAt),
		FinishedAt:  formatTimePtr(p.FinishedAt),
		ChangedAt:   formatTimePtr(p.ChangedAt),
	}
}
