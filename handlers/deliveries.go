// ABOUTME: Query tool handler for mirrored deliveries (fiscal obligations)
// ABOUTME: Implements find_deliveries with company, type and date filters
package handlers

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/models"
	"github.com/harperreed/gestor/resolve"
)

type FindDeliveriesInput struct {
	Company string `json:"company,omitempty" jsonschema:"Company id, upstream id or CNPJ/CPF"`
	Process string `json:"process,omitempty" jsonschema:"Upstream process id"`
	Type    string `json:"type,omitempty" jsonschema:"Obligation type, e.g. DCTFWeb"`
	Since   string `json:"since,omitempty" jsonschema:"Only deliveries that occurred at or after this date"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 20)"`
}

type DeliveryOutput struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Type       string `json:"type,omitempty"`
	StatusRaw  string `json:"status_raw,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	ProcessID  string `json:"process_id,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"`
	DueAt      string `json:"due_at,omitempty"`
}

type FindDeliveriesOutput struct {
	Deliveries []DeliveryOutput `json:"deliveries"`
}

func (h *QueryHandlers) FindDeliveries(ctx context.Context, _ *mcp.CallToolRequest, input FindDeliveriesInput) (*mcp.CallToolResult, FindDeliveriesOutput, error) {
	filter := db.DeliveryFilter{
		Type:  input.Type,
		Limit: clampLimit(input.Limit),
	}

	if input.Since != "" {
		since, ok := resolve.ToTime(input.Since)
		if !ok {
			return nil, FindDeliveriesOutput{}, fmt.Errorf("invalid since date: %s", input.Since)
		}
		filter.Since = &since
	}

	company, err := h.lookupCompany(ctx, input.Company)
	if err != nil {
		return nil, FindDeliveriesOutput{}, err
	}
	if company != nil {
		filter.CompanyID = &company.ID
	}

	if input.Process != "" {
		p, err := h.store.ProcessByExternalID(ctx, input.Process)
		if err != nil {
			return nil, FindDeliveriesOutput{}, fmt.Errorf("failed to look up process: %w", err)
		}
		if p == nil {
			return nil, FindDeliveriesOutput{}, fmt.Errorf("process not found: %s", input.Process)
		}
		filter.ProcessID = &p.ID
	}

	deliveries, err := h.store.ListDeliveries(ctx, filter)
	if err != nil {
		return nil, FindDeliveriesOutput{}, fmt.Errorf("failed to find deliveries: %w", err)
	}

	result := make([]DeliveryOutput, len(deliveries))
	for i := range deliveries {
		result[i] = deliveryToOutput(&deliveries[i])
	}
	return nil, FindDeliveriesOutput{Deliveries: result}, nil
}

func deliveryToOutput(d *models.Delivery) DeliveryOutput {
	out := DeliveryOutput{
		ID:         d.ID.String(),
		ExternalID: d.ExternalID,
		Type:       d.Type,
		StatusRaw:  d.StatusRaw,
		OccurredAt: formatTimePtr(d.OccurredAt),
		DueAt:      formatTimePtr(d.DueAt),
	}
	if d.CompanyID != nil {
		out.CompanyID = d.CompanyID.String()
	}
	if d.ProcessID != nil {
		out.ProcessID = d.ProcessID.String()
	}
	return out
}
