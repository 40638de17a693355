// ABOUTME: Sync tool handlers: sync_status reports cursors and runs, sync_now triggers a run
// ABOUTME: Triggers go through the scheduler so they never overlap a run already in flight
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/models"
	"github.com/harperreed/gestor/sync"
)

// SyncTrigger starts or joins a sync run. *sync.Scheduler satisfies it.
type SyncTrigger interface {
	Trigger(ctx context.Context, opts sync.RunOptions) (*sync.RunSummary, bool, error)
	Running() bool
}

type SyncHandlers struct {
	store   *db.Store
	trigger SyncTrigger
	source  string
}

// NewSyncHandlers builds the handlers. source is the trigger label recorded
// in the run log (models.TriggerMCP, models.TriggerHTTP).
func NewSyncHandlers(store *db.Store, trigger SyncTrigger, source string) *SyncHandlers {
	if source == "" {
		source = models.TriggerMCP
	}
	return &SyncHandlers{store: store, trigger: trigger, source: source}
}

type SyncStatusInput struct{}

type CursorOutput struct {
	Resource  string `json:"resource"`
	Watermark string `json:"watermark,omitempty"`
	LastRunAt string `json:"last_run_at,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type RunOutput struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	Full       bool   `json:"full"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

type SyncStatusOutput struct {
	Running        bool           `json:"running"`
	Cursors        []CursorOutput `json:"cursors"`
	LastRun        *RunOutput     `json:"last_run,omitempty"`
	LastSuccessful *RunOutput     `json:"last_successful_run,omitempty"`
	Counts         map[string]int `json:"counts"`
}

func (h *SyncHandlers) SyncStatus(ctx context.Context, _ *mcp.CallToolRequest, _ SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	out := SyncStatusOutput{}
	if h.trigger != nil {
		out.Running = h.trigger.Running()
	}

	cursors, err := h.store.ListSyncCursors(ctx)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to load sync cursors: %w", err)
	}
	out.Cursors = make([]CursorOutput, len(cursors))
	for i := range cursors {
		out.Cursors[i] = cursorToOutput(&cursors[i])
	}

	last, err := h.store.LatestSyncRun(ctx)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to load last run: %w", err)
	}
	out.LastRun = runToOutput(last)

	ok, err := h.store.LatestSuccessfulSyncRun(ctx)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to load last successful run: %w", err)
	}
	out.LastSuccessful = runToOutput(ok)

	out.Counts, err = h.store.Counts(ctx)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to count records: %w", err)
	}
	return nil, out, nil
}

type SyncNowInput struct {
	Full bool `json:"full,omitempty" jsonschema:"Ignore cursors and resync everything"`
}

type SyncNowOutput struct {
	RunID  string             `json:"run_id"`
	Status string             `json:"status"`
	Joined bool               `json:"joined"`
	Stages []sync.StageResult `json:"stages"`
	Error  string             `json:"error,omitempty"`
}

// SyncNow runs a sync and waits for it. A run that finished with stage
// errors is still a successful tool call; its error is in the output.
func (h *SyncHandlers) SyncNow(ctx context.Context, _ *mcp.CallToolRequest, input SyncNowInput) (*mcp.CallToolResult, SyncNowOutput, error) {
	if h.trigger == nil {
		return nil, SyncNowOutput{}, fmt.Errorf("sync is not configured")
	}

	summary, joined, err := h.trigger.Trigger(ctx, sync.RunOptions{Full: input.Full, Trigger: h.source})
	if summary == nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			return nil, SyncNowOutput{}, err
		}
		if err == nil {
			err = errors.New("sync produced no summary")
		}
		return nil, SyncNowOutput{}, fmt.Errorf("failed to run sync: %w", err)
	}

	out := SyncNowOutput{
		RunID:  summary.RunID,
		Status: summary.Status,
		Joined: joined,
		Stages: summary.Stages,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return nil, out, nil
}

func cursorToOutput(c *models.SyncCursor) CursorOutput {
	return CursorOutput{
		Resource:  c.Resource,
		Watermark: formatTimePtr(c.Watermark),
		LastRunAt: formatTimePtr(c.LastRunAt),
		Status:    c.Status,
		Error:     c.ErrorMessage,
	}
}

func runToOutput(r *models.SyncRun) *RunOutput {
	if r == nil {
		return nil
	}
	return &RunOutput{
		ID:         r.ID,
		Trigger:    r.Trigger,
		Full:       r.Full,
		Status:     r.Status,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTimePtr(r.FinishedAt),
		Error:      r.Error,
	}
}
