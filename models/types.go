// ABOUTME: Data models for mirrored practice-management entities
// ABOUTME: Defines Company, Process, Delivery, SyncCursor and SyncRun structs
package models

import (
	"time"

	"github.com/google/uuid"
)

type Company struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Document   string    `json:"document,omitempty"`
	Email      string    `json:"email,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Process struct {
	ID          uuid.UUID  `json:"id"`
	ExternalID  string     `json:"external_id"`
	CompanyID   uuid.UUID  `json:"company_id"`
	Title       string     `json:"title"`
	Department  string     `json:"department,omitempty"`
	Description string     `json:"description,omitempty"`
	StatusRaw   string     `json:"status_raw,omitempty"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ChangedAt   *time.Time `json:"changed_at,omitempty"`
	Responsible string     `json:"responsible,omitempty"`
	Steps       string     `json:"steps,omitempty"`
	History     string     `json:"history,omitempty"`
	Attachments string     `json:"attachments,omitempty"`
	Raw         string     `json:"raw,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Delivery struct {
	ID         uuid.UUID  `json:"id"`
	ExternalID string     `json:"external_id"`
	ProcessID  *uuid.UUID `json:"process_id,omitempty"`
	CompanyID  *uuid.UUID `json:"company_id,omitempty"`
	Type       string     `json:"type,omitempty"`
	StatusRaw  string     `json:"status_raw,omitempty"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	Raw        string     `json:"raw,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Normalized process status values.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusOther      = "OTHER"
)

// Synced resources, in orchestrator order.
const (
	ResourceCompanies  = "companies"
	ResourceProcesses  = "processes"
	ResourceDeliveries = "deliveries"
)

// Resources lists every synced resource in the order a run visits them.
var Resources = []string{ResourceCompanies, ResourceProcesses, ResourceDeliveries}

// IsResource reports whether name is a synced resource.
func IsResource(name string) bool {
	for _, r := range Resources {
		if r == name {
			return true
		}
	}
	return false
}

// Sync status constants.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// Run status constants.
const (
	RunStatusRunning = "running"
	RunStatusOK      = "ok"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// Run trigger constants.
const (
	TriggerCLI       = "cli"
	TriggerScheduler = "scheduler"
	TriggerHTTP      = "http"
	TriggerMCP       = "mcp"
)

// SyncCursor is the per-resource high-water mark of the last successful pass.
type SyncCursor struct {
	Resource     string     `json:"resource"`
	Watermark    *time.Time `json:"watermark,omitempty"`
	Token        string     `json:"token,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type SyncRun struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	Full       bool       `json:"full"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration is how long the run took, or zero while it is still running.
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
