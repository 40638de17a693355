// ABOUTME: Sync engine that mirrors companies, processes and deliveries from upstream
// ABOUTME: Runs stages in order with per-stage cursors, failure isolation and a run log
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/metrics"
	"github.com/harperreed/gestor/models"
	"github.com/harperreed/gestor/resolve"
	"github.com/harperreed/gestor/upstream"
)

var (
	ErrMissingIdentifier = errors.New("record has no external id")
	ErrUnresolvedCompany = errors.New("record has no resolvable company")
)

const (
	DefaultProcessLookback  = 7 * 24 * time.Hour
	DefaultProcessOverlap   = 5 * time.Minute
	DefaultDeliveryLookback = 24 * time.Hour

	DefaultDeliveryHistoryMonths = 6
)

// DefaultProcessStatuses are the upstream status codes listed every run:
// open and closed.
var DefaultProcessStatuses = []string{"A", "C"}

// Source is the upstream surface the engine reads from. *upstream.Client
// satisfies it.
type Source interface {
	ListCompanies(ctx context.Context, page int) ([]resolve.Record, error)
	ListProcesses(ctx context.Context, status string, since time.Time, page int) ([]resolve.Record, error)
	ListDeliveries(ctx context.Context, w upstream.Window, page int) ([]resolve.Record, error)
	ListCompanyDeliveries(ctx context.Context, company string, w upstream.Window, page int) ([]resolve.Record, error)
	GetProcess(ctx context.Context, id string) (resolve.Record, error)
}

// Store is the persistence surface the engine writes to. *db.Store
// satisfies it.
type Store interface {
	UpsertCompany(ctx context.Context, externalID string, f db.CompanyFields) (*models.Company, error)
	UpsertProcess(ctx context.Context, externalID string, f db.ProcessFields) (*models.Process, error)
	UpsertDelivery(ctx context.Context, externalID string, f db.DeliveryFields) (*models.Delivery, error)
	CompanyByExternalID(ctx context.Context, externalID string) (*models.Company, error)
	CompanyByDocument(ctx context.Context, document string) (*models.Company, error)
	ListCompanies(ctx context.Context, filter db.CompanyFilter) ([]models.Company, error)
	ProcessByExternalID(ctx context.Context, externalID string) (*models.Process, error)

	SyncCursor(ctx context.Context, resource string) (*models.SyncCursor, error)
	MarkSyncRunning(ctx context.Context, resource string) error
	AdvanceSyncCursor(ctx context.Context, resource string, watermark time.Time) error
	MarkSyncFailed(ctx context.Context, resource, message string) error

	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
}

// Options tunes an Engine. Zero values use the defaults above.
type Options struct {
	ProcessStatuses  []string
	ProcessLookback  time.Duration
	ProcessOverlap   time.Duration
	DeliveryLookback time.Duration
	MaxPages         int
	Logger           *log.Logger

	// DeliveryHistory is how many whole months a full or first run loads,
	// one company at a time. Zero keeps those runs on the bulk window.
	DeliveryHistory int

	// Now and NewRunID are replaceable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// RunOptions selects what a single run does.
type RunOptions struct {
	Full    bool
	Trigger string
}

// Engine orchestrates one sync run at a time. It holds no state between
// runs; every cache lives in the run.
type Engine struct {
	source Source
	store  Store
	opts   Options
	logger *log.Logger
}

func NewEngine(source Source, store Store, opts Options) *Engine {
	if len(opts.ProcessStatuses) == 0 {
		opts.ProcessStatuses = DefaultProcessStatuses
	}
	if opts.ProcessLookback <= 0 {
		opts.ProcessLookback = DefaultProcessLookback
	}
	if opts.ProcessOverlap < 0 {
		opts.ProcessOverlap = 0
	} else if opts.ProcessOverlap == 0 {
		opts.ProcessOverlap = DefaultProcessOverlap
	}
	if opts.DeliveryLookback <= 0 {
		opts.DeliveryLookback = DefaultDeliveryLookback
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = upstream.DefaultMaxPages
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return ulid.Make().String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Engine{
		source: source,
		store:  store,
		opts:   opts,
		logger: logger.With("component", "sync"),
	}
}

// StageResult counts what one stage did.
type StageResult struct {
	Resource   string `json:"resource"`
	Mode       string `json:"mode,omitempty"`
	Fetched    int    `json:"fetched"`
	Upserted   int    `json:"upserted"`
	Skipped    int    `json:"skipped"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`

	Err error `json:"-"`
}

// OK reports whether the stage completed.
func (r *StageResult) OK() bool {
	return r.Err == nil
}

// RunSummary is returned by every run, including failed ones.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Trigger    string        `json:"trigger"`
	Full       bool          `json:"full"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageResult `json:"stages"`
}

// Stage returns the result for a resource, or nil when the stage never ran.
func (s *RunSummary) Stage(resource string) *StageResult {
	for i := range s.Stages {
		if s.Stages[i].Resource == resource {
			return &s.Stages[i]
		}
	}
	return nil
}

// Duration is how long the run took.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

type stageFunc func(ctx context.Context, rs *runState, res *StageResult) error

// Run executes companies, processes and deliveries in that order. A failing
// stage is recorded and does not stop the next one; its cursor is left
// where it was. The returned error aggregates every stage error.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if opts.Trigger == "" {
		opts.Trigger = models.TriggerCLI
	}
	start := e.now()
	summary := &RunSummary{
		RunID:     e.opts.NewRunID(),
		Trigger:   opts.Trigger,
		Full:      opts.Full,
		StartedAt: start,
	}
	logger := e.logger.With("run_id", summary.RunID)

	// Bookkeeping writes must land even when the run is cancelled.
	bookkeeping := context.WithoutCancel(ctx)

	run := &models.SyncRun{ID: summary.RunID, Trigger: opts.Trigger, Full: opts.Full, StartedAt: start}
	if err := e.store.CreateSyncRun(bookkeeping, run); err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}
	logger.Info("sync run started", "trigger", opts.Trigger, "full", opts.Full)

	rs := newRunState(start, opts.Full)
	stages := []struct {
		resource string
		fn       stageFunc
	}{
		{models.ResourceCompanies, e.syncCompanies},
		{models.ResourceProcesses, e.syncProcesses},
		{models.ResourceDeliveries, e.syncDeliveries},
	}

	var runErr error
	for _, stage := range stages {
		res := StageResult{Resource: stage.resource}
		if err := ctx.Err(); err != nil {
			res.Err = err
		} else {
			res.Err = e.runStage(ctx, bookkeeping, stage.resource, stage.fn, rs, &res, logger)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
			runErr = multierr.Append(runErr, fmt.Errorf("%s: %w", stage.resource, res.Err))
		}
		recordStageMetrics(&res)
		summary.Stages = append(summary.Stages, res)
	}

	summary.FinishedAt = e.now()
	summary.Status = summaryStatus(summary.Stages)

	run.Status = summary.Status
	run.FinishedAt = &summary.FinishedAt
	if encoded, err := json.Marshal(summary); err == nil {
		run.Summary = string(encoded)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := e.store.FinishSyncRun(bookkeeping, run); err != nil {
		logger.Error("failed to record sync run outcome", "error", err)
	}
	metrics.RunDuration.WithLabelValues(summary.Status).Observe(summary.Duration().Seconds())

	logger.Info("sync run finished",
		"status", summary.Status,
		"duration", summary.Duration().Round(time.Millisecond))

	return summary, runErr
}

func (e *Engine) runStage(ctx, bookkeeping context.Context, resource string, fn stageFunc, rs *runState, res *StageResult, logger *log.Logger) error {
	logger = logger.With("resource", resource)
	if err := e.store.MarkSyncRunning(bookkeeping, resource); err != nil {
		return err
	}

	if err := fn(ctx, rs, res); err != nil {
		logger.Error("sync stage failed", "error", err,
			"fetched", res.Fetched, "upserted", res.Upserted)
		if markErr := e.store.MarkSyncFailed(bookkeeping, resource, err.Error()); markErr != nil {
			logger.Error("failed to record stage failure", "error", markErr)
		}
		return err
	}

	if err := e.store.AdvanceSyncCursor(bookkeeping, resource, rs.start); err != nil {
		return err
	}
	metrics.LastSuccess.WithLabelValues(resource).Set(float64(rs.start.Unix()))

	logger.Info("sync stage complete",
		"mode", res.Mode,
		"fetched", res.Fetched,
		"upserted", res.Upserted,
		"skipped", res.Skipped,
		"duplicates", res.Duplicates,
		"failed", res.Failed)
	return nil
}

func recordStageMetrics(res *StageResult) {
	metrics.StageRecords.WithLabelValues(res.Resource, "upserted").Add(float64(res.Upserted))
	metrics.StageRecords.WithLabelValues(res.Resource, "skipped").Add(float64(res.Skipped))
	metrics.StageRecords.WithLabelValues(res.Resource, "duplicate").Add(float64(res.Duplicates))
	metrics.StageRecords.WithLabelValues(res.Resource, "failed").Add(float64(res.Failed))
}

func summaryStatus(stages []StageResult) string {
	failed := 0
	for i := range stages {
		if !stages[i].OK() {
			failed++
		}
	}
	switch {
	case failed == 0:
		return models.RunStatusOK
	case failed == len(stages):
		return models.RunStatusFailed
	default:
		return models.RunStatusPartial
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

func (e *Engine) pageOptions() []upstream.PageOption {
	return []upstream.PageOption{upstream.MaxPages(e.opts.MaxPages)}
}

// runState holds the caches for one run. It is never shared between runs.
type runState struct {
	start time.Time
	full  bool

	companyByExternal map[string]*models.Company
	companyByDocument map[string]*models.Company
	processByExternal map[string]*models.Process

	seenCompanies  map[string]struct{}
	seenProcesses  map[string]struct{}
	seenDeliveries map[string]struct{}
}

func newRunState(start time.Time, full bool) *runState {
	return &runState{
		start:             start,
		full:              full,
		companyByExternal: make(map[string]*models.Company),
		companyByDocument: make(map[string]*models.Company),
		processByExternal: make(map[string]*models.Process),
		seenCompanies:     make(map[string]struct{}),
		seenProcesses:     make(map[string]struct{}),
		seenDeliveries:    make(map[string]struct{}),
	}
}

func (rs *runState) rememberCompany(c *models.Company) {
	rs.companyByExternal[c.ExternalID] = c
	if c.Document != "" {
		if _, ok := rs.companyByDocument[c.Document]; !ok {
			rs.companyByDocument[c.Document] = c
		}
	}
}

// markSeen records id in set and reports whether it was new.
func markSeen(set map[string]struct{}, id string) bool {
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	return true
}
