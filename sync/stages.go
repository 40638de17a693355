// ABOUTME: The three sync stages: companies, processes and deliveries
// ABOUTME: Handles cursor windows, company resolution, deduplication and the per-company fallback sweep
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/models"
	"github.com/harperreed/gestor/resolve"
	"github.com/harperreed/gestor/upstream"
)

// Delivery stage modes.
const (
	ModeBulk     = "bulk"
	ModeFallback = "fallback"
	ModeHistory  = "history"
)

func (e *Engine) syncCompanies(ctx context.Context, rs *runState, res *StageResult) error {
	records, err := upstream.PageThrough(ctx, e.source.ListCompanies, e.pageOptions()...)
	res.Fetched = len(records)
	for _, r := range records {
		e.persistCompany(ctx, rs, r, res)
	}
	if err != nil {
		return fmt.Errorf("failed to list companies: %w", err)
	}
	return nil
}

func (e *Engine) persistCompany(ctx context.Context, rs *runState, r resolve.Record, res *StageResult) {
	id, fields, err := mapCompany(r)
	if err != nil {
		res.Skipped++
		e.logger.Warn("skipping company", "error", err)
		return
	}
	if !markSeen(rs.seenCompanies, id) {
		res.Duplicates++
		return
	}

	company, err := e.store.UpsertCompany(ctx, id, fields)
	if err != nil {
		res.Failed++
		e.logger.Warn("failed to persist company", "external_id", id, "error", err)
		return
	}
	rs.rememberCompany(company)
	res.Upserted++
}

// processSince is the lower bound for the process listing. A zero time
// lists everything.
func (e *Engine) processSince(ctx context.Context, rs *runState) (time.Time, error) {
	if rs.full {
		return time.Time{}, nil
	}
	cursor, err := e.store.SyncCursor(ctx, models.ResourceProcesses)
	if err != nil {
		return time.Time{}, err
	}
	if cursor == nil || cursor.Watermark == nil {
		return rs.start.Add(-e.opts.ProcessLookback), nil
	}
	return cursor.Watermark.Add(-e.opts.ProcessOverlap), nil
}

func (e *Engine) syncProcesses(ctx context.Context, rs *runState, res *StageResult) error {
	since, err := e.processSince(ctx, rs)
	if err != nil {
		return err
	}

	for _, status := range e.opts.ProcessStatuses {
		fetch := func(ctx context.Context, page int) ([]resolve.Record, error) {
			return e.source.ListProcesses(ctx, status, since, page)
		}
		records, err := upstream.PageThrough(ctx, fetch, e.pageOptions()...)
		res.Fetched += len(records)
		for _, r := range records {
			_, _ = e.persistProcess(ctx, rs, r, res)
		}
		if err != nil {
			return fmt.Errorf("failed to list processes with status %s: %w", status, err)
		}
	}
	return nil
}

func (e *Engine) persistProcess(ctx context.Context, rs *runState, r resolve.Record, res *StageResult) (*models.Process, error) {
	rec, err := mapProcess(r)
	if err != nil {
		res.Skipped++
		e.logger.Warn("skipping process", "error", err)
		return nil, err
	}
	if !markSeen(rs.seenProcesses, rec.externalID) {
		res.Duplicates++
		return rs.processByExternal[rec.externalID], nil
	}

	company, err := e.resolveCompany(ctx, rs, rec.company)
	if err != nil {
		res.Failed++
		e.logger.Warn("failed to resolve process company", "external_id", rec.externalID, "error", err)
		return nil, err
	}
	if company == nil {
		res.Skipped++
		e.logger.Warn("skipping process", "external_id", rec.externalID, "error", ErrUnresolvedCompany)
		return nil, ErrUnresolvedCompany
	}

	rec.fields.CompanyID = &company.ID
	process, err := e.store.UpsertProcess(ctx, rec.externalID, rec.fields)
	if err != nil {
		res.Failed++
		e.logger.Warn("failed to persist process", "external_id", rec.externalID, "error", err)
		return nil, err
	}
	rs.processByExternal[process.ExternalID] = process
	res.Upserted++
	return process, nil
}

// resolveCompany finds the local company a record points at. A nested
// company payload is upserted first, unless this run already stored it.
// It returns nil without error when the record names no known company.
func (e *Engine) resolveCompany(ctx context.Context, rs *runState, ref companyRef) (*models.Company, error) {
	if ref.empty() {
		return nil, nil
	}

	if ref.nested != nil {
		id, fields, err := mapCompany(ref.nested)
		if err == nil {
			if c, ok := rs.companyByExternal[id]; ok {
				if _, seen := rs.seenCompanies[id]; seen {
					return c, nil
				}
			}
			// The nested payload is partial; keep the full record's raw copy.
			fields.Raw = nil
			c, err := e.store.UpsertCompany(ctx, id, fields)
			if err != nil {
				return nil, err
			}
			rs.seenCompanies[id] = struct{}{}
			rs.rememberCompany(c)
			return c, nil
		}
	}

	if ref.externalID != "" {
		if c, ok := rs.companyByExternal[ref.externalID]; ok {
			return c, nil
		}
		c, err := e.store.CompanyByExternalID(ctx, ref.externalID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			rs.rememberCompany(c)
			return c, nil
		}
	}

	if ref.document != "" {
		if c, ok := rs.companyByDocument[ref.document]; ok {
			return c, nil
		}
		c, err := e.store.CompanyByDocument(ctx, ref.document)
		if err != nil {
			return nil, err
		}
		if c != nil {
			rs.rememberCompany(c)
			return c, nil
		}
	}

	return nil, nil
}

// deliveryWindow starts at the stored watermark when it is recent, and at
// start minus the look-back otherwise.
func (e *Engine) deliveryWindow(rs *runState, cursor *models.SyncCursor) upstream.Window {
	floor := rs.start.Add(-e.opts.DeliveryLookback)
	w := upstream.Window{From: floor, To: rs.start}
	if rs.full {
		return w
	}
	if cursor != nil && cursor.Watermark != nil && !cursor.Watermark.Before(floor) && !cursor.Watermark.After(rs.start) {
		w.From = *cursor.Watermark
	}
	return w
}

// historyStart is the first day of the month DeliveryHistory months before start.
func (e *Engine) historyStart(start time.Time) time.Time {
	return time.Date(start.Year(), start.Month()-time.Month(e.opts.DeliveryHistory), 1, 0, 0, 0, 0, time.UTC)
}

func (e *Engine) syncDeliveries(ctx context.Context, rs *runState, res *StageResult) error {
	cursor, err := e.store.SyncCursor(ctx, models.ResourceDeliveries)
	if err != nil {
		return err
	}

	// Full and first runs load the history company by company; the bulk
	// listing only answers narrow windows.
	if e.opts.DeliveryHistory > 0 && (rs.full || cursor == nil || cursor.Watermark == nil) {
		res.Mode = ModeHistory
		window := upstream.Window{From: e.historyStart(rs.start), To: rs.start}
		e.logger.Info("loading delivery history", "from", window.From.Format(time.DateOnly), "months", e.opts.DeliveryHistory)
		return e.sweepCompanyDeliveries(ctx, rs, window, res)
	}

	window := e.deliveryWindow(rs, cursor)
	fetch := func(ctx context.Context, page int) ([]resolve.Record, error) {
		return e.source.ListDeliveries(ctx, window, page)
	}
	records, err := upstream.PageThrough(ctx, fetch, e.pageOptions()...)
	if err != nil {
		res.Mode = ModeBulk
		res.Fetched = len(records)
		for _, r := range records {
			e.persistDelivery(ctx, rs, r, nil, res)
		}
		return fmt.Errorf("failed to list deliveries: %w", err)
	}

	if len(records) > 0 {
		res.Mode = ModeBulk
		res.Fetched = len(records)
		for _, r := range records {
			e.persistDelivery(ctx, rs, r, nil, res)
		}
		return nil
	}

	res.Mode = ModeFallback
	e.logger.Info("bulk delivery listing empty, sweeping companies")
	return e.sweepCompanyDeliveries(ctx, rs, window, res)
}

// sweepCompanyDeliveries lists deliveries one company at a time. A company
// the upstream does not know (404) has no deliveries; any other failure is
// counted and the sweep moves on.
func (e *Engine) sweepCompanyDeliveries(ctx context.Context, rs *runState, window upstream.Window, res *StageResult) error {
	companies, err := e.store.ListCompanies(ctx, db.CompanyFilter{})
	if err != nil {
		return err
	}
	e.logger.Debug("sweeping company deliveries", "companies", len(companies), "mode", res.Mode)

	for i := range companies {
		company := &companies[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		key := company.Document
		if key == "" {
			key = company.ExternalID
		}
		fetch := func(ctx context.Context, page int) ([]resolve.Record, error) {
			return e.source.ListCompanyDeliveries(ctx, key, window, page)
		}
		records, err := upstream.PageThrough(ctx, fetch, e.pageOptions()...)
		res.Fetched += len(records)
		for _, r := range records {
			e.persistDelivery(ctx, rs, r, company, res)
		}

		switch {
		case err == nil:
		case upstream.IsNotFound(err):
			e.logger.Debug("company has no deliveries upstream", "company", key)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			res.Failed++
			e.logger.Warn("failed to list company deliveries", "company", key, "error", err)
		}
	}
	return nil
}

// persistDelivery stores one delivery. owner is the company being swept,
// used when the record itself names no company.
func (e *Engine) persistDelivery(ctx context.Context, rs *runState, r resolve.Record, owner *models.Company, res *StageResult) {
	rec, err := mapDelivery(r)
	if err != nil {
		res.Skipped++
		e.logger.Warn("skipping delivery", "error", err)
		return
	}
	if !markSeen(rs.seenDeliveries, rec.externalID) {
		res.Duplicates++
		return
	}

	if rec.processID != "" {
		process, err := e.lookupProcess(ctx, rs, rec.processID)
		if err != nil {
			e.logger.Warn("failed to resolve delivery process", "external_id", rec.externalID, "error", err)
		} else if process != nil {
			rec.fields.ProcessID = &process.ID
			companyID := process.CompanyID
			rec.fields.CompanyID = &companyID
		}
	}

	if rec.fields.CompanyID == nil {
		company, err := e.resolveCompany(ctx, rs, rec.company)
		if err != nil {
			e.logger.Warn("failed to resolve delivery company", "external_id", rec.externalID, "error", err)
		}
		if company == nil {
			company = owner
		}
		if company != nil {
			rec.fields.CompanyID = &company.ID
		}
	}

	if _, err := e.store.UpsertDelivery(ctx, rec.externalID, rec.fields); err != nil {
		res.Failed++
		e.logger.Warn("failed to persist delivery", "external_id", rec.externalID, "error", err)
		return
	}
	res.Upserted++
}

func (e *Engine) lookupProcess(ctx context.Context, rs *runState, externalID string) (*models.Process, error) {
	if p, ok := rs.processByExternal[externalID]; ok {
		return p, nil
	}
	p, err := e.store.ProcessByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		rs.processByExternal[externalID] = p
	}
	return p, nil
}

// SyncProcess fetches one process by external id and upserts it outside of
// a run. Cursors are not touched.
func (e *Engine) SyncProcess(ctx context.Context, externalID string) (*models.Process, error) {
	record, err := e.source.GetProcess(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch process %s: %w", externalID, err)
	}

	rs := newRunState(e.now(), false)
	var res StageResult
	process, err := e.persistProcess(ctx, rs, record, &res)
	if err != nil {
		return nil, fmt.Errorf("failed to sync process %s: %w", externalID, err)
	}
	return process, nil
}
