// ABOUTME: Maps raw upstream records onto store field sets through the resolver schemas
// ABOUTME: Also extracts company references embedded in process and delivery records
package sync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/resolve"
)

// companyRef is whatever a process or delivery record says about its company.
type companyRef struct {
	nested     resolve.Record
	externalID string
	document   string
}

func (r companyRef) empty() bool {
	return r.nested == nil && r.externalID == "" && r.document == ""
}

func mapCompany(r resolve.Record) (string, db.CompanyFields, error) {
	s := resolve.CompanySchema
	id, ok := s.ID(r, resolve.FieldExternalID)
	if !ok {
		return "", db.CompanyFields{}, ErrMissingIdentifier
	}

	var f db.CompanyFields
	if name, ok := s.String(r, resolve.FieldName); ok {
		f.Name = &name
	}
	if doc, ok := s.ID(r, resolve.FieldDocument); ok {
		if digits := resolve.Digits(doc); digits != "" {
			f.Document = &digits
		}
	}
	if email, ok := s.String(r, resolve.FieldEmail); ok {
		email = strings.ToLower(email)
		f.Email = &email
	}
	f.Raw = rawJSON(r)
	return id, f, nil
}

// processRecord is a resolved process ready for upsert once its company is known.
type processRecord struct {
	externalID string
	company    companyRef
	fields     db.ProcessFields
}

func mapProcess(r resolve.Record) (processRecord, error) {
	s := resolve.ProcessSchema
	id, ok := s.ID(r, resolve.FieldExternalID)
	if !ok {
		return processRecord{}, ErrMissingIdentifier
	}

	var f db.ProcessFields
	f.Title = optString(s, r, resolve.FieldTitle)
	f.Department = optString(s, r, resolve.FieldDepartment)
	f.Description = optString(s, r, resolve.FieldDescription)
	f.StatusRaw = optString(s, r, resolve.FieldStatus)

	progress, hasProgress := s.Number(r, resolve.FieldProgress)
	if hasProgress {
		clamped := resolve.Clamp(progress, 0, 100)
		f.Progress = &clamped
	}

	// Without either signal the stored status stays as it is.
	if f.StatusRaw != nil || hasProgress {
		raw := ""
		if f.StatusRaw != nil {
			raw = *f.StatusRaw
		}
		status := NormalizeStatus(raw, progress)
		f.Status = &status
	}

	f.StartedAt = optTime(s, r, resolve.FieldStartedAt)
	f.FinishedAt = optTime(s, r, resolve.FieldFinishedAt)
	f.ChangedAt = optTime(s, r, resolve.FieldChangedAt)

	f.Responsible = optBlob(s, r, resolve.FieldResponsible)
	f.Steps = optBlob(s, r, resolve.FieldSteps)
	f.History = optBlob(s, r, resolve.FieldHistory)
	f.Attachments = optBlob(s, r, resolve.FieldAttachments)
	f.Raw = rawJSON(r)

	return processRecord{externalID: id, company: companyRefFrom(s, r), fields: f}, nil
}

// deliveryRecord is a resolved delivery ready for upsert once its links are known.
type deliveryRecord struct {
	externalID string
	processID  string
	company    companyRef
	fields     db.DeliveryFields
}

func mapDelivery(r resolve.Record) (deliveryRecord, error) {
	s := resolve.DeliverySchema
	id, ok := s.ID(r, resolve.FieldExternalID)
	if !ok {
		return deliveryRecord{}, ErrMissingIdentifier
	}

	var f db.DeliveryFields
	f.Type = optString(s, r, resolve.FieldType)
	f.StatusRaw = optString(s, r, resolve.FieldStatus)
	f.OccurredAt = optTime(s, r, resolve.FieldOccurredAt)
	f.DueAt = optTime(s, r, resolve.FieldDueAt)
	f.Raw = rawJSON(r)

	processID, _ := s.ID(r, resolve.FieldProcessID)
	return deliveryRecord{
		externalID: id,
		processID:  processID,
		company:    companyRefFrom(s, r),
		fields:     f,
	}, nil
}

func companyRefFrom(s *resolve.Schema, r resolve.Record) companyRef {
	var ref companyRef
	if nested, ok := s.Object(r, resolve.FieldCompany); ok {
		if _, hasID := resolve.CompanySchema.ID(nested, resolve.FieldExternalID); hasID {
			ref.nested = nested
		}
	}
	ref.externalID, _ = s.ID(r, resolve.FieldCompanyID)
	if doc, ok := s.ID(r, resolve.FieldCompanyDoc); ok {
		ref.document = resolve.Digits(doc)
	}
	return ref
}

func optString(s *resolve.Schema, r resolve.Record, field string) *string {
	if v, ok := s.String(r, field); ok {
		return &v
	}
	return nil
}

func optTime(s *resolve.Schema, r resolve.Record, field string) *time.Time {
	if v, ok := s.Time(r, field); ok {
		return &v
	}
	return nil
}

// optBlob keeps strings verbatim and encodes everything else as JSON.
func optBlob(s *resolve.Schema, r resolve.Record, field string) *string {
	v, ok := s.Value(r, field)
	if !ok {
		return nil
	}
	if str, ok := v.(string); ok {
		str = strings.TrimSpace(str)
		return &str
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := string(encoded)
	return &out
}

func rawJSON(r resolve.Record) *string {
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	out := string(encoded)
	return &out
}
