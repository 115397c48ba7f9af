package intel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

// DocumentSpec is one entry of a requirement template: what must be
// filed, how important it is, and how long before ETA it is due.
type DocumentSpec struct {
	Type      string
	Mandatory bool
	Priority  domain.DocumentPriority
	LeadHours float64
}

// StandardDocuments is the fallback requirement set applied when the
// destination has no port-specific template. Lead times count back from
// the most-likely ETA.
var StandardDocuments = []DocumentSpec{
	{Type: "PRE_ARRIVAL_NOTIFICATION", Mandatory: true, Priority: domain.DocCritical, LeadHours: 72},
	{Type: "ISPS_SECURITY", Mandatory: true, Priority: domain.DocCritical, LeadHours: 48},
	{Type: "CUSTOMS_DECLARATION", Mandatory: true, Priority: domain.DocImportant, LeadHours: 48},
	{Type: "BERTH_REQUEST", Mandatory: true, Priority: domain.DocImportant, LeadHours: 48},
	{Type: "FAL7_DANGEROUS_GOODS", Mandatory: false, Priority: domain.DocCritical, LeadHours: 48},
	{Type: "FAL1_GENERAL_DECLARATION", Mandatory: true, Priority: domain.DocCritical, LeadHours: 24},
	{Type: "FAL2_CARGO_DECLARATION", Mandatory: true, Priority: domain.DocImportant, LeadHours: 24},
	{Type: "FAL3_SHIPS_STORES", Mandatory: true, Priority: domain.DocRoutine, LeadHours: 24},
	{Type: "FAL4_CREW_EFFECTS", Mandatory: false, Priority: domain.DocRoutine, LeadHours: 24},
	{Type: "FAL5_CREW_LIST", Mandatory: true, Priority: domain.DocImportant, LeadHours: 24},
	{Type: "FAL6_PASSENGER_LIST", Mandatory: false, Priority: domain.DocRoutine, LeadHours: 24},
	{Type: "HEALTH_DECLARATION", Mandatory: true, Priority: domain.DocCritical, LeadHours: 24},
	{Type: "BALLAST_WATER", Mandatory: true, Priority: domain.DocImportant, LeadHours: 24},
	{Type: "WASTE_DECLARATION", Mandatory: true, Priority: domain.DocImportant, LeadHours: 24},
	{Type: "PILOT_REQUEST", Mandatory: true, Priority: domain.DocImportant, LeadHours: 24},
}

// TemplateSource resolves a port-specific requirement template. Nil or
// an empty result means "use the standard set".
type TemplateSource interface {
	TemplateFor(ctx context.Context, locationID string) ([]DocumentSpec, error)
}

// provisionDocuments creates the missing requirements for an arrival.
// Already-present (arrival, type) pairs are left untouched, so the
// operation is idempotent.
func (a *Aggregator) provisionDocuments(ctx context.Context, arrival domain.Arrival) error {
	specs := StandardDocuments
	if a.templates != nil {
		custom, err := a.templates.TemplateFor(ctx, arrival.LocationID)
		if err != nil {
			a.log.Warn("port template lookup failed; using standard set",
				logx.String("location", arrival.LocationID), logx.Err(err))
		} else if len(custom) > 0 {
			specs = custom
		}
	}

	now := a.now()
	for _, spec := range specs {
		d := domain.DocumentRequirement{
			ID:           uuid.NewString(),
			ArrivalID:    arrival.ID,
			DocumentType: spec.Type,
			Mandatory:    spec.Mandatory,
			Priority:     spec.Priority,
			Deadline:     arrival.ETA.MostLikely.Add(-time.Duration(spec.LeadHours * float64(time.Hour))),
			Status:       domain.DocNotStarted,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := a.store.CreateDocumentRequirement(ctx, d)
		if errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("provision %s: %w", spec.Type, err)
		}
	}
	return nil
}

// documentMetrics derives the compliance summary from current
// requirement rows. Hours remaining always come from the deadline and
// the supplied now; no cached countdown exists anywhere.
func documentMetrics(docs []domain.DocumentRequirement, now time.Time) domain.DocumentMetrics {
	m := domain.DocumentMetrics{Required: len(docs)}
	for _, d := range docs {
		switch {
		case d.Status == domain.DocApproved:
			m.Approved++
		case d.Status == domain.DocSubmitted:
			m.Submitted++
		}
		if d.Status.Missing() {
			m.Missing++
			if d.Mandatory && d.Priority == domain.DocCritical {
				m.CriticalMissing = append(m.CriticalMissing, d.DocumentType)
			}
			if d.Deadline.After(now) && (m.NextDeadline == nil || d.Deadline.Before(*m.NextDeadline)) {
				dl := d.Deadline
				m.NextDeadline = &dl
			}
		}
	}
	if m.Required == 0 {
		m.ComplianceScore = 100
	} else {
		m.ComplianceScore = int(math.Round(100 * float64(m.Approved) / float64(m.Required)))
	}
	return m
}

// SubmitDocument moves a requirement to SUBMITTED.
func (a *Aggregator) SubmitDocument(ctx context.Context, docID, actor string) error {
	return a.mutateDocument(ctx, docID, actor, "document_submitted", func(d *domain.DocumentRequirement, now time.Time) error {
		if d.Status == domain.DocApproved {
			return fmt.Errorf("document %s already approved", d.DocumentType)
		}
		d.Status = domain.DocSubmitted
		d.SubmittedAt = &now
		d.SubmittedBy = actor
		return nil
	})
}

// ApproveDocument moves a submitted requirement to APPROVED.
func (a *Aggregator) ApproveDocument(ctx context.Context, docID, actor string) error {
	return a.mutateDocument(ctx, docID, actor, "document_approved", func(d *domain.DocumentRequirement, now time.Time) error {
		if d.Status != domain.DocSubmitted {
			return fmt.Errorf("document %s is %s, not SUBMITTED", d.DocumentType, d.Status)
		}
		d.Status = domain.DocApproved
		d.ApprovedAt = &now
		d.ApprovedBy = actor
		return nil
	})
}

// RejectDocument sends a submitted requirement back with a note.
func (a *Aggregator) RejectDocument(ctx context.Context, docID, actor, note string) error {
	return a.mutateDocument(ctx, docID, actor, "document_rejected", func(d *domain.DocumentRequirement, _ time.Time) error {
		if d.Status != domain.DocSubmitted {
			return fmt.Errorf("document %s is %s, not SUBMITTED", d.DocumentType, d.Status)
		}
		d.Status = domain.DocRejected
		d.RejectedBy = actor
		d.RejectNote = note
		return nil
	})
}

func (a *Aggregator) mutateDocument(ctx context.Context, docID, actor, auditKind string, fn func(*domain.DocumentRequirement, time.Time) error) error {
	d, err := a.store.GetDocumentRequirement(ctx, docID)
	if err != nil {
		return err
	}
	now := a.now()
	if err := fn(&d, now); err != nil {
		return err
	}
	if err := a.store.UpdateDocument(ctx, d); err != nil {
		return err
	}
	if aerr := a.store.AppendAudit(ctx, domain.AuditEntry{
		ArrivalID: d.ArrivalID, At: now, Kind: auditKind, Actor: actor, Detail: d.DocumentType,
	}); aerr != nil {
		a.log.Warn("audit write failed", logx.String("arrival", d.ArrivalID), logx.Err(aerr))
	}
	// Document metrics change on every workflow step; recompute them.
	if err := a.Update(ctx, d.ArrivalID); err != nil {
		a.log.Warn("metrics update failed", logx.String("arrival", d.ArrivalID), logx.Err(err))
	}
	return nil
}

// SweepOverdue marks missing documents past their deadline OVERDUE
// across all active arrivals. Returns how many were flipped.
func (a *Aggregator) SweepOverdue(ctx context.Context) (int, error) {
	arrivals, err := a.store.ActiveArrivals(ctx)
	if err != nil {
		return 0, err
	}
	now := a.now()
	flipped := 0
	for _, arrival := range arrivals {
		docs, err := a.store.DocumentsForArrival(ctx, arrival.ID)
		if err != nil {
			a.log.Warn("document sweep failed", logx.String("arrival", arrival.ID), logx.Err(err))
			continue
		}
		changed := false
		for _, d := range docs {
			if d.Status != domain.DocNotStarted && d.Status != domain.DocInProgress {
				continue
			}
			if d.Deadline.After(now) {
				continue
			}
			d.Status = domain.DocOverdue
			if err := a.store.UpdateDocument(ctx, d); err != nil {
				a.log.Warn("overdue update failed", logx.String("doc", d.ID), logx.Err(err))
				continue
			}
			flipped++
			changed = true
			if aerr := a.store.AppendAudit(ctx, domain.AuditEntry{
				ArrivalID: arrival.ID, At: now, Kind: "document_overdue", Actor: "system",
				Detail: d.DocumentType,
			}); aerr != nil {
				a.log.Warn("audit write failed", logx.String("arrival", arrival.ID), logx.Err(aerr))
			}
		}
		if changed {
			if err := a.Update(ctx, arrival.ID); err != nil {
				a.log.Warn("metrics update failed", logx.String("arrival", arrival.ID), logx.Err(err))
			}
		}
	}
	return flipped, nil
}
