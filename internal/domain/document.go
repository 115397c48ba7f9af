package domain

import "time"

// DocumentStatus is the workflow state of a single pre-arrival
// document requirement.
type DocumentStatus string

const (
	DocNotStarted DocumentStatus = "NOT_STARTED"
	DocInProgress DocumentStatus = "IN_PROGRESS"
	DocSubmitted  DocumentStatus = "SUBMITTED"
	DocApproved   DocumentStatus = "APPROVED"
	DocRejected   DocumentStatus = "REJECTED"
	DocOverdue    DocumentStatus = "OVERDUE"
)

// Missing reports whether the document still needs action. OVERDUE
// counts as missing: the deadline passing does not supply the document.
func (s DocumentStatus) Missing() bool {
	return s == DocNotStarted || s == DocInProgress || s == DocOverdue
}

// DocumentPriority orders requirements by operational impact.
type DocumentPriority string

const (
	DocCritical  DocumentPriority = "CRITICAL"
	DocImportant DocumentPriority = "IMPORTANT"
	DocRoutine   DocumentPriority = "ROUTINE"
)

// DocumentRequirement is one required document for one arrival.
// Uniqueness per (arrival, document type) is enforced by the store.
type DocumentRequirement struct {
	ID           string
	ArrivalID    string
	DocumentType string
	Mandatory    bool
	Priority     DocumentPriority

	// Deadline = ETA most-likely minus the type's lead time. Hours
	// remaining are always derived from Deadline at read time; no
	// cached countdown is stored.
	Deadline time.Time

	Status      DocumentStatus
	SubmittedAt *time.Time
	SubmittedBy string
	ApprovedAt  *time.Time
	ApprovedBy  string
	RejectedBy  string
	RejectNote  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HoursRemaining derives the countdown from the stored deadline.
// Negative means past due.
func (d DocumentRequirement) HoursRemaining(now time.Time) float64 {
	return d.Deadline.Sub(now).Hours()
}
