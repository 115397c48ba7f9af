package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"anchorwatch/internal/domain"
)

// CreateDocumentRequirement inserts one requirement. ErrDuplicate means
// the (arrival, document type) pair already exists; provisioning treats
// that as already-done.
func (s *Store) CreateDocumentRequirement(ctx context.Context, d domain.DocumentRequirement) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_requirements(id, arrival_id, document_type, mandatory, priority,
		   deadline, status, submitted_at, submitted_by, approved_at, approved_by,
		   rejected_by, reject_note, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ArrivalID, d.DocumentType, boolInt(d.Mandatory), string(d.Priority),
		timeStr(d.Deadline), string(d.Status), nullTime(d.SubmittedAt), nullStr(d.SubmittedBy),
		nullTime(d.ApprovedAt), nullStr(d.ApprovedBy), nullStr(d.RejectedBy), nullStr(d.RejectNote),
		timeStr(d.CreatedAt), timeStr(d.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const documentCols = `id, arrival_id, document_type, mandatory, priority, deadline, status,
	submitted_at, COALESCE(submitted_by,''), approved_at, COALESCE(approved_by,''),
	COALESCE(rejected_by,''), COALESCE(reject_note,''), created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (domain.DocumentRequirement, error) {
	var (
		d                             domain.DocumentRequirement
		mandatory                     int
		priority, status              string
		deadline, created, updated    string
		submittedAt, approvedAt       sql.NullString
	)
	err := row.Scan(&d.ID, &d.ArrivalID, &d.DocumentType, &mandatory, &priority, &deadline, &status,
		&submittedAt, &d.SubmittedBy, &approvedAt, &d.ApprovedBy, &d.RejectedBy, &d.RejectNote,
		&created, &updated)
	if err != nil {
		return domain.DocumentRequirement{}, err
	}
	d.Mandatory = mandatory != 0
	d.Priority = domain.DocumentPriority(priority)
	d.Status = domain.DocumentStatus(status)
	d.Deadline = parseTime(deadline)
	d.SubmittedAt = scanTime(submittedAt)
	d.ApprovedAt = scanTime(approvedAt)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func (s *Store) GetDocumentRequirement(ctx context.Context, id string) (domain.DocumentRequirement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentCols+` FROM document_requirements WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DocumentRequirement{}, ErrNotFound
	}
	return d, err
}

// DocumentsForArrival lists requirements for one arrival, earliest
// deadline first.
func (s *Store) DocumentsForArrival(ctx context.Context, arrivalID string) ([]domain.DocumentRequirement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentCols+` FROM document_requirements WHERE arrival_id = ? ORDER BY deadline, document_type`,
		arrivalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DocumentRequirement
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocument rewrites the mutable workflow fields of a requirement.
func (s *Store) UpdateDocument(ctx context.Context, d domain.DocumentRequirement) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE document_requirements SET status=?, deadline=?, submitted_at=?, submitted_by=?,
		   approved_at=?, approved_by=?, rejected_by=?, reject_note=?, updated_at=?
		 WHERE id=?`,
		string(d.Status), timeStr(d.Deadline), nullTime(d.SubmittedAt), nullStr(d.SubmittedBy),
		nullTime(d.ApprovedAt), nullStr(d.ApprovedBy), nullStr(d.RejectedBy), nullStr(d.RejectNote),
		timeStr(time.Now()), d.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}
