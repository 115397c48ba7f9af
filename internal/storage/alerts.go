package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"anchorwatch/internal/domain"
)

// InsertAlert persists a freshly composed alert record.
func (s *Store) InsertAlert(ctx context.Context, a domain.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, arrival_id, asset_id, type, dedup_scope, title, body, priority,
		   channels, recipient, sent_at, delivered_at, read_at, acknowledged_at, failed_at,
		   failure_reason, outcomes, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ArrivalID, a.AssetID, string(a.Type), a.DedupScope, a.Title, a.Body, string(a.Priority),
		jsonStr(a.Channels), nullStr(a.Recipient),
		nullTime(a.SentAt), nullTime(a.DeliveredAt), nullTime(a.ReadAt),
		nullTime(a.AcknowledgedAt), nullTime(a.FailedAt),
		nullStr(a.FailureReason), nullStr(jsonStr(a.Outcomes)), timeStr(a.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const alertCols = `id, arrival_id, asset_id, type, dedup_scope, title, body, priority, channels,
	COALESCE(recipient,''), sent_at, delivered_at, read_at, acknowledged_at, failed_at,
	COALESCE(failure_reason,''), COALESCE(outcomes,''), created_at`

func scanAlert(row interface{ Scan(...any) error }) (domain.AlertRecord, error) {
	var (
		a                                        domain.AlertRecord
		typ, priority, channels, outcomes        string
		sent, delivered, read, acked, failed     sql.NullString
		created                                  string
	)
	err := row.Scan(&a.ID, &a.ArrivalID, &a.AssetID, &typ, &a.DedupScope, &a.Title, &a.Body,
		&priority, &channels, &a.Recipient, &sent, &delivered, &read, &acked, &failed,
		&a.FailureReason, &outcomes, &created)
	if err != nil {
		return domain.AlertRecord{}, err
	}
	a.Type = domain.TriggerType(typ)
	a.Priority = domain.Priority(priority)
	if channels != "" {
		_ = json.Unmarshal([]byte(channels), &a.Channels)
	}
	a.SentAt = scanTime(sent)
	a.DeliveredAt = scanTime(delivered)
	a.ReadAt = scanTime(read)
	a.AcknowledgedAt = scanTime(acked)
	a.FailedAt = scanTime(failed)
	if outcomes != "" {
		_ = json.Unmarshal([]byte(outcomes), &a.Outcomes)
	}
	a.CreatedAt = parseTime(created)
	return a, nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (domain.AlertRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AlertRecord{}, ErrNotFound
	}
	return a, err
}

// CountRecentAlerts is the dedup query: alerts of the given type and
// scope for an arrival created at or after cutoff. The composer treats
// any nonzero count as "suppress".
func (s *Store) CountRecentAlerts(ctx context.Context, arrivalID string, t domain.TriggerType, dedupScope string, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts
		 WHERE arrival_id = ? AND type = ? AND dedup_scope = ? AND created_at >= ?`,
		arrivalID, string(t), dedupScope, timeStr(cutoff)).Scan(&n)
	return n, err
}

// MarkAlertSent records first successful handoff to any channel.
func (s *Store) MarkAlertSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET sent_at = COALESCE(sent_at, ?) WHERE id = ?`, timeStr(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkAlertDelivered records a provider delivery confirmation.
func (s *Store) MarkAlertDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET delivered_at = COALESCE(delivered_at, ?) WHERE id = ?`, timeStr(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkAlertRead records the recipient opening the alert (in-app).
func (s *Store) MarkAlertRead(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET read_at = COALESCE(read_at, ?) WHERE id = ?`, timeStr(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkAlertAcknowledged records an explicit operator acknowledgement.
func (s *Store) MarkAlertAcknowledged(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged_at = COALESCE(acknowledged_at, ?) WHERE id = ?`, timeStr(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkAlertFailed records terminal delivery failure with the
// concatenated per-channel reasons.
func (s *Store) MarkAlertFailed(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET failed_at = ?, failure_reason = ? WHERE id = ?`, timeStr(at), reason, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AppendAlertOutcomes appends per-channel delivery outcomes to the
// record's outcome log.
func (s *Store) AppendAlertOutcomes(ctx context.Context, id string, outcomes []domain.ChannelOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT outcomes FROM alerts WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var all []domain.ChannelOutcome
	if raw.Valid && raw.String != "" {
		_ = json.Unmarshal([]byte(raw.String), &all)
	}
	all = append(all, outcomes...)
	_, err = s.db.ExecContext(ctx, `UPDATE alerts SET outcomes = ? WHERE id = ?`, jsonStr(all), id)
	return err
}

// DeliveryStats summarizes alert outcomes since cutoff for the health
// endpoint.
type DeliveryStats struct {
	Total     int
	Delivered int
	Failed    int
}

func (s *Store) AlertDeliveryStats(ctx context.Context, cutoff time.Time) (DeliveryStats, error) {
	var st DeliveryStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		   COALESCE(SUM(CASE WHEN sent_at IS NOT NULL AND failed_at IS NULL THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN failed_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM alerts WHERE created_at >= ?`, timeStr(cutoff)).
		Scan(&st.Total, &st.Delivered, &st.Failed)
	return st, err
}

// AlertsForArrival lists alert records, newest first.
func (s *Store) AlertsForArrival(ctx context.Context, arrivalID string) ([]domain.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertCols+` FROM alerts WHERE arrival_id = ? ORDER BY created_at DESC`, arrivalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AlertRecord
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
