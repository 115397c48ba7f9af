package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"anchorwatch/internal/domain"
)

// CreateArrival inserts a new arrival. ErrDuplicate means an active
// arrival already exists for the same (asset, location); callers treat
// that as "already detected" and fetch the existing row.
func (s *Store) CreateArrival(ctx context.Context, a domain.Arrival) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO arrivals(id, asset_id, location_id, status, distance_nm, entry_distance_nm,
		   entry_lat, entry_lon, eta_best, eta_likely, eta_worst, eta_confidence, eta_factors,
		   last_alerted_eta, detected_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.AssetID, a.LocationID, string(a.Status), a.DistanceNM, a.EntryDistanceNM,
		a.EntryLat, a.EntryLon,
		nullTimeVal(a.ETA.BestCase), nullTimeVal(a.ETA.MostLikely), nullTimeVal(a.ETA.WorstCase),
		nullStr(string(a.ETA.Confidence)), nullStr(jsonStr(a.ETA.Factors)),
		nullTime(a.LastAlertedETA), timeStr(a.DetectedAt), timeStr(a.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func nullTimeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return timeStr(t)
}

const arrivalCols = `id, asset_id, location_id, status, distance_nm, entry_distance_nm,
	entry_lat, entry_lon, eta_best, eta_likely, eta_worst, COALESCE(eta_confidence,''),
	COALESCE(eta_factors,''), last_alerted_eta, detected_at, updated_at`

func scanArrival(row interface{ Scan(...any) error }) (domain.Arrival, error) {
	var (
		a                            domain.Arrival
		status, conf, factors        string
		best, likely, worst, alerted sql.NullString
		detected, updated            string
	)
	err := row.Scan(&a.ID, &a.AssetID, &a.LocationID, &status, &a.DistanceNM, &a.EntryDistanceNM,
		&a.EntryLat, &a.EntryLon, &best, &likely, &worst, &conf, &factors, &alerted, &detected, &updated)
	if err != nil {
		return domain.Arrival{}, err
	}
	a.Status = domain.ArrivalStatus(status)
	if t := scanTime(best); t != nil {
		a.ETA.BestCase = *t
	}
	if t := scanTime(likely); t != nil {
		a.ETA.MostLikely = *t
	}
	if t := scanTime(worst); t != nil {
		a.ETA.WorstCase = *t
	}
	a.ETA.Confidence = domain.ETAConfidence(conf)
	if factors != "" {
		_ = json.Unmarshal([]byte(factors), &a.ETA.Factors)
	}
	a.LastAlertedETA = scanTime(alerted)
	a.DetectedAt = parseTime(detected)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

func (s *Store) GetArrival(ctx context.Context, id string) (domain.Arrival, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+arrivalCols+` FROM arrivals WHERE id = ?`, id)
	a, err := scanArrival(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Arrival{}, ErrNotFound
	}
	return a, err
}

// ActiveArrival returns the active arrival for (asset, location), if any.
func (s *Store) ActiveArrival(ctx context.Context, assetID, locationID string) (domain.Arrival, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+arrivalCols+` FROM arrivals
		 WHERE asset_id = ? AND location_id = ? AND status != 'DEPARTED'`, assetID, locationID)
	a, err := scanArrival(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Arrival{}, ErrNotFound
	}
	return a, err
}

// ActiveArrivals returns every non-departed arrival.
func (s *Store) ActiveArrivals(ctx context.Context) ([]domain.Arrival, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+arrivalCols+` FROM arrivals WHERE status != 'DEPARTED' ORDER BY detected_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Arrival
	for rows.Next() {
		a, err := scanArrival(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateArrivalGeometry refreshes distance and ETA after a scan pass.
func (s *Store) UpdateArrivalGeometry(ctx context.Context, id string, distanceNM float64, eta domain.ETA, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE arrivals SET distance_nm=?, eta_best=?, eta_likely=?, eta_worst=?,
		   eta_confidence=?, eta_factors=?, updated_at=? WHERE id=?`,
		distanceNM, nullTimeVal(eta.BestCase), nullTimeVal(eta.MostLikely), nullTimeVal(eta.WorstCase),
		nullStr(string(eta.Confidence)), nullStr(jsonStr(eta.Factors)), timeStr(now), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateArrivalStatus applies a lifecycle transition.
func (s *Store) UpdateArrivalStatus(ctx context.Context, id string, status domain.ArrivalStatus, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE arrivals SET status=?, updated_at=? WHERE id=?`, string(status), timeStr(now), id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return requireRow(res)
}

// SetLastAlertedETA records the ETA that the latest ETA-change alert
// was based on.
func (s *Store) SetLastAlertedETA(ctx context.Context, id string, eta time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE arrivals SET last_alerted_eta=?, updated_at=? WHERE id=?`,
		timeStr(eta), timeStr(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAudit records a bounded arrival mutation for operator review.
func (s *Store) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, arrival_id, kind, actor, detail, meta) VALUES(?,?,?,?,?,?)`,
		timeStr(e.At), nullStr(e.ArrivalID), e.Kind, nullStr(e.Actor), nullStr(e.Detail), nullStr(e.MetaJSON),
	)
	return err
}

// AuditForArrival lists audit entries for one arrival, oldest first.
func (s *Store) AuditForArrival(ctx context.Context, arrivalID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, COALESCE(arrival_id,''), kind, COALESCE(actor,''), COALESCE(detail,''), COALESCE(meta,'')
		 FROM audit WHERE arrival_id = ? ORDER BY at, id`, arrivalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e  domain.AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.ArrivalID, &e.Kind, &e.Actor, &e.Detail, &e.MetaJSON); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
