package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"anchorwatch/internal/domain"
)

// UpsertIntelligence writes the 1:1 derived record for an arrival.
// generated_at is preserved on update; only the first write sets it.
func (s *Store) UpsertIntelligence(ctx context.Context, it domain.Intelligence) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intelligence(arrival_id, doc_required, doc_missing, doc_submitted, doc_approved,
		   compliance_score, critical_missing, next_deadline,
		   cost_min, cost_max, cost_likely, cost_confidence, cost_breakdown, cost_factors, cost_method,
		   cong_status, cong_wait_min, cong_wait_max, cong_in_port, cong_at_anchorage,
		   cong_berth, cong_pilot, cong_factors, cong_recommendation,
		   last_alerted_cost, generated_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(arrival_id) DO UPDATE SET
		   doc_required=excluded.doc_required, doc_missing=excluded.doc_missing,
		   doc_submitted=excluded.doc_submitted, doc_approved=excluded.doc_approved,
		   compliance_score=excluded.compliance_score, critical_missing=excluded.critical_missing,
		   next_deadline=excluded.next_deadline,
		   cost_min=excluded.cost_min, cost_max=excluded.cost_max, cost_likely=excluded.cost_likely,
		   cost_confidence=excluded.cost_confidence, cost_breakdown=excluded.cost_breakdown,
		   cost_factors=excluded.cost_factors, cost_method=excluded.cost_method,
		   cong_status=excluded.cong_status, cong_wait_min=excluded.cong_wait_min,
		   cong_wait_max=excluded.cong_wait_max, cong_in_port=excluded.cong_in_port,
		   cong_at_anchorage=excluded.cong_at_anchorage, cong_berth=excluded.cong_berth,
		   cong_pilot=excluded.cong_pilot, cong_factors=excluded.cong_factors,
		   cong_recommendation=excluded.cong_recommendation,
		   updated_at=excluded.updated_at`,
		it.ArrivalID, it.Documents.Required, it.Documents.Missing, it.Documents.Submitted,
		it.Documents.Approved, it.Documents.ComplianceScore,
		nullStr(jsonStr(it.Documents.CriticalMissing)), nullTime(it.Documents.NextDeadline),
		it.Cost.EstimateMin, it.Cost.EstimateMax, it.Cost.EstimateMostLikely, it.Cost.Confidence,
		nullStr(jsonStr(it.Cost.Breakdown)), nullStr(jsonStr(it.Cost.Factors)), nullStr(string(it.Cost.Method)),
		nullStr(string(it.Congestion.Status)), it.Congestion.WaitTimeMinHours, it.Congestion.WaitTimeMaxHours,
		it.Congestion.VesselsInPort, it.Congestion.VesselsAtAnchorage,
		nullStr(it.Congestion.BerthAvailability), nullStr(it.Congestion.PilotAvailability),
		nullStr(jsonStr(it.Congestion.Factors)), nullStr(it.Congestion.Recommendation),
		nullFloat(it.LastAlertedCost), timeStr(it.GeneratedAt), timeStr(it.UpdatedAt),
	)
	return err
}

func (s *Store) GetIntelligence(ctx context.Context, arrivalID string) (domain.Intelligence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT arrival_id, doc_required, doc_missing, doc_submitted, doc_approved,
		   compliance_score, COALESCE(critical_missing,''), next_deadline,
		   cost_min, cost_max, cost_likely, cost_confidence,
		   COALESCE(cost_breakdown,''), COALESCE(cost_factors,''), COALESCE(cost_method,''),
		   COALESCE(cong_status,''), cong_wait_min, cong_wait_max, cong_in_port, cong_at_anchorage,
		   COALESCE(cong_berth,''), COALESCE(cong_pilot,''), COALESCE(cong_factors,''),
		   COALESCE(cong_recommendation,''), last_alerted_cost, generated_at, updated_at
		 FROM intelligence WHERE arrival_id = ?`, arrivalID)

	var (
		it                                     domain.Intelligence
		criticalMissing, breakdown             string
		costFactors, method, congStatus        string
		congFactors                            string
		nextDeadline                           sql.NullString
		lastAlerted                            sql.NullFloat64
		generated, updated                     string
	)
	err := row.Scan(&it.ArrivalID, &it.Documents.Required, &it.Documents.Missing,
		&it.Documents.Submitted, &it.Documents.Approved, &it.Documents.ComplianceScore,
		&criticalMissing, &nextDeadline,
		&it.Cost.EstimateMin, &it.Cost.EstimateMax, &it.Cost.EstimateMostLikely, &it.Cost.Confidence,
		&breakdown, &costFactors, &method,
		&congStatus, &it.Congestion.WaitTimeMinHours, &it.Congestion.WaitTimeMaxHours,
		&it.Congestion.VesselsInPort, &it.Congestion.VesselsAtAnchorage,
		&it.Congestion.BerthAvailability, &it.Congestion.PilotAvailability, &congFactors,
		&it.Congestion.Recommendation, &lastAlerted, &generated, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Intelligence{}, ErrNotFound
	}
	if err != nil {
		return domain.Intelligence{}, err
	}

	if criticalMissing != "" {
		_ = json.Unmarshal([]byte(criticalMissing), &it.Documents.CriticalMissing)
	}
	it.Documents.NextDeadline = scanTime(nextDeadline)
	if breakdown != "" {
		_ = json.Unmarshal([]byte(breakdown), &it.Cost.Breakdown)
	}
	if costFactors != "" {
		_ = json.Unmarshal([]byte(costFactors), &it.Cost.Factors)
	}
	it.Cost.Method = domain.ForecastMethod(method)
	it.Congestion.Status = domain.CongestionStatus(congStatus)
	if congFactors != "" {
		_ = json.Unmarshal([]byte(congFactors), &it.Congestion.Factors)
	}
	it.LastAlertedCost = scanFloat(lastAlerted)
	it.GeneratedAt = parseTime(generated)
	it.UpdatedAt = parseTime(updated)
	return it, nil
}

// SetLastAlertedCost records the estimate the latest cost-anomaly alert
// was based on.
func (s *Store) SetLastAlertedCost(ctx context.Context, arrivalID string, cost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intelligence SET last_alerted_cost=?, updated_at=? WHERE arrival_id=?`,
		cost, timeStr(time.Now()), arrivalID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- historical port call costs ---

func (s *Store) InsertPortCallCost(ctx context.Context, c domain.PortCallCost) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO port_call_costs(id, asset_id, location_id, gross_tonnage, total_cost, completed_at)
		 VALUES(?,?,?,?,?,?)`,
		c.ID, nullStr(c.AssetID), c.LocationID, c.GrossTonnage, c.TotalCost, timeStr(c.CompletedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// RecentPortCallCosts returns up to limit most recent calls at a
// location with gross tonnage within ±tolerance of gt. tolerance is a
// fraction (0.2 = ±20%); gt <= 0 disables the similarity filter.
func (s *Store) RecentPortCallCosts(ctx context.Context, locationID string, gt, tolerance float64, limit int) ([]domain.PortCallCost, error) {
	q := `SELECT id, COALESCE(asset_id,''), location_id, gross_tonnage, total_cost, completed_at
	      FROM port_call_costs WHERE location_id = ?`
	args := []any{locationID}
	if gt > 0 {
		q += ` AND gross_tonnage BETWEEN ? AND ?`
		args = append(args, gt*(1-tolerance), gt*(1+tolerance))
	}
	q += ` ORDER BY completed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PortCallCost
	for rows.Next() {
		var (
			c  domain.PortCallCost
			at string
		)
		if err := rows.Scan(&c.ID, &c.AssetID, &c.LocationID, &c.GrossTonnage, &c.TotalCost, &at); err != nil {
			return nil, err
		}
		c.CompletedAt = parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CostsSince returns total costs at a location completed on or after
// cutoff, for the anomaly baseline.
func (s *Store) CostsSince(ctx context.Context, locationID string, cutoff time.Time) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT total_cost FROM port_call_costs WHERE location_id = ? AND completed_at >= ?`,
		locationID, timeStr(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- congestion snapshots ---

func (s *Store) InsertCongestionSnapshot(ctx context.Context, snap domain.CongestionSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO congestion_snapshots(location_id, taken_at, in_port, at_anchorage, avg_wait_hours)
		 VALUES(?,?,?,?,?)`,
		snap.LocationID, timeStr(snap.At), snap.VesselsInPort, snap.VesselsAtAnchorage, snap.AvgWaitTimeHours,
	)
	return err
}

// AvgWaitSince returns the mean snapshot wait time at a location since
// cutoff, plus the sample count.
func (s *Store) AvgWaitSince(ctx context.Context, locationID string, cutoff time.Time) (float64, int, error) {
	var (
		avg sql.NullFloat64
		n   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(avg_wait_hours), COUNT(*) FROM congestion_snapshots
		 WHERE location_id = ? AND taken_at >= ?`,
		locationID, timeStr(cutoff)).Scan(&avg, &n)
	if err != nil {
		return 0, 0, err
	}
	return avg.Float64, n, nil
}

// --- forecast accuracy ---

// InsertForecastPrediction stores the prediction half of an accuracy
// record; the actual arrives later via RecordForecastActual.
func (s *Store) InsertForecastPrediction(ctx context.Context, fa domain.ForecastAccuracy) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO forecast_accuracy(arrival_id, predicted_min, predicted_max, predicted_likely,
		   confidence, method, predicted_at)
		 VALUES(?,?,?,?,?,?,?)`,
		fa.ArrivalID, fa.PredictedMin, fa.PredictedMax, fa.PredictedLikely,
		fa.Confidence, string(fa.Method), timeStr(fa.PredictedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordForecastActual completes the most recent prediction for an
// arrival with the observed cost.
func (s *Store) RecordForecastActual(ctx context.Context, arrivalID string, actual float64, at time.Time) error {
	var (
		id                   int64
		pmin, pmax, plikely  float64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, predicted_min, predicted_max, predicted_likely FROM forecast_accuracy
		 WHERE arrival_id = ? ORDER BY predicted_at DESC LIMIT 1`, arrivalID).
		Scan(&id, &pmin, &pmax, &plikely)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var errPct float64
	if plikely != 0 {
		errPct = (actual - plikely) / plikely * 100
	}
	within := boolInt(actual >= pmin && actual <= pmax)
	_, err = s.db.ExecContext(ctx,
		`UPDATE forecast_accuracy SET actual_cost=?, actual_at=?, percentage_error=?, within_range=?
		 WHERE id=?`,
		actual, timeStr(at), errPct, within, id)
	return err
}

// ForecastAccuracyForArrival lists accuracy records, newest first.
func (s *Store) ForecastAccuracyForArrival(ctx context.Context, arrivalID string) ([]domain.ForecastAccuracy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, arrival_id, predicted_min, predicted_max, predicted_likely, confidence, method,
		   predicted_at, actual_cost, actual_at, percentage_error, within_range
		 FROM forecast_accuracy WHERE arrival_id = ? ORDER BY predicted_at DESC`, arrivalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ForecastAccuracy
	for rows.Next() {
		var (
			fa          domain.ForecastAccuracy
			method      string
			predictedAt string
			actualCost  sql.NullFloat64
			actualAt    sql.NullString
			errPct      sql.NullFloat64
			within      sql.NullInt64
		)
		if err := rows.Scan(&fa.ID, &fa.ArrivalID, &fa.PredictedMin, &fa.PredictedMax, &fa.PredictedLikely,
			&fa.Confidence, &method, &predictedAt, &actualCost, &actualAt, &errPct, &within); err != nil {
			return nil, err
		}
		fa.Method = domain.ForecastMethod(method)
		fa.PredictedAt = parseTime(predictedAt)
		fa.ActualCost = scanFloat(actualCost)
		fa.ActualAt = scanTime(actualAt)
		fa.PercentageError = scanFloat(errPct)
		if within.Valid {
			b := within.Int64 != 0
			fa.WithinRange = &b
		}
		out = append(out, fa)
	}
	return out, rows.Err()
}
