package trigger

import (
	"context"
	"errors"
	"time"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

// Monitor-side thresholds. Dedup windows live in engine.go; these are
// the conditions themselves.
const (
	documentHorizonHours = 48  // DOCUMENT_MISSING only fires inside this ETA horizon
	etaShiftAlertHours   = 6.0 // ETA_CHANGE fires past this drift
	costAnomalyPct       = 25.0
	costAnomalyMinSample = 6
	costBaselineDays     = 90
)

var deadlineThresholds = []int{24, 12, 6}

// --- proximity ---

type proximityMonitor struct {
	store *storage.Store
	now   func() time.Time
}

func (m *proximityMonitor) Type() domain.TriggerType { return domain.TriggerProximity }
func (m *proximityMonitor) Cadence() time.Duration   { return 5 * time.Minute }

// Evaluate emits one condition per approaching arrival. The engine's
// one-alert-ever dedup makes re-emitting on every pass harmless.
func (m *proximityMonitor) Evaluate(ctx context.Context) ([]domain.TriggerCondition, error) {
	arrivals, err := m.store.ActiveArrivals(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.TriggerCondition
	for _, a := range arrivals {
		if a.Status != domain.StatusApproaching {
			continue
		}
		speed := 0.0
		if ps, err := m.store.LatestPositions(ctx, []string{a.AssetID}); err == nil && len(ps) == 1 {
			speed = ps[0].SpeedKn
		}
		cond, err := domain.NewTriggerCondition(domain.TriggerProximity, a.ID, a.AssetID,
			domain.ProximityMeta{DistanceNM: a.DistanceNM, SpeedKn: speed, ETA: a.ETA.MostLikely})
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

// --- document missing ---

type documentMissingMonitor struct {
	store *storage.Store
	now   func() time.Time
}

func (m *documentMissingMonitor) Type() domain.TriggerType { return domain.TriggerDocumentMissing }
func (m *documentMissingMonitor) Cadence() time.Duration   { return 10 * time.Minute }

func (m *documentMissingMonitor) Evaluate(ctx context.Context) ([]domain.TriggerCondition, error) {
	arrivals, err := m.store.ActiveArrivals(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []domain.TriggerCondition
	for _, a := range arrivals {
		if a.ETA.MostLikely.IsZero() {
			continue
		}
		hoursToETA := a.ETA.MostLikely.Sub(now).Hours()
		if hoursToETA < 0 || hoursToETA > documentHorizonHours {
			continue
		}
		docs, err := m.store.DocumentsForArrival(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		var missing []string
		for _, d := range docs {
			if d.Mandatory && d.Priority == domain.DocCritical && d.Status.Missing() {
				missing = append(missing, d.DocumentType)
			}
		}
		if len(missing) == 0 {
			continue
		}
		cond, err := domain.NewTriggerCondition(domain.TriggerDocumentMissing, a.ID, a.AssetID,
			domain.DocumentMissingMeta{Documents: missing, HoursToETA: hoursToETA})
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

// --- document deadline ---

type documentDeadlineMonitor struct {
	store *storage.Store
	now   func() time.Time
}

func (m *documentDeadlineMonitor) Type() domain.TriggerType { return domain.TriggerDocumentDeadline }
func (m *documentDeadlineMonitor) Cadence() time.Duration   { return 15 * time.Minute }

func (m *documentDeadlineMonitor) Evaluate(ctx context.Context) ([]domain.TriggerCondition, error) {
	arrivals, err := m.store.ActiveArrivals(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []domain.TriggerCondition
	for _, a := range arrivals {
		docs, err := m.store.DocumentsForArrival(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if !d.Status.Missing() || d.Status == domain.DocOverdue {
				continue
			}
			remaining := d.HoursRemaining(now)
			threshold, ok := crossedThreshold(remaining)
			if !ok {
				continue
			}
			cond, err := domain.NewTriggerCondition(domain.TriggerDocumentDeadline, a.ID, a.AssetID,
				domain.DocumentDeadlineMeta{
					DocumentType:   d.DocumentType,
					HoursRemaining: remaining,
					ThresholdHours: threshold,
				})
			if err != nil {
				return nil, err
			}
			// Scope dedup to the document type so one document's reminder
			// does not silence another's.
			cond.DedupScope = d.DocumentType
			out = append(out, cond)
		}
	}
	return out, nil
}

// crossedThreshold returns the tightest reminder threshold the
// remaining hours have fallen under, if any.
func crossedThreshold(remaining float64) (int, bool) {
	if remaining <= 0 {
		return 0, false // past due is the overdue monitor's territory
	}
	crossed := 0
	for _, t := range deadlineThresholds {
		if remaining <= float64(t) {
			crossed = t
		}
	}
	return crossed, crossed != 0
}

// --- document overdue ---

type documentOverdueMonitor struct {
	store *storage.Store
	now   func() time.Time
}

func (m *documentOverdueMonitor) Type() domain.TriggerType { return domain.TriggerDocumentOverdue }
func (m *documentOverdueMonitor) Cadence() time.Duration   { return 15 * time.Minute }

func (m *documentOverdueMonitor) Evaluate(ctx context.Context) ([]domain.TriggerCondition, error) {
	arrivals, err := m.store.ActiveArrivals(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []domain.TriggerCondition
	for _, a := range arrivals {
		docs, err := m.store.DocumentsForArrival(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if d.Status != domain.DocOverdue {
				continue
			}
			cond, err := domain.NewTriggerCondition(domain.TriggerDocumentOverdue, a.ID, a.AssetID,
				domain.DocumentOverdueMeta{
					DocumentType: d.DocumentType,
					HoursOverdue: -d.HoursRemaining(now),
				})
			if err != nil {
				return nil, err
			}
			cond.DedupScope = d.DocumentType
			out = append(out, cond)
		}
	}
	return out, nil
}

// --- congestion ---

type congestionMonitor struct {
	store *storage.Store
}

func (m *congestionMonitor) Type() domain.TriggerType { return domain.TriggerCongestion }
func (m *congestionMonitor) Cadence() time.Duration   { return 20 * time.Minute }

// Evaluate fires for approaching arrivals whose destination analysis is
// RED. YELLOW is visible in intelligence but never pages anyone.
func (m *congestionMonitor) Evaluate(ctx context.Context) ([]domain.TriggerCondition, error) {
	arrivals, err := m.store.ActiveArrivals(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.TriggerCondition
	for _, a := range arrivals {
		if a.Status != domain.StatusApproaching {
			continue
		}
		it, err := m.store.GetIntelligence(ctx, a.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if it.Congestion.Status != domain.CongestionRed {
			continue
		}
		cond, err := domain.NewTriggerCondition(domain.TriggerCongestion, a.ID, a.AssetID,
			domain.CongestionMeta{
				Status:             it.Congestion.Status,
				WaitTimeMinHours:   it.Congestion.WaitTimeMinHours,
				WaitTimeMaxHours:   it.Congestion.WaitTimeMaxHours,
				VesselsAtAnchorage: it.Congestion.VesselsAtAnchorage,
			})
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

// --- ETA change ---

type etaChangeMonitor struct {
	store *storage.Store
	log   logx.Logger
}

func (m *etaChangeMonitor) Type() domain.TriggerType { return domain.TriggerETAChange }
func (m *etaChangeMonitor) Cadence() time.Duration   { return 30 * time.Minute }

// Evaluate compares the current most-likely ETA against the one the
// last ETA-change alert reported. An arrival with no watermark yet is
// seeded silently; alerting on the very first estimate would tell the
// operator nothing.
func (m *etaChangeMonitor) Evaluate(ctx context.Context) ([]domain.TriggerCondition, error) {
	arrivals, err := m.store.ActiveArrivals(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.TriggerCondition
	for _, a := range arrivals {
		if a.ETA.MostLikely.IsZero() {
			continue
		}
		if a.LastAlertedETA == nil {
			if err := m.store.SetLastAlertedETA(ctx, a.ID, a.ETA.MostLikely); err != nil {
				m.log.Warn("eta baseline seed failed", logx.String("arrival", a.ID), logx.Err(err))
			}
			continue
		}
		delta := a.ETA.MostLikely.Sub(*a.LastAlertedETA).Hours()
		if delta < etaShiftAlertHours && delta > -etaShiftAlertHours {
			continue
		}
		cond, err := domain.NewTriggerCondition(domain.TriggerETAChange, a.ID, a.AssetID,
			domain.ETAChangeMeta{
				PreviousETA: *a.LastAlertedETA,
				NewETA:      a.ETA.MostLikely,
				DeltaHours:  delta,
			})
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

// --- cost anomaly ---

type costAnomalyMonitor struct {
	store *storage.Store
	now   func() time.Time
}

func (m *costAnomalyMonitor) Type() domain.TriggerType { return domain.TriggerCostAnomaly }
func (m *costAnomalyMonitor) Cadence() time.Duration   { return time.Hour }

// Evaluate flags estimates more than costAnomalyPct above the 90-day
// historical mean at the destination. Thin baselines never fire: a mean
// over a handful of calls is noise, not a norm.
func (m *costAnomalyMonitor) Evaluate(ctx context.Context) ([]domain.TriggerCondition, error) {
	arrivals, err := m.store.ActiveArrivals(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().AddDate(0, 0, -costBaselineDays)
	var out []domain.TriggerCondition
	for _, a := range arrivals {
		it, err := m.store.GetIntelligence(ctx, a.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		estimate := it.Cost.EstimateMostLikely
		if estimate <= 0 {
			continue
		}
		costs, err := m.store.CostsSince(ctx, a.LocationID, cutoff)
		if err != nil {
			return nil, err
		}
		if len(costs) < costAnomalyMinSample {
			continue
		}
		var sum float64
		for _, c := range costs {
			sum += c
		}
		mean := sum / float64(len(costs))
		if mean <= 0 {
			continue
		}
		above := (estimate - mean) / mean * 100
		if above <= costAnomalyPct {
			continue
		}
		cond, err := domain.NewTriggerCondition(domain.TriggerCostAnomaly, a.ID, a.AssetID,
			domain.CostAnomalyMeta{
				Estimate:       estimate,
				HistoricalMean: mean,
				PercentAbove:   above,
				SampleCount:    len(costs),
			})
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}
