// Package intel owns the per-arrival derived state: document
// requirements and compliance, the cost forecast, and congestion
// analysis, persisted as one Intelligence record per arrival.
package intel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

type Aggregator struct {
	store     *storage.Store
	positions domain.PositionSource
	templates TemplateSource // nil means standard set only
	log       logx.Logger
	now       func() time.Time
}

func NewAggregator(store *storage.Store, positions domain.PositionSource, templates TemplateSource, log logx.Logger) *Aggregator {
	return &Aggregator{store: store, positions: positions, templates: templates, log: log, now: time.Now}
}

// Generate runs the full fan-out for an arrival: provision document
// requirements, forecast the call cost, analyze congestion, and
// persist everything into the single Intelligence row so dashboard
// reads stay atomic.
func (a *Aggregator) Generate(ctx context.Context, arrivalID string) (domain.Intelligence, error) {
	arrival, err := a.store.GetArrival(ctx, arrivalID)
	if err != nil {
		return domain.Intelligence{}, fmt.Errorf("arrival %s: %w", arrivalID, err)
	}
	asset, err := a.store.GetAsset(ctx, arrival.AssetID)
	if err != nil {
		return domain.Intelligence{}, fmt.Errorf("asset %s: %w", arrival.AssetID, err)
	}
	loc, err := a.store.GetLocation(ctx, arrival.LocationID)
	if err != nil {
		return domain.Intelligence{}, fmt.Errorf("location %s: %w", arrival.LocationID, err)
	}

	if err := a.provisionDocuments(ctx, arrival); err != nil {
		return domain.Intelligence{}, err
	}
	docs, err := a.store.DocumentsForArrival(ctx, arrivalID)
	if err != nil {
		return domain.Intelligence{}, err
	}

	now := a.now()
	cost, err := a.ForecastCost(ctx, asset, arrival.LocationID)
	if err != nil {
		return domain.Intelligence{}, err
	}
	congestion, err := a.AnalyzeCongestion(ctx, loc)
	if err != nil {
		return domain.Intelligence{}, err
	}

	it := domain.Intelligence{
		ArrivalID:   arrivalID,
		Documents:   documentMetrics(docs, now),
		Cost:        cost,
		Congestion:  congestion,
		GeneratedAt: now,
		UpdatedAt:   now,
	}
	// Preserve the anomaly watermark across regenerations.
	if prev, err := a.store.GetIntelligence(ctx, arrivalID); err == nil {
		it.LastAlertedCost = prev.LastAlertedCost
		it.GeneratedAt = prev.GeneratedAt
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Intelligence{}, err
	}

	if err := a.store.UpsertIntelligence(ctx, it); err != nil {
		return domain.Intelligence{}, err
	}

	// Keep a prediction record so actuals can be scored later.
	if _, err := a.store.InsertForecastPrediction(ctx, domain.ForecastAccuracy{
		ArrivalID:       arrivalID,
		PredictedMin:    cost.EstimateMin,
		PredictedMax:    cost.EstimateMax,
		PredictedLikely: cost.EstimateMostLikely,
		Confidence:      cost.Confidence,
		Method:          cost.Method,
		PredictedAt:     now,
	}); err != nil {
		a.log.Warn("forecast prediction record failed", logx.String("arrival", arrivalID), logx.Err(err))
	}

	a.log.Info("intelligence generated",
		logx.String("arrival", arrivalID),
		logx.Int("compliance", it.Documents.ComplianceScore),
		logx.String("cost_method", string(cost.Method)),
		logx.String("congestion", string(congestion.Status)))
	return it, nil
}

// Update recomputes document metrics only. Cost and congestion are
// deliberately left alone; they refresh on their own schedule or via
// an explicit Generate.
func (a *Aggregator) Update(ctx context.Context, arrivalID string) error {
	it, err := a.store.GetIntelligence(ctx, arrivalID)
	if errors.Is(err, storage.ErrNotFound) {
		_, err := a.Generate(ctx, arrivalID)
		return err
	}
	if err != nil {
		return err
	}

	docs, err := a.store.DocumentsForArrival(ctx, arrivalID)
	if err != nil {
		return err
	}
	it.Documents = documentMetrics(docs, a.now())
	it.UpdatedAt = a.now()
	return a.store.UpsertIntelligence(ctx, it)
}

// GenerateMissing runs Generate for every active arrival without an
// Intelligence row yet, picking up arrivals detected since the last
// aggregation pass.
func (a *Aggregator) GenerateMissing(ctx context.Context) error {
	arrivals, err := a.store.ActiveArrivals(ctx)
	if err != nil {
		return err
	}
	for _, arrival := range arrivals {
		_, err := a.store.GetIntelligence(ctx, arrival.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if _, err := a.Generate(ctx, arrival.ID); err != nil {
			a.log.Warn("aggregation failed", logx.String("arrival", arrival.ID), logx.Err(err))
		}
	}
	return nil
}

// RecordActualCost feeds the observed call cost back into the accuracy
// ledger and the historical sample pool.
func (a *Aggregator) RecordActualCost(ctx context.Context, arrivalID string, actual float64) error {
	arrival, err := a.store.GetArrival(ctx, arrivalID)
	if err != nil {
		return err
	}
	asset, err := a.store.GetAsset(ctx, arrival.AssetID)
	if err != nil {
		return err
	}
	now := a.now()
	if err := a.store.RecordForecastActual(ctx, arrivalID, actual, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return a.store.InsertPortCallCost(ctx, domain.PortCallCost{
		ID:           arrivalID + ":actual",
		AssetID:      arrival.AssetID,
		LocationID:   arrival.LocationID,
		GrossTonnage: asset.GrossTonnage,
		TotalCost:    actual,
		CompletedAt:  now,
	})
}
