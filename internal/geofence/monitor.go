// Package geofence scans tracked assets against their destination and
// maintains arrival records: one-time entry detection plus bounded
// geometry updates.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/geo"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

// Geometry thresholds, in nautical miles.
const (
	EntryThresholdNM = 200.0
	MaterialityNM    = 5.0
)

// ETAChurnBound suppresses ETA writes smaller than this.
const ETAChurnBound = time.Hour

// Store is the persistence surface the monitor needs.
type Store interface {
	AssetsWithDestination(ctx context.Context) ([]domain.TrackedAsset, error)
	GetLocation(ctx context.Context, id string) (domain.Location, error)
	GetAsset(ctx context.Context, id string) (domain.TrackedAsset, error)
	CreateArrival(ctx context.Context, a domain.Arrival) error
	GetArrival(ctx context.Context, id string) (domain.Arrival, error)
	ActiveArrival(ctx context.Context, assetID, locationID string) (domain.Arrival, error)
	UpdateArrivalGeometry(ctx context.Context, id string, distanceNM float64, eta domain.ETA, now time.Time) error
	AppendAudit(ctx context.Context, e domain.AuditEntry) error
}

// DetectionResult is one scan outcome for an asset inside the fence.
type DetectionResult struct {
	ArrivalID  string
	AssetID    string
	LocationID string
	Created    bool // true on first detection, false on geometry update
	DistanceNM float64
	ETA        domain.ETA
}

type Monitor struct {
	store     Store
	positions domain.PositionSource
	log       logx.Logger
	now       func() time.Time
}

func NewMonitor(store Store, positions domain.PositionSource, log logx.Logger) *Monitor {
	return &Monitor{store: store, positions: positions, log: log, now: time.Now}
}

// Scan runs one detection pass over every asset with a destination.
// Per-asset problems (missing coordinates, no position) are logged and
// skipped; they never fail the batch.
func (m *Monitor) Scan(ctx context.Context) ([]DetectionResult, error) {
	assets, err := m.store.AssetsWithDestination(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	if len(assets) == 0 {
		return nil, nil
	}

	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	positions, err := m.positions.LatestPositions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("latest positions: %w", err)
	}
	byAsset := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		byAsset[p.AssetID] = p
	}

	var results []DetectionResult
	for _, asset := range assets {
		res, err := m.scanOne(ctx, asset, byAsset)
		if err != nil {
			m.log.Warn("asset scan failed", logx.String("asset", asset.ID), logx.Err(err))
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

func (m *Monitor) scanOne(ctx context.Context, asset domain.TrackedAsset, positions map[string]domain.Position) (*DetectionResult, error) {
	loc, err := m.store.GetLocation(ctx, asset.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", asset.DestinationID, err)
	}
	if !loc.HasCoordinates() {
		m.log.Debug("destination has no coordinates; skipping",
			logx.String("asset", asset.ID), logx.String("location", loc.ID))
		return nil, nil
	}
	pos, ok := positions[asset.ID]
	if !ok {
		m.log.Debug("no position report; skipping", logx.String("asset", asset.ID))
		return nil, nil
	}

	dist := geo.DistanceNM(pos.Lat, pos.Lon, *loc.Lat, *loc.Lon)
	if dist > EntryThresholdNM {
		return nil, nil
	}

	now := m.now()
	existing, err := m.store.ActiveArrival(ctx, asset.ID, loc.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return m.detect(ctx, asset, loc, pos, dist, now)
	}
	if err != nil {
		return nil, err
	}

	// Inside the fence with an active arrival: update geometry only on
	// material movement.
	if math.Abs(existing.DistanceNM-dist) <= MaterialityNM {
		return nil, nil
	}
	eta := ComputeETA(dist, pos.SpeedKn, now)
	if err := m.store.UpdateArrivalGeometry(ctx, existing.ID, dist, eta, now); err != nil {
		return nil, err
	}
	return &DetectionResult{
		ArrivalID: existing.ID, AssetID: asset.ID, LocationID: loc.ID,
		Created: false, DistanceNM: dist, ETA: eta,
	}, nil
}

func (m *Monitor) detect(ctx context.Context, asset domain.TrackedAsset, loc domain.Location, pos domain.Position, dist float64, now time.Time) (*DetectionResult, error) {
	eta := ComputeETA(dist, pos.SpeedKn, now)
	arrival := domain.Arrival{
		ID:              uuid.NewString(),
		AssetID:         asset.ID,
		LocationID:      loc.ID,
		Status:          domain.StatusApproaching,
		DistanceNM:      dist,
		EntryDistanceNM: dist,
		EntryLat:        pos.Lat,
		EntryLon:        pos.Lon,
		ETA:             eta,
		DetectedAt:      now,
		UpdatedAt:       now,
	}
	err := m.store.CreateArrival(ctx, arrival)
	if errors.Is(err, storage.ErrDuplicate) {
		// Concurrent scan won the race: fetch and continue.
		existing, gerr := m.store.ActiveArrival(ctx, asset.ID, loc.ID)
		if gerr != nil {
			return nil, gerr
		}
		return &DetectionResult{
			ArrivalID: existing.ID, AssetID: asset.ID, LocationID: loc.ID,
			Created: false, DistanceNM: existing.DistanceNM, ETA: existing.ETA,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if aerr := m.store.AppendAudit(ctx, domain.AuditEntry{
		ArrivalID: arrival.ID,
		At:        now,
		Kind:      "arrival_detected",
		Actor:     "system",
		Detail:    fmt.Sprintf("entered %.0f nm fence at %.1f nm", EntryThresholdNM, dist),
	}); aerr != nil {
		m.log.Warn("audit write failed", logx.String("arrival", arrival.ID), logx.Err(aerr))
	}
	m.log.Info("arrival detected",
		logx.String("arrival", arrival.ID), logx.String("asset", asset.ID),
		logx.String("location", loc.ID), logx.Float64("distance_nm", dist),
		logx.String("eta_confidence", string(eta.Confidence)))

	return &DetectionResult{
		ArrivalID: arrival.ID, AssetID: asset.ID, LocationID: loc.ID,
		Created: true, DistanceNM: dist, ETA: eta,
	}, nil
}

// RefreshETA recomputes the ETA for one arrival and persists it only
// when the most-likely estimate moved by more than ETAChurnBound. The
// delta is recorded for audit. Returns whether a write happened.
func (m *Monitor) RefreshETA(ctx context.Context, arrivalID string) (bool, error) {
	arrival, err := m.store.GetArrival(ctx, arrivalID)
	if err != nil {
		return false, err
	}
	loc, err := m.store.GetLocation(ctx, arrival.LocationID)
	if err != nil {
		return false, err
	}
	if !loc.HasCoordinates() {
		return false, nil
	}
	positions, err := m.positions.LatestPositions(ctx, []string{arrival.AssetID})
	if err != nil {
		return false, err
	}
	if len(positions) == 0 {
		return false, nil
	}
	pos := positions[0]

	now := m.now()
	dist := geo.DistanceNM(pos.Lat, pos.Lon, *loc.Lat, *loc.Lon)
	eta := ComputeETA(dist, pos.SpeedKn, now)

	delta := eta.MostLikely.Sub(arrival.ETA.MostLikely)
	if arrival.ETA.MostLikely.IsZero() {
		delta = ETAChurnBound + time.Second // no previous estimate, always write
	}
	if absDuration(delta) <= ETAChurnBound {
		return false, nil
	}

	if err := m.store.UpdateArrivalGeometry(ctx, arrival.ID, dist, eta, now); err != nil {
		return false, err
	}
	if aerr := m.store.AppendAudit(ctx, domain.AuditEntry{
		ArrivalID: arrival.ID,
		At:        now,
		Kind:      "eta_refresh",
		Actor:     "system",
		Detail:    fmt.Sprintf("most-likely ETA moved %+.1fh", delta.Hours()),
	}); aerr != nil {
		m.log.Warn("audit write failed", logx.String("arrival", arrival.ID), logx.Err(aerr))
	}
	return true, nil
}

// RefreshAll runs RefreshETA across every active arrival.
func (m *Monitor) RefreshAll(ctx context.Context, arrivals []domain.Arrival) {
	for _, a := range arrivals {
		if _, err := m.RefreshETA(ctx, a.ID); err != nil {
			m.log.Warn("eta refresh failed", logx.String("arrival", a.ID), logx.Err(err))
		}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
