package geofence

import (
	"context"
	"math"
	"testing"
	"time"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

const (
	destLat = 1.2644
	destLon = 103.822
)

func setup(t *testing.T) (*Monitor, *storage.Store) {
	t.Helper()
	st, err := storage.OpenMemory(logx.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	lat, lon := destLat, destLon
	if err := st.UpsertLocation(ctx, domain.Location{ID: "sgsin", Name: "Singapore", Lat: &lat, Lon: &lon}); err != nil {
		t.Fatalf("UpsertLocation: %v", err)
	}
	if err := st.UpsertAsset(ctx, domain.TrackedAsset{ID: "v-1", Name: "Test Vessel", DestinationID: "sgsin"}); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	return NewMonitor(st, st, logx.Nop()), st
}

func putPosition(t *testing.T, st *storage.Store, latOffsetDeg, speed float64, at time.Time) {
	t.Helper()
	err := st.UpsertPosition(context.Background(), domain.Position{
		AssetID: "v-1", Lat: destLat + latOffsetDeg, Lon: destLon,
		SpeedKn: speed, NavStatus: domain.NavStatusUnderway, Timestamp: at,
	})
	if err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}
}

func TestScanDetectsOnceInsideFence(t *testing.T) {
	t.Parallel()
	m, st := setup(t)
	ctx := context.Background()
	now := time.Now()

	// ~213 nm out: outside the fence, nothing happens.
	putPosition(t, st, 3.55, 14, now)
	results, err := m.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("outside fence produced %d results", len(results))
	}

	// ~186 nm out: inside, one arrival created.
	putPosition(t, st, 3.1, 14, now.Add(time.Hour))
	results, err = m.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || !results[0].Created {
		t.Fatalf("expected one created result, got %+v", results)
	}
	if results[0].ETA.Confidence != domain.ConfidenceHigh {
		t.Fatalf("confidence = %q, want HIGH", results[0].ETA.Confidence)
	}
	arrivalID := results[0].ArrivalID

	// Second scan on unchanged position: idempotent, no second arrival
	// and no geometry update (movement below materiality).
	results, err = m.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("rescan produced %d results, want 0", len(results))
	}

	got, err := st.ActiveArrival(ctx, "v-1", "sgsin")
	if err != nil {
		t.Fatalf("ActiveArrival: %v", err)
	}
	if got.ID != arrivalID || got.Status != domain.StatusApproaching {
		t.Fatalf("unexpected arrival: %+v", got)
	}
	if got.EntryDistanceNM != got.DistanceNM {
		t.Fatalf("entry distance %v != distance %v on fresh arrival", got.EntryDistanceNM, got.DistanceNM)
	}
}

func TestScanUpdatesOnMaterialMovement(t *testing.T) {
	t.Parallel()
	m, st := setup(t)
	ctx := context.Background()
	now := time.Now()

	putPosition(t, st, 3.1, 14, now)
	if _, err := m.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// ~30 nm closer: material, geometry updates.
	putPosition(t, st, 2.6, 14, now.Add(2*time.Hour))
	results, err := m.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || results[0].Created {
		t.Fatalf("expected one update result, got %+v", results)
	}

	got, err := st.ActiveArrival(ctx, "v-1", "sgsin")
	if err != nil {
		t.Fatalf("ActiveArrival: %v", err)
	}
	if math.Abs(got.DistanceNM-results[0].DistanceNM) > 0.01 {
		t.Fatalf("distance not persisted: %v vs %v", got.DistanceNM, results[0].DistanceNM)
	}
}

func TestComputeETARuleTable(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0).UTC()

	tests := []struct {
		name     string
		distance float64
		speed    float64
		wantConf domain.ETAConfidence
		wantHrs  float64
	}{
		{name: "plausible speed short range", distance: 190, speed: 14, wantConf: domain.ConfidenceHigh, wantHrs: 190.0 / 14},
		{name: "missing speed uses fallback", distance: 120, speed: 0, wantConf: domain.ConfidenceLow, wantHrs: 10},
		{name: "drifting speed uses fallback", distance: 120, speed: 0.4, wantConf: domain.ConfidenceLow, wantHrs: 10},
		{name: "long range downgrades", distance: 400, speed: 14, wantConf: domain.ConfidenceMedium, wantHrs: 400.0 / 14},
		{name: "implausibly fast downgrades", distance: 100, speed: 30, wantConf: domain.ConfidenceMedium, wantHrs: 100.0 / 30},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			eta := ComputeETA(tt.distance, tt.speed, now)
			if eta.Confidence != tt.wantConf {
				t.Fatalf("confidence = %q, want %q", eta.Confidence, tt.wantConf)
			}
			gotHrs := eta.MostLikely.Sub(now).Hours()
			if math.Abs(gotHrs-tt.wantHrs) > 0.01 {
				t.Fatalf("most-likely = %.2fh, want %.2fh", gotHrs, tt.wantHrs)
			}
			if !eta.BestCase.Before(eta.MostLikely) || !eta.MostLikely.Before(eta.WorstCase) {
				t.Fatalf("band out of order: %v / %v / %v", eta.BestCase, eta.MostLikely, eta.WorstCase)
			}
			if len(eta.Factors) == 0 {
				t.Fatal("factors must not be empty")
			}
		})
	}
}

func TestRefreshETASuppressesSmallDrift(t *testing.T) {
	t.Parallel()
	m, st := setup(t)
	ctx := context.Background()
	now := time.Now()

	putPosition(t, st, 3.1, 14, now)
	results, err := m.Scan(ctx)
	if err != nil || len(results) != 1 {
		t.Fatalf("Scan = (%v, %v)", results, err)
	}
	arrivalID := results[0].ArrivalID

	// Unchanged position: drift is zero, no write.
	changed, err := m.RefreshETA(ctx, arrivalID)
	if err != nil {
		t.Fatalf("RefreshETA: %v", err)
	}
	if changed {
		t.Fatal("refresh wrote despite sub-hour drift")
	}

	// Drop speed sharply: most-likely moves by hours, write happens and
	// the delta lands in the audit log.
	putPosition(t, st, 3.1, 7, now.Add(time.Minute))
	changed, err = m.RefreshETA(ctx, arrivalID)
	if err != nil {
		t.Fatalf("RefreshETA: %v", err)
	}
	if !changed {
		t.Fatal("refresh did not write despite large drift")
	}

	entries, err := st.AuditForArrival(ctx, arrivalID)
	if err != nil {
		t.Fatalf("AuditForArrival: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Kind == "eta_refresh" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no eta_refresh audit entry in %+v", entries)
	}
}
