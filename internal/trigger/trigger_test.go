package trigger

import (
	"context"
	"testing"
	"time"

	"anchorwatch/internal/alert"
	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

var testBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newEngine seeds a store with one approaching arrival (ETA 40h out),
// its asset and contact, and returns an engine whose clock starts at
// testBase and can be advanced by the test.
func newEngine(t *testing.T) (*Engine, *storage.Store, *time.Time) {
	t.Helper()
	st, err := storage.OpenMemory(logx.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.UpsertAsset(ctx, domain.TrackedAsset{ID: "v-1", Name: "MV Example", GrossTonnage: 30000}); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	err = st.UpsertContact(ctx, domain.Contact{
		ID: "c-1", AssetID: "v-1", Name: "Ops", Email: "ops@example.test", Phone: "+6511111111", WhatsApp: "+6511111111",
	})
	if err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	err = st.CreateArrival(ctx, domain.Arrival{
		ID: "arr-1", AssetID: "v-1", LocationID: "sgsin",
		Status: domain.StatusApproaching, DistanceNM: 180, EntryDistanceNM: 180,
		ETA: domain.ETA{
			BestCase:   testBase.Add(36 * time.Hour),
			MostLikely: testBase.Add(40 * time.Hour),
			WorstCase:  testBase.Add(47 * time.Hour),
			Confidence: domain.ConfidenceHigh,
		},
		DetectedAt: testBase, UpdatedAt: testBase,
	})
	if err != nil {
		t.Fatalf("CreateArrival: %v", err)
	}

	clock := testBase
	e := NewEngine(st, alert.NewComposer(st, logx.Nop()), logx.Nop())
	e.now = func() time.Time { return clock }
	return e, st, &clock
}

func runMonitor(t *testing.T, e *Engine, typ domain.TriggerType) int {
	t.Helper()
	m, ok := e.MonitorByType(typ)
	if !ok {
		t.Fatalf("no monitor registered for %s", typ)
	}
	n, err := e.RunMonitor(context.Background(), m)
	if err != nil {
		t.Fatalf("RunMonitor(%s): %v", typ, err)
	}
	return n
}

func TestDocumentMissingDedupWindow(t *testing.T) {
	t.Parallel()
	e, st, clock := newEngine(t)
	ctx := context.Background()

	err := st.CreateDocumentRequirement(ctx, domain.DocumentRequirement{
		ID: "d-1", ArrivalID: "arr-1", DocumentType: "ISPS_SECURITY",
		Mandatory: true, Priority: domain.DocCritical,
		Deadline: testBase.Add(16 * time.Hour), Status: domain.DocNotStarted,
		CreatedAt: testBase, UpdatedAt: testBase,
	})
	if err != nil {
		t.Fatalf("CreateDocumentRequirement: %v", err)
	}

	if n := runMonitor(t, e, domain.TriggerDocumentMissing); n != 1 {
		t.Fatalf("first pass issued %d alerts, want 1", n)
	}
	// Inside the 6-hour window nothing re-fires.
	*clock = testBase.Add(2 * time.Hour)
	if n := runMonitor(t, e, domain.TriggerDocumentMissing); n != 0 {
		t.Fatalf("pass at +2h issued %d alerts, want 0", n)
	}
	*clock = testBase.Add(5 * time.Hour)
	if n := runMonitor(t, e, domain.TriggerDocumentMissing); n != 0 {
		t.Fatalf("pass at +5h issued %d alerts, want 0", n)
	}
	// Window elapsed, document still missing: fire again.
	*clock = testBase.Add(7 * time.Hour)
	if n := runMonitor(t, e, domain.TriggerDocumentMissing); n != 1 {
		t.Fatalf("pass at +7h issued %d alerts, want 1", n)
	}
}

func TestProximityFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	e, st, clock := newEngine(t)
	ctx := context.Background()

	if n := runMonitor(t, e, domain.TriggerProximity); n != 1 {
		t.Fatalf("first pass issued %d alerts, want 1", n)
	}
	// Days later the same arrival must still be suppressed.
	*clock = testBase.Add(72 * time.Hour)
	if n := runMonitor(t, e, domain.TriggerProximity); n != 0 {
		t.Fatalf("pass at +72h issued %d alerts, want 0", n)
	}

	counts, err := st.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if counts[storage.JobWaiting] != 1 {
		t.Fatalf("queue waiting = %d, want 1", counts[storage.JobWaiting])
	}
}

func TestETAChangeSeedsBaselineThenFires(t *testing.T) {
	t.Parallel()
	e, st, clock := newEngine(t)
	ctx := context.Background()

	// First pass only seeds the watermark.
	if n := runMonitor(t, e, domain.TriggerETAChange); n != 0 {
		t.Fatalf("seeding pass issued %d alerts, want 0", n)
	}
	a, err := st.GetArrival(ctx, "arr-1")
	if err != nil {
		t.Fatalf("GetArrival: %v", err)
	}
	if a.LastAlertedETA == nil || !a.LastAlertedETA.Equal(testBase.Add(40*time.Hour)) {
		t.Fatalf("baseline not seeded: %v", a.LastAlertedETA)
	}

	// Drift under 6h stays quiet.
	eta := a.ETA
	eta.MostLikely = testBase.Add(44 * time.Hour)
	if err := st.UpdateArrivalGeometry(ctx, "arr-1", 170, eta, *clock); err != nil {
		t.Fatalf("UpdateArrivalGeometry: %v", err)
	}
	if n := runMonitor(t, e, domain.TriggerETAChange); n != 0 {
		t.Fatalf("4h drift issued %d alerts, want 0", n)
	}

	// Drift past 6h fires and moves the watermark.
	eta.MostLikely = testBase.Add(48 * time.Hour)
	if err := st.UpdateArrivalGeometry(ctx, "arr-1", 165, eta, *clock); err != nil {
		t.Fatalf("UpdateArrivalGeometry: %v", err)
	}
	if n := runMonitor(t, e, domain.TriggerETAChange); n != 1 {
		t.Fatalf("8h drift issued %d alerts, want 1", n)
	}
	a, err = st.GetArrival(ctx, "arr-1")
	if err != nil {
		t.Fatalf("GetArrival: %v", err)
	}
	if a.LastAlertedETA == nil || !a.LastAlertedETA.Equal(eta.MostLikely) {
		t.Fatalf("watermark not advanced: %v", a.LastAlertedETA)
	}
	if n := runMonitor(t, e, domain.TriggerETAChange); n != 0 {
		t.Fatalf("repeat pass issued %d alerts, want 0", n)
	}
}

func TestDeadlineRemindersScopedPerDocument(t *testing.T) {
	t.Parallel()
	e, st, _ := newEngine(t)
	ctx := context.Background()

	docs := []domain.DocumentRequirement{
		{ID: "d-1", ArrivalID: "arr-1", DocumentType: "ISPS_SECURITY",
			Mandatory: true, Priority: domain.DocCritical,
			Deadline: testBase.Add(5 * time.Hour), Status: domain.DocInProgress},
		{ID: "d-2", ArrivalID: "arr-1", DocumentType: "CREW_LIST",
			Mandatory: true, Priority: domain.DocImportant,
			Deadline: testBase.Add(20 * time.Hour), Status: domain.DocNotStarted},
	}
	for _, d := range docs {
		d.CreatedAt, d.UpdatedAt = testBase, testBase
		if err := st.CreateDocumentRequirement(ctx, d); err != nil {
			t.Fatalf("CreateDocumentRequirement(%s): %v", d.ID, err)
		}
	}

	// Both documents remind independently despite sharing the arrival.
	if n := runMonitor(t, e, domain.TriggerDocumentDeadline); n != 2 {
		t.Fatalf("issued %d alerts, want 2", n)
	}
	if n := runMonitor(t, e, domain.TriggerDocumentDeadline); n != 0 {
		t.Fatalf("repeat within window issued %d alerts, want 0", n)
	}

	alerts, err := st.AlertsForArrival(ctx, "arr-1")
	if err != nil {
		t.Fatalf("AlertsForArrival: %v", err)
	}
	scopes := map[string]domain.Priority{}
	for _, a := range alerts {
		scopes[a.DedupScope] = a.Priority
	}
	// 5h remaining crossed the 6h threshold: critical. 20h crossed 24h: high.
	if scopes["ISPS_SECURITY"] != domain.PriorityCritical {
		t.Fatalf("ISPS_SECURITY priority = %q, want CRITICAL", scopes["ISPS_SECURITY"])
	}
	if scopes["CREW_LIST"] != domain.PriorityHigh {
		t.Fatalf("CREW_LIST priority = %q, want HIGH", scopes["CREW_LIST"])
	}
}

func TestCrossedThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		remaining float64
		want      int
		ok        bool
	}{
		{remaining: 30, want: 0, ok: false},
		{remaining: 24, want: 24, ok: true},
		{remaining: 13, want: 24, ok: true},
		{remaining: 12, want: 12, ok: true},
		{remaining: 5.5, want: 6, ok: true},
		{remaining: 0, want: 0, ok: false},
		{remaining: -2, want: 0, ok: false},
	}
	for _, tt := range tests {
		got, ok := crossedThreshold(tt.remaining)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("crossedThreshold(%v) = (%d, %v), want (%d, %v)",
				tt.remaining, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCostAnomalyNeedsBaseline(t *testing.T) {
	t.Parallel()
	e, st, _ := newEngine(t)
	ctx := context.Background()

	err := st.UpsertIntelligence(ctx, domain.Intelligence{
		ArrivalID: "arr-1",
		Cost: domain.CostForecast{
			EstimateMin: 11000, EstimateMax: 15000, EstimateMostLikely: 13000,
			Confidence: 0.8, Method: domain.MethodHistoricalAvg,
		},
		GeneratedAt: testBase, UpdatedAt: testBase,
	})
	if err != nil {
		t.Fatalf("UpsertIntelligence: %v", err)
	}

	// Five samples: below the minimum, no alert however high the estimate.
	for i := 0; i < 5; i++ {
		err := st.InsertPortCallCost(ctx, domain.PortCallCost{
			ID: "pc-" + string(rune('a'+i)), LocationID: "sgsin",
			GrossTonnage: 30000, TotalCost: 10000,
			CompletedAt: testBase.AddDate(0, 0, -(i + 1)),
		})
		if err != nil {
			t.Fatalf("InsertPortCallCost: %v", err)
		}
	}
	if n := runMonitor(t, e, domain.TriggerCostAnomaly); n != 0 {
		t.Fatalf("thin baseline issued %d alerts, want 0", n)
	}

	// Sixth sample pushes the mean to 10000; 13000 is 30% above.
	err = st.InsertPortCallCost(ctx, domain.PortCallCost{
		ID: "pc-f", LocationID: "sgsin", GrossTonnage: 30000, TotalCost: 10000,
		CompletedAt: testBase.AddDate(0, 0, -6),
	})
	if err != nil {
		t.Fatalf("InsertPortCallCost: %v", err)
	}
	if n := runMonitor(t, e, domain.TriggerCostAnomaly); n != 1 {
		t.Fatalf("30%% excess issued %d alerts, want 1", n)
	}

	it, err := st.GetIntelligence(ctx, "arr-1")
	if err != nil {
		t.Fatalf("GetIntelligence: %v", err)
	}
	if it.LastAlertedCost == nil || *it.LastAlertedCost != 13000 {
		t.Fatalf("last alerted cost = %v, want 13000", it.LastAlertedCost)
	}
	if n := runMonitor(t, e, domain.TriggerCostAnomaly); n != 0 {
		t.Fatalf("repeat within window issued %d alerts, want 0", n)
	}
}

func TestCongestionAlertOnlyWhenRed(t *testing.T) {
	t.Parallel()
	e, st, _ := newEngine(t)
	ctx := context.Background()

	it := domain.Intelligence{
		ArrivalID: "arr-1",
		Congestion: domain.CongestionAnalysis{
			Status: domain.CongestionYellow, WaitTimeMinHours: 4, WaitTimeMaxHours: 7,
			VesselsAtAnchorage: 3,
		},
		GeneratedAt: testBase, UpdatedAt: testBase,
	}
	if err := st.UpsertIntelligence(ctx, it); err != nil {
		t.Fatalf("UpsertIntelligence: %v", err)
	}
	if n := runMonitor(t, e, domain.TriggerCongestion); n != 0 {
		t.Fatalf("YELLOW issued %d alerts, want 0", n)
	}

	it.Congestion.Status = domain.CongestionRed
	it.Congestion.WaitTimeMinHours, it.Congestion.WaitTimeMaxHours = 16, 26
	it.Congestion.VesselsAtAnchorage = 8
	if err := st.UpsertIntelligence(ctx, it); err != nil {
		t.Fatalf("UpsertIntelligence: %v", err)
	}
	if n := runMonitor(t, e, domain.TriggerCongestion); n != 1 {
		t.Fatalf("RED issued %d alerts, want 1", n)
	}
	if n := runMonitor(t, e, domain.TriggerCongestion); n != 0 {
		t.Fatalf("repeat within window issued %d alerts, want 0", n)
	}
}
