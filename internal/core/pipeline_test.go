package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"anchorwatch/internal/alert"
	"anchorwatch/internal/channel"
	"anchorwatch/internal/dispatch"
	"anchorwatch/internal/domain"
	"anchorwatch/internal/geofence"
	"anchorwatch/internal/intel"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
	"anchorwatch/internal/trigger"
)

type recordingAdapter struct {
	ch domain.Channel

	mu    sync.Mutex
	calls int
}

func (r *recordingAdapter) Channel() domain.Channel { return r.ch }

func (r *recordingAdapter) Send(ctx context.Context, msg channel.Message) (channel.Result, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return channel.Result{MessageID: "m-1"}, nil
}

// TestPipelineEndToEnd walks the full path: a vessel outside the
// arrival zone is ignored, crossing inside creates an arrival with
// intelligence, the proximity monitor issues an alert, and the
// dispatcher delivers it.
func TestPipelineEndToEnd(t *testing.T) {
	st, err := storage.OpenMemory(logx.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	destLat, destLon := 1.2644, 103.822
	err = st.UpsertLocation(ctx, domain.Location{
		ID: "sgsin", Name: "Singapore", UNLocode: "SGSIN", Lat: &destLat, Lon: &destLon,
	})
	if err != nil {
		t.Fatalf("UpsertLocation: %v", err)
	}
	err = st.UpsertAsset(ctx, domain.TrackedAsset{
		ID: "v-1", Name: "MV Example", IMO: "9700001", Type: "CONTAINER",
		GrossTonnage: 30000, LengthM: 200, DestinationID: "sgsin",
	})
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	err = st.UpsertContact(ctx, domain.Contact{
		ID: "c-1", AssetID: "v-1", Name: "Ops", Email: "ops@example.test",
		Phone: "+6511111111", WhatsApp: "+6511111111",
	})
	if err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	monitor := geofence.NewMonitor(st, st, logx.Nop())
	aggregator := intel.NewAggregator(st, st, nil, logx.Nop())
	composer := alert.NewComposer(st, logx.Nop())
	engine := trigger.NewEngine(st, composer, logx.Nop())

	// ~210 nm out: outside the fence, nothing happens.
	putPosition(t, st, destLat+3.5, destLon, 14)
	results, err := monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("scan outside fence produced %d results", len(results))
	}

	// ~190 nm out: arrival detected, intelligence generated.
	putPosition(t, st, destLat+190.0/60.04, destLon, 14)
	results, err = monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || !results[0].Created {
		t.Fatalf("scan inside fence = %+v, want one created arrival", results)
	}
	arrivalID := results[0].ArrivalID
	if _, err := aggregator.Generate(ctx, arrivalID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	docs, err := st.DocumentsForArrival(ctx, arrivalID)
	if err != nil {
		t.Fatalf("DocumentsForArrival: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("no document requirements provisioned")
	}

	// Proximity monitor fires once and enqueues delivery.
	m, ok := engine.MonitorByType(domain.TriggerProximity)
	if !ok {
		t.Fatal("no proximity monitor")
	}
	n, err := engine.RunMonitor(ctx, m)
	if err != nil {
		t.Fatalf("RunMonitor: %v", err)
	}
	if n != 1 {
		t.Fatalf("proximity issued %d alerts, want 1", n)
	}

	// Dispatcher drains the queue through the adapters.
	email := &recordingAdapter{ch: domain.ChannelEmail}
	sms := &recordingAdapter{ch: domain.ChannelSMS}
	d := dispatch.New(st, channel.NewRegistry(email, sms), dispatch.Config{
		Workers: 2, PollInterval: 10 * time.Millisecond,
	}, logx.Nop())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("dispatcher start: %v", err)
	}
	defer d.Stop()

	alerts, err := st.AlertsForArrival(ctx, arrivalID)
	if err != nil {
		t.Fatalf("AlertsForArrival: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	alertID := alerts[0].ID

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := st.GetAlert(ctx, alertID)
		if err != nil {
			t.Fatalf("GetAlert: %v", err)
		}
		if rec.SentAt != nil {
			if len(rec.Outcomes) == 0 {
				t.Fatalf("sent alert has no outcomes: %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alert never delivered: %+v", rec)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func putPosition(t *testing.T, st *storage.Store, lat, lon, speed float64) {
	t.Helper()
	err := st.UpsertPosition(context.Background(), domain.Position{
		AssetID: "v-1", Lat: lat, Lon: lon, SpeedKn: speed,
		NavStatus: 0, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}
}
