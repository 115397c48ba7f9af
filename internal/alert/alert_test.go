package alert

import (
	"context"
	"strings"
	"testing"
	"time"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

func TestSelectChannels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		priority domain.Priority
		hour     int
		want     []domain.Channel
	}{
		{name: "critical daytime", priority: domain.PriorityCritical, hour: 12,
			want: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelWhatsApp}},
		{name: "critical night", priority: domain.PriorityCritical, hour: 23,
			want: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelWhatsApp}},
		{name: "high daytime", priority: domain.PriorityHigh, hour: 12,
			want: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}},
		{name: "high at 23 UTC", priority: domain.PriorityHigh, hour: 23,
			want: []domain.Channel{domain.ChannelEmail}},
		{name: "high at 22 UTC boundary", priority: domain.PriorityHigh, hour: 22,
			want: []domain.Channel{domain.ChannelEmail}},
		{name: "high at 6 UTC boundary", priority: domain.PriorityHigh, hour: 6,
			want: []domain.Channel{domain.ChannelEmail}},
		{name: "high at 7 UTC", priority: domain.PriorityHigh, hour: 7,
			want: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}},
		{name: "medium any hour", priority: domain.PriorityMedium, hour: 3,
			want: []domain.Channel{domain.ChannelEmail, domain.ChannelWhatsApp}},
		{name: "low", priority: domain.PriorityLow, hour: 12,
			want: []domain.Channel{domain.ChannelEmail}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := SelectChannels(tt.priority, tt.hour)
			if len(got) != len(tt.want) {
				t.Fatalf("SelectChannels = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("SelectChannels = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestPriorityTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		typ  domain.TriggerType
		meta domain.TriggerMetadata
		want domain.Priority
	}{
		{name: "document missing", typ: domain.TriggerDocumentMissing,
			meta: domain.DocumentMissingMeta{}, want: domain.PriorityCritical},
		{name: "document overdue", typ: domain.TriggerDocumentOverdue,
			meta: domain.DocumentOverdueMeta{}, want: domain.PriorityCritical},
		{name: "deadline at 6h", typ: domain.TriggerDocumentDeadline,
			meta: domain.DocumentDeadlineMeta{ThresholdHours: 6}, want: domain.PriorityCritical},
		{name: "deadline at 24h", typ: domain.TriggerDocumentDeadline,
			meta: domain.DocumentDeadlineMeta{ThresholdHours: 24}, want: domain.PriorityHigh},
		{name: "proximity", typ: domain.TriggerProximity,
			meta: domain.ProximityMeta{}, want: domain.PriorityHigh},
		{name: "congestion", typ: domain.TriggerCongestion,
			meta: domain.CongestionMeta{}, want: domain.PriorityHigh},
		{name: "eta change", typ: domain.TriggerETAChange,
			meta: domain.ETAChangeMeta{}, want: domain.PriorityHigh},
		{name: "cost anomaly", typ: domain.TriggerCostAnomaly,
			meta: domain.CostAnomalyMeta{}, want: domain.PriorityMedium},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := priorityFor(tt.typ, tt.meta); got != tt.want {
				t.Fatalf("priorityFor(%s) = %q, want %q", tt.typ, got, tt.want)
			}
		})
	}
}

func newComposerStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.OpenMemory(logx.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.UpsertAsset(ctx, domain.TrackedAsset{ID: "v-1", Name: "MV Example"}); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	now := time.Now()
	err = st.CreateArrival(ctx, domain.Arrival{
		ID: "arr-1", AssetID: "v-1", LocationID: "sgsin",
		Status: domain.StatusApproaching, DistanceNM: 150, EntryDistanceNM: 150,
		DetectedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateArrival: %v", err)
	}
	return st
}

func TestComposeMissingContactDropsQuietly(t *testing.T) {
	t.Parallel()
	st := newComposerStore(t)
	c := NewComposer(st, logx.Nop())
	ctx := context.Background()

	cond, err := domain.NewTriggerCondition(domain.TriggerProximity, "arr-1", "v-1",
		domain.ProximityMeta{DistanceNM: 150, SpeedKn: 14, ETA: time.Now().Add(12 * time.Hour)})
	if err != nil {
		t.Fatalf("NewTriggerCondition: %v", err)
	}

	got, err := c.Compose(ctx, cond)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil alert without a contact, got %+v", got)
	}
	if c.MissingContactCount() != 1 {
		t.Fatalf("missing contact counter = %d, want 1", c.MissingContactCount())
	}
}

func TestComposeRendersAndRoutes(t *testing.T) {
	t.Parallel()
	st := newComposerStore(t)
	ctx := context.Background()
	err := st.UpsertContact(ctx, domain.Contact{
		ID: "c-1", AssetID: "v-1", Name: "Ops", Email: "ops@example.test", Phone: "+6511111111",
	})
	if err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	c := NewComposer(st, logx.Nop())
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	cond, err := domain.NewTriggerCondition(domain.TriggerDocumentMissing, "arr-1", "v-1",
		domain.DocumentMissingMeta{Documents: []string{"ISPS_SECURITY"}, HoursToETA: 40})
	if err != nil {
		t.Fatalf("NewTriggerCondition: %v", err)
	}

	got, err := c.Compose(ctx, cond)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if got == nil {
		t.Fatal("Compose returned nil with contact present")
	}
	if got.Priority != domain.PriorityCritical {
		t.Fatalf("priority = %q, want CRITICAL", got.Priority)
	}
	if len(got.Channels) != 3 {
		t.Fatalf("critical alert channels = %v, want all three", got.Channels)
	}
	if !strings.Contains(got.Body, "ISPS_SECURITY") {
		t.Fatalf("body does not mention the document:\n%s", got.Body)
	}
	if !strings.Contains(got.Title, "MV Example") {
		t.Fatalf("title does not mention the vessel: %q", got.Title)
	}
	if got.Recipient.Email != "ops@example.test" {
		t.Fatalf("recipient = %+v", got.Recipient)
	}
}
