package dispatch

import (
	"context"
	"time"

	"anchorwatch/internal/domain"
)

// deliveryRateTarget is the 24-hour delivery rate the pipeline is
// expected to hold.
const deliveryRateTarget = 0.9

// Health is the dispatcher's health snapshot, served by the ops API.
type Health struct {
	Queue map[string]int `json:"queue"`

	// Last 24 hours of alert records.
	Total        int     `json:"total_24h"`
	Delivered    int     `json:"delivered_24h"`
	Failed       int     `json:"failed_24h"`
	DeliveryRate float64 `json:"delivery_rate_24h"`
	RateTarget   float64 `json:"delivery_rate_target"`

	Channels map[domain.Channel]ChannelCounters `json:"channels"`

	// Degraded when terminal failures outnumber the live queue.
	Degraded bool `json:"degraded"`
}

func (d *Dispatcher) Health(ctx context.Context) (Health, error) {
	counts, err := d.store.QueueCounts(ctx)
	if err != nil {
		return Health{}, err
	}
	stats, err := d.store.AlertDeliveryStats(ctx, d.now().Add(-24*time.Hour))
	if err != nil {
		return Health{}, err
	}

	h := Health{
		Queue:      counts,
		Total:      stats.Total,
		Delivered:  stats.Delivered,
		Failed:     stats.Failed,
		RateTarget: deliveryRateTarget,
		Channels:   d.Counters(),
		Degraded:   counts["failed"] > counts["waiting"]+counts["active"],
	}
	if stats.Total > 0 {
		h.DeliveryRate = float64(stats.Delivered) / float64(stats.Total)
	}
	return h, nil
}
