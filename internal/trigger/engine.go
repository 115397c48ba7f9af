// Package trigger evaluates arrival and intelligence state against the
// alert condition catalog on independent cadences, deduplicates against
// recent alert records, and feeds matches through the composer into the
// delivery queue.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"anchorwatch/internal/alert"
	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

// Monitor is one independently-scheduled condition detector. Monitors
// only read state; firing side effects belong to the engine.
type Monitor interface {
	Type() domain.TriggerType
	Cadence() time.Duration
	Evaluate(ctx context.Context) ([]domain.TriggerCondition, error)
}

// Dedup windows per trigger type. Proximity has no window: one alert
// per arrival, ever.
var dedupWindows = map[domain.TriggerType]time.Duration{
	domain.TriggerDocumentMissing:  6 * time.Hour,
	domain.TriggerDocumentDeadline: time.Hour,
	domain.TriggerDocumentOverdue:  24 * time.Hour,
	domain.TriggerCongestion:       12 * time.Hour,
	domain.TriggerETAChange:        0, // guarded by the lastAlertedETA delta instead
	domain.TriggerCostAnomaly:      24 * time.Hour,
}

const deliveryMaxAttempts = 3

type Engine struct {
	store       *storage.Store
	composer    *alert.Composer
	log         logx.Logger
	now         func() time.Time
	maxAttempts int

	monitors []Monitor
}

func NewEngine(store *storage.Store, composer *alert.Composer, log logx.Logger) *Engine {
	e := &Engine{store: store, composer: composer, log: log, now: time.Now, maxAttempts: deliveryMaxAttempts}
	e.monitors = []Monitor{
		&proximityMonitor{store: store, now: e.nowFn},
		&documentMissingMonitor{store: store, now: e.nowFn},
		&documentDeadlineMonitor{store: store, now: e.nowFn},
		&documentOverdueMonitor{store: store, now: e.nowFn},
		&congestionMonitor{store: store},
		&etaChangeMonitor{store: store, log: log},
		&costAnomalyMonitor{store: store, now: e.nowFn},
	}
	return e
}

func (e *Engine) nowFn() time.Time { return e.now() }

// SetMaxDeliveryAttempts overrides how many delivery tries each issued
// alert gets before the dispatcher gives up on it.
func (e *Engine) SetMaxDeliveryAttempts(n int) {
	if n > 0 {
		e.maxAttempts = n
	}
}

// Monitors exposes the catalog for scheduler registration.
func (e *Engine) Monitors() []Monitor { return e.monitors }

// MonitorByType resolves one monitor, for the manual-trigger API.
func (e *Engine) MonitorByType(t domain.TriggerType) (Monitor, bool) {
	for _, m := range e.monitors {
		if m.Type() == t {
			return m, true
		}
	}
	return nil, false
}

// RunMonitor evaluates one monitor and processes every match. Returns
// how many alerts were actually issued after dedup and composition.
func (e *Engine) RunMonitor(ctx context.Context, m Monitor) (int, error) {
	conditions, err := m.Evaluate(ctx)
	if err != nil {
		return 0, fmt.Errorf("monitor %s: %w", m.Type(), err)
	}
	issued := 0
	for _, cond := range conditions {
		fired, err := e.process(ctx, cond)
		if err != nil {
			e.log.Warn("trigger processing failed",
				logx.String("type", string(cond.Type)), logx.String("arrival", cond.ArrivalID), logx.Err(err))
			continue
		}
		if fired {
			issued++
		}
	}
	return issued, nil
}

// process dedups, composes, persists, and enqueues one condition.
// Dedup always queries the store: the engine may run in several
// processes and in-memory state would miss their alerts.
func (e *Engine) process(ctx context.Context, cond domain.TriggerCondition) (bool, error) {
	suppressed, err := e.suppressed(ctx, cond)
	if err != nil {
		return false, err
	}
	if suppressed {
		return false, nil
	}

	composed, err := e.composer.Compose(ctx, cond)
	if err != nil {
		return false, err
	}
	if composed == nil {
		// unresolvable recipient or vanished arrival; logged by the composer
		return false, nil
	}
	// The engine clock stamps issuance so dedup cutoffs compare against
	// the same source.
	composed.CreatedAt = e.now()

	rec := domain.AlertRecord{
		ID:         composed.ID,
		ArrivalID:  composed.ArrivalID,
		AssetID:    composed.AssetID,
		Type:       composed.Type,
		Title:      composed.Title,
		Body:       composed.Body,
		Priority:   composed.Priority,
		Channels:   composed.Channels,
		Recipient:  composed.Recipient.AddressFor(domain.ChannelEmail),
		DedupScope: composed.DedupScope,
		CreatedAt:  composed.CreatedAt,
	}
	if err := e.store.InsertAlert(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}

	payload, err := json.Marshal(composed)
	if err != nil {
		return false, err
	}
	if _, err := e.store.Enqueue(ctx, composed.ID, "alert.deliver", string(payload), e.maxAttempts, e.now()); err != nil {
		return false, err
	}

	if err := e.postFire(ctx, cond); err != nil {
		e.log.Warn("post-fire bookkeeping failed",
			logx.String("type", string(cond.Type)), logx.String("arrival", cond.ArrivalID), logx.Err(err))
	}

	e.log.Info("alert issued",
		logx.String("alert", composed.ID), logx.String("type", string(cond.Type)),
		logx.String("arrival", cond.ArrivalID), logx.String("priority", string(composed.Priority)))
	return true, nil
}

func (e *Engine) suppressed(ctx context.Context, cond domain.TriggerCondition) (bool, error) {
	window, ok := dedupWindows[cond.Type]
	var cutoff time.Time
	switch {
	case cond.Type == domain.TriggerProximity:
		cutoff = time.Unix(0, 0) // any prior alert suppresses
	case !ok || window == 0:
		return false, nil
	default:
		cutoff = e.now().Add(-window)
	}
	n, err := e.store.CountRecentAlerts(ctx, cond.ArrivalID, cond.Type, cond.DedupScope, cutoff)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// postFire updates the last-alerted watermarks that the ETA-change and
// cost-anomaly monitors compare against.
func (e *Engine) postFire(ctx context.Context, cond domain.TriggerCondition) error {
	switch m := cond.Meta.(type) {
	case domain.ETAChangeMeta:
		return e.store.SetLastAlertedETA(ctx, cond.ArrivalID, m.NewETA)
	case domain.CostAnomalyMeta:
		return e.store.SetLastAlertedCost(ctx, cond.ArrivalID, m.Estimate)
	}
	return nil
}
