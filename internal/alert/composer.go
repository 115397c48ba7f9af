// Package alert turns matched trigger conditions into renderable,
// prioritized, channel-routed alerts.
package alert

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

// Store is the lookup surface the composer needs.
type Store interface {
	GetArrival(ctx context.Context, id string) (domain.Arrival, error)
	GetAsset(ctx context.Context, id string) (domain.TrackedAsset, error)
	ContactForAsset(ctx context.Context, assetID string) (domain.Contact, error)
}

type Composer struct {
	store Store
	log   logx.Logger
	now   func() time.Time

	// missingContacts counts compositions dropped for lack of a
	// recipient; surfaced on the health endpoint.
	missingContacts atomic.Uint64
}

func NewComposer(store Store, log logx.Logger) *Composer {
	return &Composer{store: store, log: log, now: time.Now}
}

// Compose renders a condition into a deliverable alert. Returns
// (nil, nil) when the arrival or its contact cannot be resolved: that
// is a data problem retrying cannot fix, so it is logged and counted,
// never propagated.
func (c *Composer) Compose(ctx context.Context, cond domain.TriggerCondition) (*domain.ComposedAlert, error) {
	arrival, err := c.store.GetArrival(ctx, cond.ArrivalID)
	if errors.Is(err, storage.ErrNotFound) {
		c.log.Warn("compose: arrival vanished", logx.String("arrival", cond.ArrivalID), logx.String("type", string(cond.Type)))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	asset, err := c.store.GetAsset(ctx, arrival.AssetID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	assetName := asset.Name
	if assetName == "" {
		assetName = arrival.AssetID
	}

	contact, err := c.store.ContactForAsset(ctx, arrival.AssetID)
	if errors.Is(err, storage.ErrNotFound) {
		c.missingContacts.Add(1)
		c.log.Warn("compose: no contact for asset; alert dropped",
			logx.String("asset", arrival.AssetID), logx.String("type", string(cond.Type)))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := c.now()
	priority := priorityFor(cond.Type, cond.Meta)
	return &domain.ComposedAlert{
		ID:         uuid.NewString(),
		ArrivalID:  cond.ArrivalID,
		AssetID:    arrival.AssetID,
		Type:       cond.Type,
		Title:      renderTitle(assetName, cond.Meta),
		Body:       renderBody(assetName, cond.Meta),
		Priority:   priority,
		Channels:   SelectChannels(priority, now.UTC().Hour()),
		Recipient:  contact,
		DedupScope: cond.DedupScope,
		CreatedAt:  now,
	}, nil
}

// MissingContactCount reports how many alerts were dropped because no
// recipient could be resolved.
func (c *Composer) MissingContactCount() uint64 { return c.missingContacts.Load() }
