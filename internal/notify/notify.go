// Package notify publishes asset lifecycle events after terminal transitions.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type EventType string

const (
	EventAssetConfirmed EventType = "asset.confirmed"
	EventAssetFailed    EventType = "asset.failed"
	EventAssetPurged    EventType = "asset.purged"
)

type Event struct {
	Type            EventType     `json:"type"`
	AssetID         uuid.UUID     `json:"asset_id"`
	TxID            *uuid.UUID    `json:"tx_id,omitempty"`
	Kind            assets.TxKind `json:"kind,omitempty"`
	Status          assets.Status `json:"status"`
	Version         int           `json:"version"`
	OwnerID         string        `json:"owner_id"`
	PreviousOwnerID string        `json:"previous_owner_id,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func Nop() Publisher { return nopPublisher{} }

type fanout struct {
	log  *logger.Logger
	pubs []Publisher
}

// NewFanout delivers every event to each publisher in turn. One failing sink
// does not stop the others.
func NewFanout(log *logger.Logger, pubs ...Publisher) Publisher {
	out := make([]Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return &fanout{log: log.With("service", "NotifyFanout"), pubs: out}
}

func (f *fanout) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, p := range f.pubs {
		if err := p.Publish(ctx, ev); err != nil {
			f.log.Warn("event delivery failed", "type", ev.Type, "asset_id", ev.AssetID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
