// Package realtime fans dispatch events out to connected clients by way of
// the outbox. Delivery is best effort: a failed write is logged and dropped.
package realtime

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Event is one realtime message scoped to an organization.
type Event struct {
	Type          enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *outbox.ActorRef
	Data          any
}

type Broadcaster struct {
	tx     txRunner
	outbox emitter
	logg   *logger.Logger
}

func NewBroadcaster(tx txRunner, out emitter, logg *logger.Logger) (*Broadcaster, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if out == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Broadcaster{tx: tx, outbox: out, logg: logg}, nil
}

// Broadcast queues event for orgID in its own transaction.
func (b *Broadcaster) Broadcast(ctx context.Context, orgID uuid.UUID, event Event) {
	err := b.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return b.outbox.Emit(ctx, tx, outbox.DomainEvent{
			OrganizationID: orgID,
			EventType:      event.Type,
			AggregateType:  event.AggregateType,
			AggregateID:    event.AggregateID,
			Actor:          event.Actor,
			Data:           event.Data,
		})
	})
	if err != nil {
		logCtx := b.logg.WithFields(ctx, map[string]any{
			"organization_id": orgID.String(),
			"event_type":      event.Type,
			"aggregate_id":    event.AggregateID.String(),
			"error":           err.Error(),
		})
		b.logg.Warn(logCtx, "realtime broadcast dropped")
	}
}
