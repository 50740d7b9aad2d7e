// Package events describes the facts the inbox announces to other systems
// after they are committed.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event types
const (
	TypeNotificationAccepted = "notification.accepted"
	TypeDeliveryCompleted    = "delivery.completed"
)

// Event is a committed fact. Subject fields that do not apply stay empty.
type Event struct {
	OccurredAt      time.Time `json:"occurred_at"`
	Type            string    `json:"type"`
	NotificationIRI string    `json:"notification_iri,omitempty"`
	ActivityType    string    `json:"activity_type,omitempty"`
	Actor           string    `json:"actor,omitempty"`
	TargetInboxIRI  string    `json:"target_inbox_iri,omitempty"`
	DeliveryStatus  string    `json:"delivery_status,omitempty"`
	NotificationID  int64     `json:"notification_id,omitempty"`
	InboxID         int64     `json:"inbox_id,omitempty"`
	OutgoingID      int64     `json:"outgoing_id,omitempty"`
	HTTPCode        int       `json:"http_code,omitempty"`
}

// Publisher sends events to a broker
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Notify publishes e and logs a failure instead of returning it. Callers
// have already committed the fact the event describes.
func Notify(ctx context.Context, p Publisher, logger *zap.Logger, e Event) {
	if p == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("failed to publish event",
			zap.String("event_type", e.Type),
			zap.Error(err),
		)
	}
}
