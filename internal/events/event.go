// Package events delivers parse lifecycle notifications to downstream collaborators.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
)

type Type string

const (
	TypeFinalized Type = "finalized"
	TypeFailed    Type = "failed"
	TypeArchived  Type = "archived"
	TypeReviewed  Type = "reviewed"
	TypeDeleted   Type = "deleted"
)

// CloudEventType is the reverse-DNS event type for t.
func (t Type) CloudEventType() string { return "com.packetparser.parse." + string(t) }

// ParseEvent is the notification payload.
type ParseEvent struct {
	ID          uuid.UUID             `json:"id"`
	Type        Type                  `json:"type"`
	ParseID     uuid.UUID             `json:"parseId"`
	OwnerID     string                `json:"ownerId"`
	Status      constants.ParseStatus `json:"status"`
	NeedsReview bool                  `json:"needsReview"`
	Confidence  float64               `json:"confidence"`
	Error       string                `json:"error,omitempty"`
	At          time.Time             `json:"at"`
}

// Notifier delivers one event. Implementations report retryable failures via Temporary().
type Notifier interface {
	Notify(ctx context.Context, ev ParseEvent) error
}

// Publisher is what the lifecycle depends on: a non-blocking fire-and-forget sink.
type Publisher interface {
	Emit(ev ParseEvent)
}

// NopNotifier discards events; it is used when no target is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, ParseEvent) error { return nil }
