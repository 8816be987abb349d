package model

import (
	"slices"
	"time"
)

// EventType represents automation webhook event types.
type EventType string

const (
	EventLeadCreated  EventType = "lead.created"
	EventLeadVerified EventType = "lead.verified"
)

// ValidEventTypes contains all valid event types.
var ValidEventTypes = []EventType{EventLeadCreated, EventLeadVerified}

// IsValidEventType checks if an event type is valid.
func IsValidEventType(et EventType) bool {
	return slices.Contains(ValidEventTypes, et)
}

// WebhookEvent is the payload sent to the automation webhook.
type WebhookEvent struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       *Subscriber `json:"data"`
}

// NewLeadEvent wraps a subscriber in an event of the given type.
func NewLeadEvent(id string, et EventType, sub *Subscriber, at time.Time) WebhookEvent {
	return WebhookEvent{ID: id, Type: et, OccurredAt: at.UTC(), Data: sub}
}
