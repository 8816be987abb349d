package model

import (
	"encoding/json"
	"time"
)

// AnalyticsEvent is a page or interaction event sent by the marketing site.
type AnalyticsEvent struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	SessionID   string          `json:"session_id,omitempty"`
	Referrer    string          `json:"referrer,omitempty"`
	Attribution Attribution     `json:"attribution"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	VisitorHash string          `json:"visitor_hash"`
	OccurredAt  time.Time       `json:"occurred_at"`
	ReceivedAt  time.Time       `json:"received_at"`
}
