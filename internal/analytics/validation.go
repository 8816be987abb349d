// Package analytics validates and normalizes page events from the marketing
// site.
package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

const (
	maxNameLength       = 64
	maxPathLength       = 512
	maxSessionIDLength  = 128
	maxMetaLength       = 500
	maxUTMLength        = 200
	maxPropertiesLength = 4096

	// maxClockSkew bounds how far in the future a client timestamp may be.
	maxClockSkew = 5 * time.Minute
	// maxEventAge bounds how old a reported event may be.
	maxEventAge = 24 * time.Hour
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]*$`)

// EventPayload is the request body of POST /api/analytics.
type EventPayload struct {
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	SessionID   string          `json:"session_id,omitempty"`
	Referrer    string          `json:"referrer,omitempty"`
	UTMSource   string          `json:"utm_source,omitempty"`
	UTMMedium   string          `json:"utm_medium,omitempty"`
	UTMCampaign string          `json:"utm_campaign,omitempty"`
	UTMTerm     string          `json:"utm_term,omitempty"`
	UTMContent  string          `json:"utm_content,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	OccurredAt  int64           `json:"occurred_at,omitempty"` // Unix milliseconds
}

// ValidateEventPayload checks payload fields. now anchors the timestamp
// window.
func ValidateEventPayload(payload EventPayload, now time.Time) error {
	if payload.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(payload.Name) > maxNameLength || !namePattern.MatchString(payload.Name) {
		return fmt.Errorf("name must be up to %d lowercase letters, digits or _.:-", maxNameLength)
	}
	if payload.Path == "" || payload.Path[0] != '/' {
		return fmt.Errorf("path must start with /")
	}
	if len(payload.Path) > maxPathLength {
		return fmt.Errorf("path too long")
	}
	if len(payload.SessionID) > maxSessionIDLength {
		return fmt.Errorf("session_id too long")
	}
	if len(payload.Referrer) > maxMetaLength*4 {
		return fmt.Errorf("referrer too long")
	}
	for _, v := range []string{payload.UTMSource, payload.UTMMedium, payload.UTMCampaign, payload.UTMTerm, payload.UTMContent} {
		if len(v) > maxUTMLength {
			return fmt.Errorf("utm fields must be at most %d chars", maxUTMLength)
		}
	}
	if len(payload.Properties) > 0 {
		if len(payload.Properties) > maxPropertiesLength {
			return fmt.Errorf("properties must be at most %d bytes", maxPropertiesLength)
		}
		if !isJSONObject(payload.Properties) {
			return fmt.Errorf("properties must be a JSON object")
		}
	}
	if payload.OccurredAt < 0 {
		return fmt.Errorf("occurred_at must be positive")
	}
	if payload.OccurredAt > 0 {
		at := time.UnixMilli(payload.OccurredAt)
		if at.After(now.Add(maxClockSkew)) {
			return fmt.Errorf("occurred_at is in the future")
		}
		if at.Before(now.Add(-maxEventAge)) {
			return fmt.Errorf("occurred_at is too old")
		}
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(trimmed, &obj) == nil
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			continue
		}
		return false
	}
	return true
}
