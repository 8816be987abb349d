package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthline/waitlist/internal/model"
)

// VisitorHashLength is the length of a visitor hash in hex chars.
const VisitorHashLength = 16

// GenerateVisitorHash creates a privacy-safe visitor identifier.
// Uses SHA256(IP + UserAgent + daily_salt) truncated to 16 hex chars.
func GenerateVisitorHash(ip, userAgent string, at time.Time) string {
	// Daily salt rotates at midnight UTC
	dailySalt := fmt.Sprintf("hearthline:%s", at.UTC().Format("2006-01-02"))

	data := ip + userAgent + dailySalt
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])[:VisitorHashLength]
}

// ValidVisitorHash reports whether h looks like a GenerateVisitorHash result.
func ValidVisitorHash(h string) bool {
	return len(h) == VisitorHashLength && isHex(h)
}

// SanitizeReferrer cleans and truncates the referrer URL.
// Strips query parameters and fragments for privacy.
func SanitizeReferrer(ref string) string {
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil

	sanitized := parsed.String()
	if len(sanitized) > maxMetaLength {
		return sanitized[:maxMetaLength]
	}
	return sanitized
}

// SanitizePath drops the query string and fragment from a page path.
func SanitizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		return path[:i]
	}
	return path
}

// NewEvent builds the stored event from a validated payload.
func NewEvent(payload EventPayload, ip, userAgent string, receivedAt time.Time) *model.AnalyticsEvent {
	occurredAt := receivedAt
	if payload.OccurredAt > 0 {
		occurredAt = time.UnixMilli(payload.OccurredAt)
	}

	return &model.AnalyticsEvent{
		ID:        ulid.Make().String(),
		Name:      payload.Name,
		Path:      SanitizePath(payload.Path),
		SessionID: payload.SessionID,
		Referrer:  SanitizeReferrer(payload.Referrer),
		Attribution: model.Attribution{
			Source:   payload.UTMSource,
			Medium:   payload.UTMMedium,
			Campaign: payload.UTMCampaign,
			Term:     payload.UTMTerm,
			Content:  payload.UTMContent,
		},
		Properties:  payload.Properties,
		VisitorHash: GenerateVisitorHash(ip, userAgent, receivedAt),
		OccurredAt:  occurredAt.UTC(),
		ReceivedAt:  receivedAt.UTC(),
	}
}
