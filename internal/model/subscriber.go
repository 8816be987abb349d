// Package model defines domain entities for the application.
package model

import (
	"slices"
	"time"
)

// PropertyType is the kind of property a lead wants heated.
type PropertyType string

const (
	PropertyHome     PropertyType = "home"
	PropertyBusiness PropertyType = "business"
)

// ValidPropertyTypes contains all accepted property types.
var ValidPropertyTypes = []PropertyType{PropertyHome, PropertyBusiness}

// IsValidPropertyType checks if a property type is valid.
func IsValidPropertyType(pt PropertyType) bool {
	return slices.Contains(ValidPropertyTypes, pt)
}

// VerificationStatus represents the email verification state of a subscriber.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusExpired  VerificationStatus = "expired"
)

// Attribution holds UTM campaign parameters captured at signup.
type Attribution struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// IsEmpty reports whether no UTM field was supplied.
func (a Attribution) IsEmpty() bool {
	return a == Attribution{}
}

// Subscriber is the normalized waitlist record forwarded to collaborators.
type Subscriber struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	Name               string             `json:"name,omitempty"`
	Phone              string             `json:"phone,omitempty"`
	PostalCode         string             `json:"postal_code,omitempty"`
	PropertyType       PropertyType       `json:"property_type"`
	MonthlyHeatingCost *float64           `json:"monthly_heating_cost,omitempty"`
	Consent            bool               `json:"consent"`
	Attribution        Attribution        `json:"attribution"`
	Referrer           string             `json:"referrer,omitempty"`
	RiskScore          int                `json:"risk_score"`
	RiskFlags          []string           `json:"risk_flags,omitempty"`
	Status             VerificationStatus `json:"status"`
	TokenHash          string             `json:"-"` // Never serialize
	TokenExpiresAt     time.Time          `json:"-"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsVerified returns true if the subscriber confirmed their email.
func (s *Subscriber) IsVerified() bool {
	return s.Status == StatusVerified
}

// TokenExpired reports whether the verification token is no longer usable at now.
// A token is expired at exactly its expiry instant.
func (s *Subscriber) TokenExpired(now time.Time) bool {
	return !now.Before(s.TokenExpiresAt)
}

// EmailDomain returns the domain part of the subscriber email for logging.
func EmailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}

// StatusCounts aggregates subscribers per verification status.
type StatusCounts struct {
	Pending  int64 `json:"pending"`
	Verified int64 `json:"verified"`
	Expired  int64 `json:"expired"`
}

// Total returns the number of subscribers across all statuses.
func (c StatusCounts) Total() int64 {
	return c.Pending + c.Verified + c.Expired
}
