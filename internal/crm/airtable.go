// Package crm mirrors waitlist leads into the Airtable base the sales team
// works from.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hearthline/waitlist/internal/model"
)

// DefaultBaseURL is the Airtable REST endpoint.
const DefaultBaseURL = "https://api.airtable.com"

// Client records leads in the CRM.
type Client interface {
	UpsertLead(ctx context.Context, sub *model.Subscriber) error
}

// APIError is a non-2xx Airtable response.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("airtable: HTTP %d %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("airtable: HTTP %d", e.StatusCode)
}

// AirtableConfig configures an AirtableClient.
type AirtableConfig struct {
	APIKey  string
	BaseID  string
	Table   string
	BaseURL string  // defaults to DefaultBaseURL
	RPS     float64 // client side throttle; Airtable allows 5 per base
	Timeout time.Duration
}

// AirtableClient talks to the Airtable records API.
type AirtableClient struct {
	cfg     AirtableConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Client = (*AirtableClient)(nil)

// NewAirtableClient creates a client.
func NewAirtableClient(cfg AirtableConfig, logger *slog.Logger) *AirtableClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	return &AirtableClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "crm.airtable"),
	}
}

type upsertRequest struct {
	PerformUpsert struct {
		FieldsToMergeOn []string `json:"fieldsToMergeOn"`
	} `json:"performUpsert"`
	Typecast bool           `json:"typecast"`
	Records  []recordFields `json:"records"`
}

type recordFields struct {
	Fields map[string]any `json:"fields"`
}

// UpsertLead creates the lead's row, or updates the row with the same email.
func (c *AirtableClient) UpsertLead(ctx context.Context, sub *model.Subscriber) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("airtable throttle: %w", err)
	}

	var body upsertRequest
	body.PerformUpsert.FieldsToMergeOn = []string{"Email"}
	body.Typecast = true
	body.Records = []recordFields{{Fields: leadFields(sub)}}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal airtable record: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v0/%s/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.BaseID), url.PathEscape(c.cfg.Table))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create airtable request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("airtable request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil {
			apiErr.Type = envelope.Error.Type
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	c.logger.Debug("lead synced",
		"subscriber_id", sub.ID,
		"status", sub.Status,
	)
	return nil
}

// leadFields maps a subscriber onto the base's column names.
func leadFields(sub *model.Subscriber) map[string]any {
	fields := map[string]any{
		"Subscriber ID": sub.ID,
		"Email":         sub.Email,
		"Name":          sub.Name,
		"Phone":         sub.Phone,
		"Postal Code":   sub.PostalCode,
		"Property Type": string(sub.PropertyType),
		"Consent":       sub.Consent,
		"Status":        string(sub.Status),
		"Risk Score":    sub.RiskScore,
		"Signed Up At":  sub.CreatedAt.UTC().Format(time.RFC3339),
	}
	if sub.MonthlyHeatingCost != nil {
		fields["Monthly Heating Cost"] = *sub.MonthlyHeatingCost
	}
	if len(sub.RiskFlags) > 0 {
		fields["Risk Flags"] = strings.Join(sub.RiskFlags, ", ")
	}
	if sub.VerifiedAt != nil {
		fields["Verified At"] = sub.VerifiedAt.UTC().Format(time.RFC3339)
	}
	a := sub.Attribution
	for name, v := range map[string]string{
		"UTM Source":   a.Source,
		"UTM Medium":   a.Medium,
		"UTM Campaign": a.Campaign,
		"UTM Term":     a.Term,
		"UTM Content":  a.Content,
		"Referrer":     sub.Referrer,
	} {
		if v != "" {
			fields[name] = v
		}
	}
	return fields
}

// Noop is used when Airtable is not configured.
type Noop struct{}

// UpsertLead does nothing.
func (Noop) UpsertLead(context.Context, *model.Subscriber) error { return nil }
