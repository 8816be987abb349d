package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ErrNotConfigured is returned when no automation URL is set.
var ErrNotConfigured = errors.New("automation webhook not configured")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.StatusCode)
}

// Deliverer POSTs signed payloads to the automation webhook.
type Deliverer struct {
	targetURL string
	secret    string
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
}

// NewDeliverer creates a Deliverer. An empty targetURL yields a Deliverer
// whose Send always returns ErrNotConfigured.
func NewDeliverer(targetURL, secret string, client *http.Client, logger *slog.Logger) *Deliverer {
	if client == nil {
		client = NewHTTPClient(DefaultClientTimeout)
	}
	return &Deliverer{
		targetURL: targetURL,
		secret:    secret,
		client:    client,
		logger:    logger.With("component", "webhook.deliverer"),
		now:       time.Now,
	}
}

// Configured reports whether a target URL is set.
func (d *Deliverer) Configured() bool {
	return d.targetURL != ""
}

// Send delivers one payload. deliveryID is stable across retries so the
// receiver can deduplicate.
func (d *Deliverer) Send(ctx context.Context, deliveryID, event string, payload []byte) error {
	if !d.Configured() {
		return ErrNotConfigured
	}

	timestamp := d.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.targetURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	headers := HTTPHeaders{
		Timestamp:  strconv.FormatInt(timestamp, 10),
		DeliveryID: deliveryID,
		Event:      event,
	}
	if d.secret != "" {
		headers.Signature = GenerateSignature(d.secret, timestamp, payload)
	}
	SetWebhookHeaders(req, headers)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	d.logger.Debug("webhook delivered",
		"delivery_id", deliveryID,
		"event", event,
		"target_host", ExtractHost(d.targetURL),
		"http_status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
