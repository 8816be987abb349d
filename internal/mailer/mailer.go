// Package mailer sends transactional email through a Resend-compatible API.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	texttemplate "text/template"
	"time"

	"github.com/hearthline/waitlist/internal/model"
)

//go:embed templates/*
var templateFS embed.FS

var (
	verifyHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/verify.html"))
	verifyText = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/verify.txt"))
)

// VerificationSubject is the subject line of the confirmation email.
const VerificationSubject = "Confirm your spot on the Hearthline waitlist"

// Sender sends the verification email for a new subscriber.
type Sender interface {
	SendVerification(ctx context.Context, sub *model.Subscriber, verifyURL string) error
}

// Message is the provider request body.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// Client posts messages to the email API.
type Client struct {
	endpoint string
	apiKey   string
	from     string
	http     *http.Client
	logger   *slog.Logger
}

var _ Sender = (*Client)(nil)

// New creates a Client.
func New(endpoint, apiKey, from string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With("component", "mailer"),
	}
}

type verifyData struct {
	Name       string
	PostalCode string
	VerifyURL  string
	ExpiresAt  string
}

// RenderVerification builds the confirmation message.
func RenderVerification(from string, sub *model.Subscriber, verifyURL string) (*Message, error) {
	data := verifyData{
		Name:       sub.Name,
		PostalCode: sub.PostalCode,
		VerifyURL:  verifyURL,
		ExpiresAt:  sub.TokenExpiresAt.UTC().Format("January 2, 2006 at 15:04 MST"),
	}

	var html, text bytes.Buffer
	if err := verifyHTML.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	if err := verifyText.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}

	return &Message{
		From:    from,
		To:      []string{sub.Email},
		Subject: VerificationSubject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// SendVerification renders and sends the confirmation email.
func (c *Client) SendVerification(ctx context.Context, sub *model.Subscriber, verifyURL string) error {
	msg, err := RenderVerification(c.from, sub, verifyURL)
	if err != nil {
		return err
	}
	return c.Send(ctx, msg)
}

// Send posts one message.
func (c *Client) Send(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email provider returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var ack struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &ack)

	c.logger.Info("email sent",
		"message_id", ack.ID,
		"email_domain", model.EmailDomain(msg.To[0]),
	)
	return nil
}

// Noop is used when no provider is configured.
type Noop struct{}

// SendVerification does nothing.
func (Noop) SendVerification(context.Context, *model.Subscriber, string) error { return nil }
