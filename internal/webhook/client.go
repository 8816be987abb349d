package webhook

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultClientTimeout bounds a whole delivery when none is configured.
	DefaultClientTimeout = 5 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 3 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 3 * time.Second
)

// NewHTTPClient creates an HTTP client for webhook delivery. It never
// follows redirects.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// HeaderNames for webhook requests.
const (
	HeaderSignature  = "X-Hearthline-Signature"
	HeaderTimestamp  = "X-Hearthline-Timestamp"
	HeaderDeliveryID = "X-Hearthline-Delivery-Id"
	HeaderEvent      = "X-Hearthline-Event"
)

// HTTPHeaders contains the standard webhook headers.
type HTTPHeaders struct {
	Signature  string
	Timestamp  string
	DeliveryID string
	Event      string
}

// SetWebhookHeaders applies webhook headers to an HTTP request.
func SetWebhookHeaders(req *http.Request, headers HTTPHeaders) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, headers.Signature)
	req.Header.Set(HeaderTimestamp, headers.Timestamp)
	req.Header.Set(HeaderDeliveryID, headers.DeliveryID)
	if headers.Event != "" {
		req.Header.Set(HeaderEvent, headers.Event)
	}
	req.Header.Set("User-Agent", "Hearthline-Webhook/1.0")
}
