// Package csrf issues and verifies stateless, session-bound CSRF tokens.
//
// A token is base64url(nonce ‖ expiry ‖ mac) where mac is
// HMAC-SHA256(secret, nonce ‖ expiry ‖ session). Tokens have a fixed length,
// carry their own expiry and are only valid for the session they were
// issued to.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	nonceSize  = 16
	expirySize = 8
	macSize    = sha256.Size
	rawSize    = nonceSize + expirySize + macSize

	// MinSecretLength is the shortest accepted signing secret.
	MinSecretLength = 32
)

// TokenLength is the length of an encoded token.
var TokenLength = base64.RawURLEncoding.EncodedLen(rawSize)

var (
	ErrMissingToken   = errors.New("csrf token missing")
	ErrMissingSession = errors.New("csrf session missing")
	ErrMalformedToken = errors.New("csrf token malformed")
	ErrExpiredToken   = errors.New("csrf token expired")
	ErrInvalidToken   = errors.New("csrf token invalid")
	ErrWeakSecret     = fmt.Errorf("csrf secret must be at least %d bytes", MinSecretLength)
)

// Manager issues and verifies tokens with one secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a Manager. ttl bounds token lifetime.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		return nil, errors.New("csrf token ttl must be positive")
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the clock.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue creates a token bound to session.
func (m *Manager) Issue(session string) (string, time.Time, error) {
	if session == "" {
		return "", time.Time{}, ErrMissingSession
	}

	raw := make([]byte, rawSize)
	if _, err := rand.Read(raw[:nonceSize]); err != nil {
		return "", time.Time{}, fmt.Errorf("generate csrf nonce: %w", err)
	}

	expires := m.now().Add(m.ttl).Truncate(time.Second)
	binary.BigEndian.PutUint64(raw[nonceSize:nonceSize+expirySize], uint64(expires.Unix()))
	copy(raw[nonceSize+expirySize:], m.mac(raw[:nonceSize+expirySize], session))

	return base64.RawURLEncoding.EncodeToString(raw), expires, nil
}

// Verify checks that token was issued by this Manager for session and has
// not expired.
func (m *Manager) Verify(token, session string) error {
	if token == "" {
		return ErrMissingToken
	}
	if session == "" {
		return ErrMissingSession
	}
	if len(token) != TokenLength {
		return ErrMalformedToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != rawSize {
		return ErrMalformedToken
	}

	signed := raw[:nonceSize+expirySize]
	if !hmac.Equal(raw[nonceSize+expirySize:], m.mac(signed, session)) {
		return ErrInvalidToken
	}

	expires := time.Unix(int64(binary.BigEndian.Uint64(raw[nonceSize:nonceSize+expirySize])), 0)
	if !m.now().Before(expires) {
		return ErrExpiredToken
	}

	return nil
}

func (m *Manager) mac(signed []byte, session string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(signed)
	h.Write([]byte(session))
	return h.Sum(nil)
}

// NewSessionID returns a random session identifier.
func NewSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id.String(), nil
}
