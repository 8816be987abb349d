// Package verification implements the email verification state machine.
package verification

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	tokenBytes = 32
	// TokenLength is the length of a raw, hex encoded token.
	TokenLength = tokenBytes * 2
	// DefaultTTL is how long a verification link stays valid.
	DefaultTTL = 48 * time.Hour
)

// Token is a freshly issued verification token. Raw goes into the email
// link and is never stored; Hash is persisted.
type Token struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// NewToken issues a token that expires ttl after now.
func NewToken(now time.Time, ttl time.Duration) (*Token, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}
	raw := hex.EncodeToString(b)
	return &Token{Raw: raw, Hash: HashToken(raw), ExpiresAt: now.Add(ttl)}, nil
}

// HashToken returns the hex SHA-256 of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether raw could have been issued by NewToken.
func WellFormed(raw string) bool {
	if len(raw) != TokenLength {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
