package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Token format: hl_admin_{secret}
// Example: hl_admin_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	TokenPrefix    = "hl_admin_"
	TokenSecretLen = 64 // hex encoded 32 bytes
)

var (
	// ErrInvalidTokenFormat indicates the token format is invalid.
	ErrInvalidTokenFormat = errors.New("invalid admin token format")
	tokenFormatRegex      = regexp.MustCompile(`^hl_admin_[a-f0-9]{64}$`)
)

// GeneratedToken contains a newly generated admin token.
type GeneratedToken struct {
	Plaintext string // Full token (show once only)
	Hash      string // Argon2id hash for ADMIN_TOKEN_HASH
}

// GenerateAdminToken creates a new admin token and its hash.
func GenerateAdminToken() (*GeneratedToken, error) {
	secret := make([]byte, TokenSecretLen/2)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	plaintext := TokenPrefix + hex.EncodeToString(secret)

	hash, err := HashSecret(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}

	return &GeneratedToken{Plaintext: plaintext, Hash: hash}, nil
}

// ValidateTokenFormat checks that token looks like an admin token. It lets
// callers reject garbage before paying for an argon2 verification.
func ValidateTokenFormat(token string) error {
	if !tokenFormatRegex.MatchString(token) {
		return ErrInvalidTokenFormat
	}
	return nil
}

// VerifyAdminToken checks token against the configured hash.
func VerifyAdminToken(token, encodedHash string) (bool, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return false, err
	}
	return VerifySecret(token, encodedHash)
}
