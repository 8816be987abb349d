package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateSignature(t *testing.T) {
	t.Parallel()

	secret := "whsec_test123"
	ts := int64(1736600000)
	payload := []byte(`{"id":"01JEV","type":"lead.created"}`)

	sig := GenerateSignature(secret, ts, payload)
	if len(sig) != 64 {
		t.Errorf("signature length = %d, want 64", len(sig))
	}
	if sig != GenerateSignature(secret, ts, payload) {
		t.Error("signature is not deterministic")
	}
	if sig == GenerateSignature(secret, ts+1, payload) {
		t.Error("different timestamp should produce different signature")
	}
	if sig == GenerateSignature(secret+"x", ts, payload) {
		t.Error("different secret should produce different signature")
	}
}

func TestCanonicalStringFormat(t *testing.T) {
	t.Parallel()

	secret := "test_secret"
	payload := []byte(`{"type":"lead.created"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(`1736600000.{"type":"lead.created"}`))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := GenerateSignature(secret, 1736600000, payload); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	secret := "test_secret"
	now := time.Unix(1760000000, 0)
	payload := []byte(`{"test":"data"}`)
	sign := func(at time.Time) string { return GenerateSignature(secret, at.Unix(), payload) }

	tests := []struct {
		name    string
		sig     string
		ts      time.Time
		wantErr error
	}{
		{"valid", sign(now), now, nil},
		{"within skew", sign(now.Add(-4 * time.Minute)), now.Add(-4 * time.Minute), nil},
		{"invalid", "invalid", now, ErrInvalidSignature},
		{"too old", sign(now.Add(-10 * time.Minute)), now.Add(-10 * time.Minute), ErrReplayWindowExceeded},
		{"too far ahead", sign(now.Add(10 * time.Minute)), now.Add(10 * time.Minute), ErrReplayWindowExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSignature(secret, tt.sig, tt.ts.Unix(), payload, DefaultReplayWindow, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, _ := GenerateSecret()
	if !strings.HasPrefix(a, "whsec_") || len(a) != len("whsec_")+64 {
		t.Errorf("secret = %q, want whsec_ + 64 hex", a)
	}
	if a == b {
		t.Error("secrets should be unique")
	}
}
