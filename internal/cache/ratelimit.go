package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hearthline/waitlist/internal/ratelimit"
)

// rateLimitPrefix is the Redis key prefix for limiter records.
const rateLimitPrefix = "ratelimit:"

// Hash fields of a limiter record. Times are unix milliseconds.
const (
	fieldCount         = "count"
	fieldWindowStart   = "window_start"
	fieldViolations    = "violations"
	fieldPenaltyUntil  = "penalty_until"
	fieldLastViolation = "last_violation"
)

// RateLimitStore keeps limiter records in Redis hashes.
// Get and Put are separate round trips; concurrent requests for the same key
// may both read the old count. The limiter tolerates that.
type RateLimitStore struct {
	cache *Cache
}

var _ ratelimit.Store = (*RateLimitStore)(nil)

// RateLimitStore returns a ratelimit.Store backed by this cache.
func (c *Cache) RateLimitStore() *RateLimitStore {
	return &RateLimitStore{cache: c}
}

// Get returns the record stored under key, or nil.
func (s *RateLimitStore) Get(ctx context.Context, key string) (*ratelimit.Record, error) {
	fields, err := s.cache.client.HGetAll(ctx, rateLimitKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRecord(fields)
}

// Put writes rec under key and sets its expiry.
func (s *RateLimitStore) Put(ctx context.Context, key string, rec *ratelimit.Record, ttl time.Duration) error {
	k := rateLimitKey(key)

	pipe := s.cache.client.TxPipeline()
	pipe.HSet(ctx, k, encodeRecord(rec))
	pipe.PExpire(ctx, k, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store rate limit record: %w", err)
	}
	return nil
}

// rateLimitKey maps "endpoint:identifier" to a Redis key. The identifier is
// usually a client IP and is hashed so raw addresses never reach Redis.
func rateLimitKey(key string) string {
	endpoint, identifier, ok := strings.Cut(key, ":")
	if !ok {
		return rateLimitPrefix + hashIP(key)
	}
	return rateLimitPrefix + endpoint + ":" + hashIP(identifier)
}

func encodeRecord(rec *ratelimit.Record) map[string]any {
	return map[string]any{
		fieldCount:         rec.Count,
		fieldWindowStart:   unixMilli(rec.WindowStart),
		fieldViolations:    rec.Violations,
		fieldPenaltyUntil:  unixMilli(rec.PenaltyUntil),
		fieldLastViolation: unixMilli(rec.LastViolation),
	}
}

func decodeRecord(fields map[string]string) (*ratelimit.Record, error) {
	var rec ratelimit.Record
	var err error

	if rec.Count, err = parseInt(fields, fieldCount); err != nil {
		return nil, err
	}
	violations, err := parseInt(fields, fieldViolations)
	if err != nil {
		return nil, err
	}
	rec.Violations = int(violations)

	for name, dst := range map[string]*time.Time{
		fieldWindowStart:   &rec.WindowStart,
		fieldPenaltyUntil:  &rec.PenaltyUntil,
		fieldLastViolation: &rec.LastViolation,
	} {
		ms, err := parseInt(fields, name)
		if err != nil {
			return nil, err
		}
		*dst = fromUnixMilli(ms)
	}

	return &rec, nil
}

func parseInt(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit field %s: %w", name, err)
	}
	return v, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// hashIP creates a truncated SHA256 hash of an IP address.
// This provides privacy while maintaining uniqueness.
func hashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:8]) // 16 hex chars
}
