package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// outboxScheduleKey is a sorted set of entry IDs scored by next attempt (unix ms).
	outboxScheduleKey = "outbox:webhook:schedule"
	// outboxPayloadKey is a hash of entry ID to JSON encoded entry.
	outboxPayloadKey = "outbox:webhook:entries"
	// outboxLease is how long a claimed entry stays invisible to other workers.
	outboxLease = 2 * time.Minute
)

// OutboxEntry is one parked webhook delivery.
type OutboxEntry struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	Body       []byte    `json:"body"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// claimScript atomically takes due entries and pushes their score forward by
// the lease, so concurrent workers never claim the same entry.
var claimScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local lease_until = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	local ids = redis.call('ZRANGEBYSCORE', key, '-inf', now, 'LIMIT', 0, limit)
	for _, id in ipairs(ids) do
		redis.call('ZADD', key, lease_until, id)
	end
	return ids
`)

// Outbox stores failed deliveries for later retry.
type Outbox struct {
	cache *Cache
}

// Outbox returns the webhook outbox backed by this cache.
func (c *Cache) Outbox() *Outbox {
	return &Outbox{cache: c}
}

// Enqueue stores entry and schedules its next attempt at at.
func (o *Outbox) Enqueue(ctx context.Context, entry OutboxEntry, at time.Time) error {
	if entry.ID == "" {
		return errors.New("outbox entry requires an id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode outbox entry: %w", err)
	}

	pipe := o.cache.client.TxPipeline()
	pipe.HSet(ctx, outboxPayloadKey, entry.ID, data)
	pipe.ZAdd(ctx, outboxScheduleKey, redis.Z{Score: float64(at.UnixMilli()), Member: entry.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// Reschedule is Enqueue for an entry that was already claimed.
func (o *Outbox) Reschedule(ctx context.Context, entry OutboxEntry, at time.Time) error {
	return o.Enqueue(ctx, entry, at)
}

// Claim returns up to limit entries due at now and leases them.
func (o *Outbox) Claim(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	ids, err := claimScript.Run(ctx, o.cache.client,
		[]string{outboxScheduleKey},
		now.UnixMilli(), now.Add(outboxLease).UnixMilli(), limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox entries: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := o.cache.client.HMGet(ctx, outboxPayloadKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load outbox entries: %w", err)
	}

	entries := make([]OutboxEntry, 0, len(ids))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			// Payload gone; drop the orphaned schedule entry.
			o.cache.client.ZRem(ctx, outboxScheduleKey, ids[i])
			continue
		}
		var entry OutboxEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode outbox entry %s: %w", ids[i], err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove deletes an entry after success or when it is abandoned.
func (o *Outbox) Remove(ctx context.Context, id string) error {
	pipe := o.cache.client.TxPipeline()
	pipe.ZRem(ctx, outboxScheduleKey, id)
	pipe.HDel(ctx, outboxPayloadKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove outbox entry: %w", err)
	}
	return nil
}

// Len returns the number of parked entries.
func (o *Outbox) Len(ctx context.Context) (int64, error) {
	n, err := o.cache.client.ZCard(ctx, outboxScheduleKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	return n, nil
}
