package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthline/waitlist/internal/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockReceiver simulates the automation webhook.
type mockReceiver struct {
	Server     *httptest.Server
	Secret     string
	failCount  atomic.Int32
	mu         sync.Mutex
	deliveries []receivedDelivery
}

type receivedDelivery struct {
	DeliveryID  string
	Event       string
	Payload     json.RawMessage
	SignatureOK bool
}

func newMockReceiver(t *testing.T, secret string) *mockReceiver {
	t.Helper()
	mr := &mockReceiver{Secret: secret}
	mr.Server = httptest.NewServer(http.HandlerFunc(mr.handle))
	t.Cleanup(mr.Server.Close)
	return mr
}

// FailNext makes the next n requests answer 503.
func (mr *mockReceiver) FailNext(n int32) {
	mr.failCount.Store(n)
}

func (mr *mockReceiver) handle(w http.ResponseWriter, r *http.Request) {
	if mr.failCount.Load() > 0 {
		mr.failCount.Add(-1)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ts, _ := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	sigErr := ValidateSignature(mr.Secret, r.Header.Get(HeaderSignature), ts, body, DefaultReplayWindow, time.Now())

	mr.mu.Lock()
	mr.deliveries = append(mr.deliveries, receivedDelivery{
		DeliveryID:  r.Header.Get(HeaderDeliveryID),
		Event:       r.Header.Get(HeaderEvent),
		Payload:     body,
		SignatureOK: sigErr == nil,
	})
	mr.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (mr *mockReceiver) Deliveries() []receivedDelivery {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return append([]receivedDelivery{}, mr.deliveries...)
}

// memOutbox is an in-process Outbox with the same lease semantics as Redis.
type memOutbox struct {
	mu        sync.Mutex
	entries   map[string]cache.OutboxEntry
	due       map[string]time.Time
	failWrite error
}

func newMemOutbox() *memOutbox {
	return &memOutbox{entries: map[string]cache.OutboxEntry{}, due: map[string]time.Time{}}
}

func (o *memOutbox) Enqueue(_ context.Context, e cache.OutboxEntry, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failWrite != nil {
		return o.failWrite
	}
	o.entries[e.ID] = e
	o.due[e.ID] = at
	return nil
}

func (o *memOutbox) Reschedule(ctx context.Context, e cache.OutboxEntry, at time.Time) error {
	return o.Enqueue(ctx, e, at)
}

func (o *memOutbox) Claim(_ context.Context, now time.Time, limit int) ([]cache.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.due))
	for id, at := range o.due {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]cache.OutboxEntry, 0, len(ids))
	for _, id := range ids {
		o.due[id] = now.Add(2 * time.Minute)
		out = append(out, o.entries[id])
	}
	return out, nil
}

func (o *memOutbox) Remove(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, id)
	delete(o.due, id)
	return nil
}

func (o *memOutbox) Len(context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.entries)), nil
}

func (o *memOutbox) get(id string) (cache.OutboxEntry, time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	return e, o.due[id], ok
}
