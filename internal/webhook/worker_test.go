package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/hearthline/waitlist/internal/cache"
	"github.com/hearthline/waitlist/internal/metrics"
)

func newTestWorker(t *testing.T, url string, outbox Outbox, rec metrics.Recorder, now *time.Time) *Worker {
	t.Helper()
	w := NewWorker(outbox, NewDeliverer(url, "s", nil, discardLogger()), discardLogger(), rec)
	w.now = func() time.Time { return *now }
	w.backoff.Rand = func() float64 { return 0.5 } // no jitter
	return w
}

func TestWorker_DeliversDueEntries(t *testing.T) {
	t.Parallel()

	rx := newMockReceiver(t, "s")
	outbox := newMemOutbox()
	rec := metrics.NewInMemory()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_ = outbox.Enqueue(ctx, cache.OutboxEntry{ID: "due", Event: "lead.created", Body: []byte(`{}`), Attempts: 1}, now.Add(-time.Second))
	_ = outbox.Enqueue(ctx, cache.OutboxEntry{ID: "later", Event: "lead.created", Body: []byte(`{}`), Attempts: 1}, now.Add(time.Hour))

	w := newTestWorker(t, rx.Server.URL, outbox, rec, &now)
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce() error = %v", err)
	}

	got := rx.Deliveries()
	if len(got) != 1 || got[0].DeliveryID != "due" {
		t.Fatalf("deliveries = %+v, want only the due entry", got)
	}
	if _, _, ok := outbox.get("due"); ok {
		t.Error("delivered entry should be removed")
	}
	if _, _, ok := outbox.get("later"); !ok {
		t.Error("future entry should remain")
	}
	if rec.Snapshot().OutboxDepth != 1 {
		t.Errorf("OutboxDepth = %d, want 1", rec.Snapshot().OutboxDepth)
	}
}

func TestWorker_FollowsBackoffSchedule(t *testing.T) {
	t.Parallel()

	rx := newMockReceiver(t, "s")
	rx.FailNext(100)
	outbox := newMemOutbox()
	rec := metrics.NewInMemory()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// The synchronous attempt already failed once.
	_ = outbox.Enqueue(ctx, cache.OutboxEntry{ID: "d1", Event: "lead.created", Body: []byte(`{}`), Attempts: 1}, now)
	w := newTestWorker(t, rx.Server.URL, outbox, rec, &now)

	wantWaits := []time.Duration{5 * time.Minute, 30 * time.Minute, 2 * time.Hour, 12 * time.Hour}
	for i, want := range wantWaits {
		if err := w.ProcessOnce(ctx); err != nil {
			t.Fatalf("ProcessOnce() error = %v", err)
		}
		entry, due, ok := outbox.get("d1")
		if !ok {
			t.Fatalf("attempt %d: entry dropped early", i+2)
		}
		if entry.Attempts != i+2 {
			t.Errorf("Attempts = %d, want %d", entry.Attempts, i+2)
		}
		if got := due.Sub(now); got != want {
			t.Errorf("attempt %d: next wait = %v, want %v", entry.Attempts, got, want)
		}
		now = due
	}

	// The fifth retry exhausts the budget.
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce() error = %v", err)
	}
	if _, _, ok := outbox.get("d1"); ok {
		t.Error("exhausted entry should be removed")
	}
	if rec.Snapshot().WebhookDeliveries["exhausted"] != 1 {
		t.Errorf("exhausted not counted: %v", rec.Snapshot().WebhookDeliveries)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	w := NewWorker(newMemOutbox(), NewDeliverer("", "", nil, discardLogger()), discardLogger(), nil)
	w.SetPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if err := w.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}
}
