package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthline/waitlist/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_ShutdownDrainsTasks(t *testing.T) {
	t.Parallel()

	d := New(discardLogger(), nil)
	var done atomic.Int32
	for i := 0; i < 10; i++ {
		if err := d.Go("test", time.Second, func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			done.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if done.Load() != 10 {
		t.Errorf("completed = %d, want 10", done.Load())
	}
}

func TestDispatcher_RejectsAfterShutdown(t *testing.T) {
	t.Parallel()

	d := New(discardLogger(), nil)
	_ = d.Shutdown(context.Background())

	err := d.Go("late", time.Second, func(context.Context) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Go() error = %v, want ErrClosed", err)
	}
}

func TestDispatcher_TaskTimeout(t *testing.T) {
	t.Parallel()

	d := New(discardLogger(), nil)
	errCh := make(chan error, 1)
	_ = d.Go("slow", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("task ctx error = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was not cancelled by its timeout")
	}
	_ = d.Shutdown(context.Background())
}

func TestDispatcher_ShutdownDeadlineCancelsTasks(t *testing.T) {
	t.Parallel()

	d := New(discardLogger(), nil)
	_ = d.Go("stuck", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
}

func TestDispatcher_FailuresAreCounted(t *testing.T) {
	t.Parallel()

	rec := metrics.NewInMemory()
	d := New(discardLogger(), rec)

	_ = d.Go("crm", time.Second, func(context.Context) error { return errors.New("503") })
	_ = d.Go("email", time.Second, func(context.Context) error { panic("boom") })
	_ = d.Go("webhook", time.Second, func(context.Context) error { return nil })
	_ = d.Shutdown(context.Background())

	snap := rec.Snapshot()
	if snap.UpstreamFailures["crm"] != 1 || snap.UpstreamFailures["email"] != 1 {
		t.Errorf("UpstreamFailures = %v, want crm and email counted once", snap.UpstreamFailures)
	}
	if snap.UpstreamFailures["webhook"] != 0 {
		t.Errorf("successful task counted as failure")
	}
}
