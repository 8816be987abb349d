// Package dispatch runs fire-and-forget work outside the request lifecycle
// and drains it on shutdown.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthline/waitlist/internal/metrics"
)

// ErrClosed is returned by Go after Shutdown has started.
var ErrClosed = errors.New("dispatcher is shutting down")

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Dispatcher starts tasks on their own goroutines with a bounded timeout.
// Task contexts are detached from the caller, so a finished HTTP request
// does not cancel work it scheduled.
type Dispatcher struct {
	logger  *slog.Logger
	metrics metrics.Recorder

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher.
func New(logger *slog.Logger, recorder metrics.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:  logger.With("component", "dispatch"),
		metrics: recorder,
		base:    base,
		cancel:  cancel,
	}
}

// Go runs task in the background. name identifies the collaborator in logs
// and the upstream failure metric. A failing task is logged and swallowed.
func (d *Dispatcher) Go(name string, timeout time.Duration, task Task) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("task dropped, dispatcher closed", "task", name)
		return ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(d.base, timeout)
		defer cancel()

		if err := d.run(ctx, task); err != nil {
			d.metrics.IncUpstreamFailure(name)
			d.logger.Warn("background task failed",
				"task", name,
				"error", err,
			)
		}
	}()

	return nil
}

func (d *Dispatcher) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return task(ctx)
}

// Shutdown stops accepting tasks and waits for running ones. When ctx
// expires first, running tasks are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
