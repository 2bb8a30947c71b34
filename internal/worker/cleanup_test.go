package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tournament-engine/internal/config"
)

type fakeSweeper struct {
	mu        sync.Mutex
	calls     int
	lastStale time.Duration
	err       error
}

func (f *fakeSweeper) CleanupAbandoned(ctx context.Context, staleAfter time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastStale = staleAfter
	return 1, f.err
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testWorker(sweeper *fakeSweeper, interval time.Duration) *CleanupWorker {
	cfg := &config.CleanupConfig{
		Interval:   interval,
		StaleAfter: 30 * time.Minute,
		Enabled:    true,
	}
	return NewCleanupWorker(sweeper, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunOnce(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := testWorker(sweeper, time.Minute)

	w.RunOnce(context.Background())

	if sweeper.callCount() != 1 {
		t.Errorf("calls = %d, want 1", sweeper.calls)
	}
	if sweeper.lastStale != 30*time.Minute {
		t.Errorf("stale after = %v, want 30m", sweeper.lastStale)
	}
}

func TestRunOnce_SweepErrorIsNonFatal(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	w := testWorker(sweeper, time.Minute)

	w.RunOnce(context.Background())

	if sweeper.callCount() != 1 {
		t.Errorf("calls = %d, want 1", sweeper.calls)
	}
}

func TestStartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := testWorker(sweeper, 10*time.Millisecond)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	// Second start is a no-op
	if err := w.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for sweeper.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker never swept")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
}
