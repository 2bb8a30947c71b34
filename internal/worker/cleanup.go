package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tournament-engine/internal/config"
)

// Sweeper is the matchmaking-side cancellation entry point.
type Sweeper interface {
	CleanupAbandoned(ctx context.Context, staleAfter time.Duration) (int, error)
}

// CleanupWorker periodically cancels abandoned waiting sessions and
// refunds their entry fees.
type CleanupWorker struct {
	sweeper Sweeper
	config  *config.CleanupConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(sweeper Sweeper, cfg *config.CleanupConfig, logger *slog.Logger) *CleanupWorker {
	return &CleanupWorker{
		sweeper: sweeper,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (w *CleanupWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("cleanup worker started",
		"interval", w.config.Interval,
		"stale_after", w.config.StaleAfter,
	)

	go w.run(ctx)
	return nil
}

// Stop stops the background cleanup process
func (w *CleanupWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("cleanup worker stopped")
	return nil
}

// run is the main worker loop
func (w *CleanupWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs a single cancellation cycle
func (w *CleanupWorker) sweep(ctx context.Context) {
	startTime := time.Now()

	cancelled, err := w.sweeper.CleanupAbandoned(ctx, w.config.StaleAfter)
	if err != nil {
		w.logger.Error("cleanup cycle failed", "error", err)
		return
	}

	if cancelled > 0 {
		w.logger.Info("cleanup cycle completed",
			"cancelled", cancelled,
			"duration", time.Since(startTime),
		)
	}
}

// IsRunning returns whether the worker is currently running
func (w *CleanupWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single cleanup cycle (useful for manual triggers)
func (w *CleanupWorker) RunOnce(ctx context.Context) {
	w.sweep(ctx)
}
