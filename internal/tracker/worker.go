package tracker

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is used when a worker is given a non-positive interval.
const DefaultPollInterval = 30 * time.Second

// Worker reconciles submitted tasks on a fixed interval.
type Worker struct {
	tracker  *Tracker
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewWorker(tracker *Tracker, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		tracker:  tracker,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the poll loop in the background.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("task tracker worker starting", "interval", w.interval.String())
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("task tracker worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.tracker.Reconcile(ctx, nil); err != nil {
				w.logger.Error("task reconcile failed (will retry next interval)", "error", err)
			}
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
