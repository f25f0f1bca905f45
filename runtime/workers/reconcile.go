package workers

import (
	"context"
	"log/slog"
	"time"

	"roomsync/services"
)

type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]services.ReconcileResult, error)
}

// ReconcileWorker periodically recounts every room's aggregates, repairing
// drift left by partial failures.
type ReconcileWorker struct {
	log        *slog.Logger
	reconciler Reconciler
	interval   time.Duration
}

func NewReconcileWorker(log *slog.Logger, reconciler Reconciler, interval time.Duration) *ReconcileWorker {
	return &ReconcileWorker{log: log, reconciler: reconciler, interval: interval}
}

func (w *ReconcileWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping reconciliation")
			return nil
		case <-ticker.C:
			results, err := w.reconciler.ReconcileAll(ctx)
			if err != nil {
				w.log.Error("Reconciliation pass failed", "error", err)
				continue
			}
			repaired := 0
			for _, r := range results {
				if r.Repaired {
					repaired++
				}
			}
			w.log.Debug("Reconciliation pass done", "rooms", len(results), "repaired", repaired)
		}
	}
}
