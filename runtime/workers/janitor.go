package workers

import (
	"context"
	"log/slog"
	"time"
)

type Purger interface {
	PendingPurges(ctx context.Context) ([]string, error)
	PurgeMessages(ctx context.Context, chatID string) (int, error)
}

// JanitorWorker finishes the message cleanup of deleted rooms that was
// interrupted, e.g. by a crash right after the room was removed.
type JanitorWorker struct {
	log      *slog.Logger
	purger   Purger
	interval time.Duration
}

func NewJanitorWorker(log *slog.Logger, purger Purger, interval time.Duration) *JanitorWorker {
	return &JanitorWorker{log: log, purger: purger, interval: interval}
}

func (w *JanitorWorker) Run(ctx context.Context) error {
	// A first pass at startup catches cleanups a previous process left behind
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping janitor")
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *JanitorWorker) sweep(ctx context.Context) {
	pending, err := w.purger.PendingPurges(ctx)
	if err != nil {
		w.log.Error("Listing pending room cleanups failed", "error", err)
		return
	}
	for _, chatID := range pending {
		n, err := w.purger.PurgeMessages(ctx, chatID)
		if err != nil {
			w.log.Warn("Room cleanup failed, will retry", "chat_id", chatID, "error", err)
			continue
		}
		w.log.Info("Room cleanup finished", "chat_id", chatID, "purged", n)
	}
}
