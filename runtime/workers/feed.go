package workers

import (
	"context"
	"log/slog"

	"roomsync/contract"
	"roomsync/domain"
	"roomsync/observability"
	"roomsync/runtime"
)

// FeedWorker pumps the store change feed into the engine.
// When the feed breaks, Run returns the error and the supervisor restarts
// it; the engine resyncs every subscription once the feed is live again.
type FeedWorker struct {
	log     *slog.Logger
	feed    contract.ChangeFeed
	engine  *runtime.Engine
	started bool
}

func NewFeedWorker(log *slog.Logger, feed contract.ChangeFeed, engine *runtime.Engine) *FeedWorker {
	return &FeedWorker{log: log, feed: feed, engine: engine}
}

func (w *FeedWorker) Run(ctx context.Context) error {
	if w.started {
		observability.FeedRestarts.Inc()
	}
	w.started = true

	err := w.feed.Subscribe(ctx,
		func() {
			w.log.Info("Change feed live")
			w.engine.FeedLive()
		},
		func(changes []domain.Change) {
			w.engine.Dispatch(ctx, changes)
		},
	)
	if err != nil {
		w.log.Warn("Change feed lost", "error", err)
	}
	return err
}
