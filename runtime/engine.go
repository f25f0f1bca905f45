// Package runtime keeps observers synchronized with the store change feed.
// It owns subscriptions and their delivery, without containing business rules.
package runtime

import (
	"context"
	"log/slog"
	"sync"

	"roomsync/contract"
	"roomsync/domain"
	"roomsync/errors"
	"roomsync/observability"
)

type Engine struct {
	log         *slog.Logger
	snapshotter contract.Snapshotter
	registry    *Registry

	// mu orders feed dispatch against registration: a subscription is either
	// registered before a batch is enqueued, or snapshots after it.
	mu      sync.Mutex
	sinks   []contract.ChangeSink
	stopped bool

	live     chan struct{}
	liveOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(log *slog.Logger, snapshotter contract.Snapshotter) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		log:         log,
		snapshotter: snapshotter,
		registry:    NewRegistry(),
		live:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterSink adds a consumer of every feed change, whatever the target.
func (e *Engine) RegisterSink(sink contract.ChangeSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Subscribe materializes the (observerID, target) pair, closing the one it
// replaces first. It waits for the change feed to be live so that nothing
// committed after the snapshot can be missed.
func (e *Engine) Subscribe(ctx context.Context, observerID string, target domain.Target,
	observer contract.Observer) (*Subscription, error) {
	if err := e.WaitLive(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, errors.ErrEngineStopped
	}
	sub := newSubscription(e.ctx, e, observerID, target, observer)
	previous := e.registry.Subscribe(sub)
	e.mu.Unlock()

	if previous != nil {
		e.log.Debug("Replacing subscription", "observer_id", observerID, "target", target.String())
		previous.shutdown()
		<-previous.done
	}

	observability.ActiveSubscriptions.Inc()
	go sub.run()
	return sub, nil
}

// WaitLive blocks until the change feed has been established once.
func (e *Engine) WaitLive(ctx context.Context) error {
	select {
	case <-e.live:
		return nil
	case <-e.ctx.Done():
		return errors.ErrEngineStopped
	case <-ctx.Done():
		return errors.Transient(ctx.Err())
	}
}

// FeedLive is called by the feed each time it is (re)established, before any
// change it reports. Every subscription resyncs: whatever happened while the
// feed was down is covered by the fresh snapshot.
func (e *Engine) FeedLive() {
	e.liveOnce.Do(func() { close(e.live) })
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.registry.All()
	if len(subs) > 0 {
		e.log.Info("Change feed live, resyncing subscriptions", "count", len(subs))
	}
	for _, sub := range subs {
		sub.requestResync()
	}
}

// Resync makes every subscription of target deliver a fresh snapshot.
func (e *Engine) Resync(target domain.Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.registry.GetSubscriptionsForTarget(target) {
		sub.requestResync()
	}
}

// Dispatch fans a feed batch out, keeping feed order inside each target.
func (e *Engine) Dispatch(ctx context.Context, changes []domain.Change) {
	e.mu.Lock()
	sinks := e.sinks
	byTarget := make(map[domain.Target][]domain.Change)
	var order []domain.Target
	for _, c := range changes {
		if _, ok := byTarget[c.Target]; !ok {
			order = append(order, c.Target)
		}
		byTarget[c.Target] = append(byTarget[c.Target], c)
	}
	for _, target := range order {
		for _, sub := range e.registry.GetSubscriptionsForTarget(target) {
			sub.enqueue(byTarget[target])
		}
	}
	e.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Consume(ctx, changes); err != nil {
			e.log.Error("Change sink failed", "error", err)
		}
	}
}

func (e *Engine) unregister(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry.Unsubscribe(sub)
}

func (e *Engine) Subscriptions() int {
	return e.registry.Len()
}

// Stop closes every subscription and tells its observer the engine is gone.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	subs := e.registry.All()
	for _, sub := range subs {
		e.registry.Unsubscribe(sub)
		sub.shutdown()
	}
	e.mu.Unlock()

	e.cancel()
	for _, sub := range subs {
		<-sub.done
		sub.notifyClosed(errors.ErrEngineStopped)
	}
}
