package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"roomsync/contract"
	"roomsync/domain"
	"roomsync/errors"
	"roomsync/observability"
)

type State int32

const (
	Initializing State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	default:
		return "closed"
	}
}

// ErrStopDelivery is returned by an observer to end its own subscription from
// inside a callback. The subscription closes without Observer.Closed being called.
var ErrStopDelivery = fmt.Errorf("stop delivery")

// Subscription is one materialized (observer, target) pair.
// A single goroutine owns delivery: it takes the snapshot, then drains the
// queue the engine fills from the change feed.
type Subscription struct {
	observerID string
	target     domain.Target
	observer   contract.Observer
	engine     *Engine
	log        *slog.Logger

	state      atomic.Int32
	closedOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	mu     sync.Mutex
	queue  [][]domain.Change
	resync bool
	wake   chan struct{}

	// owned by the delivery goroutine
	hwm   uint64
	known map[string]struct{}
}

func newSubscription(parent context.Context, engine *Engine, observerID string,
	target domain.Target, observer contract.Observer) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{
		observerID: observerID,
		target:     target,
		observer:   observer,
		engine:     engine,
		log:        engine.log.With("observer_id", observerID, "target", target.String()),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
}

func (s *Subscription) ObserverID() string {
	return s.observerID
}

func (s *Subscription) Target() domain.Target {
	return s.target
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Close unregisters the subscription and returns once its delivery goroutine
// has stopped: no callback runs after Close returns.
// It must not be called from inside one of its own callbacks, return
// ErrStopDelivery there instead.
func (s *Subscription) Close() {
	s.engine.unregister(s)
	s.shutdown()
	<-s.done
}

func (s *Subscription) shutdown() {
	s.state.Store(int32(Closed))
	s.cancel()
}

// enqueue hands a live batch to the delivery goroutine without blocking.
func (s *Subscription) enqueue(changes []domain.Change) {
	s.mu.Lock()
	s.queue = append(s.queue, changes)
	s.mu.Unlock()
	s.signal()
}

// requestResync drops what is queued: a new snapshot supersedes it.
func (s *Subscription) requestResync() {
	s.mu.Lock()
	s.queue = nil
	s.resync = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (changes []domain.Change, resync bool, ok bool) {
	for {
		s.mu.Lock()
		switch {
		case s.resync:
			s.resync = false
			s.mu.Unlock()
			return nil, true, true
		case len(s.queue) > 0:
			changes = s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return changes, false, true
		}
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			return nil, false, false
		case <-s.wake:
		}
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	defer observability.ActiveSubscriptions.Dec()

	if !s.initialize() {
		return
	}
	for {
		changes, resync, ok := s.next()
		if !ok {
			return
		}
		if resync {
			if !s.initialize() {
				return
			}
			continue
		}
		if !s.deliverLive(changes) {
			return
		}
	}
}

// initialize (re)enters Initializing, reads a snapshot and delivers it as the
// initial batch. The snapshot read version becomes the high-water mark.
func (s *Subscription) initialize() bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.state.Store(int32(Initializing))

	changes, version, err := s.engine.snapshotter.Snapshot(s.ctx, s.target)
	if err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		s.fail(errors.Transient(fmt.Errorf("snapshot %s: %w", s.target, err)))
		return false
	}

	s.hwm = version
	s.known = make(map[string]struct{}, len(changes))
	for _, c := range changes {
		s.known[c.Key] = struct{}{}
	}
	if !s.state.CompareAndSwap(int32(Initializing), int32(Active)) {
		return false
	}
	return s.deliver(domain.Batch{Target: s.target, Initial: true, Changes: changes})
}

// deliverLive drops what the observer already reflects and classifies the rest.
// Every change of a commit carries the same version, so the filter uses the
// mark as it was when the batch started.
func (s *Subscription) deliverLive(changes []domain.Change) bool {
	mark := s.hwm
	out := make([]domain.Change, 0, len(changes))
	for _, c := range changes {
		if c.Version <= mark {
			observability.DuplicatesDropped.Inc()
			continue
		}
		s.hwm = max(s.hwm, c.Version)

		_, seen := s.known[c.Key]
		switch c.Kind {
		case domain.Removed:
			if !seen {
				continue
			}
			delete(s.known, c.Key)
		default:
			if seen {
				c.Kind = domain.Modified
			} else {
				c.Kind = domain.Added
				s.known[c.Key] = struct{}{}
			}
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return true
	}
	return s.deliver(domain.Batch{Target: s.target, Changes: out})
}

func (s *Subscription) deliver(batch domain.Batch) bool {
	if s.ctx.Err() != nil {
		return false
	}
	err := s.observer.Deliver(s.ctx, batch)
	switch {
	case err == nil:
		kind := "live"
		if batch.Initial {
			kind = "initial"
		}
		observability.DeliveredBatches.WithLabelValues(kind).Inc()
		return true
	case stderrors.Is(err, ErrStopDelivery):
		s.engine.unregister(s)
		s.shutdown()
		return false
	case s.ctx.Err() != nil:
		return false
	}
	s.fail(err)
	return false
}

// fail closes the subscription on a terminal error and tells the observer.
func (s *Subscription) fail(err error) {
	s.log.Warn("Subscription closed on error", "error", err)
	s.engine.unregister(s)
	s.shutdown()
	s.notifyClosed(err)
}

func (s *Subscription) notifyClosed(err error) {
	s.closedOnce.Do(func() { s.observer.Closed(err) })
}
