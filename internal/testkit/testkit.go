// Package testkit wires a complete in-process stack on a temporary store for
// tests that span several packages.
package testkit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"roomsync/domain"
	"roomsync/repositories"
	"roomsync/runtime"
	"roomsync/runtime/workers"
	"roomsync/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func OpenDB(t testing.TB) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type Stack struct {
	DB         *badger.DB
	Clock      *repositories.Clock
	Chats      *repositories.ChatRepository
	Messages   *repositories.MessageRepository
	Feed       *repositories.FeedRepository
	Engine     *runtime.Engine
	Aggregates *services.Aggregates
	Directory  *services.Directory
	MessageLog *services.MessageLog
}

// NewStack opens a store, starts the change feed and waits for it to be live.
// Everything is torn down with the test.
func NewStack(t testing.TB) *Stack {
	t.Helper()
	log := slog.Default()
	db := OpenDB(t)
	clock, err := repositories.NewClock(db)
	require.NoError(t, err)

	s := &Stack{
		DB:       db,
		Clock:    clock,
		Chats:    repositories.NewChatRepository(db, log),
		Messages: repositories.NewMessageRepository(db, clock, log, nil),
		Feed:     repositories.NewFeedRepository(db, log),
	}
	s.Engine = runtime.NewEngine(log, s.Feed)
	s.Aggregates = services.NewAggregates(s.Chats, log)
	s.Directory = services.NewDirectory(s.Chats, clock, s.Engine, log)
	s.MessageLog = services.NewMessageLog(s.Messages, s.Aggregates, s.Engine, log)

	ctx, cancel := context.WithCancel(context.Background())
	sup := workers.NewSupervisor(log).WithRestartDelay(10 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		sup.Add(workers.NewFeedWorker(log, s.Feed, s.Engine)).Run(ctx)
		close(done)
	}()
	// Registered after OpenDB, so it runs before the store is closed
	t.Cleanup(func() {
		s.Engine.Stop()
		cancel()
		<-done
		_ = clock.Close()
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, s.Engine.WaitLive(waitCtx))
	return s
}

// Recorder is an observer keeping everything it is handed.
type Recorder struct {
	mu      sync.Mutex
	batches []domain.Batch
	closed  []error
}

func (r *Recorder) Deliver(_ context.Context, batch domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *Recorder) Closed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, err)
}

func (r *Recorder) Batches() []domain.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Batch(nil), r.batches...)
}

func (r *Recorder) ClosedWith() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.closed...)
}

// Live returns the changes of every non-initial batch, in delivery order.
func (r *Recorder) Live() []domain.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Change
	for _, b := range r.batches {
		if !b.Initial {
			out = append(out, b.Changes...)
		}
	}
	return out
}

func Eventually(t testing.TB, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}
