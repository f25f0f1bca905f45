package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"roomsync/domain"
	"roomsync/mocks"
	"roomsync/runtime"
	"roomsync/services"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestFeedWorker_Goes_Live_And_Dispatches(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	feed := mocks.NewMockChangeFeed(ctrl)
	sink := mocks.NewMockChangeSink(ctrl)
	engine := runtime.NewEngine(slog.Default(), mocks.NewMockSnapshotter(ctrl))
	defer engine.Stop()
	engine.RegisterSink(sink)
	changes := []domain.Change{{Target: domain.RoomTarget("r1"), Key: "msg:r1:1:1", Version: 3}}

	// Given a feed that goes live, reports one batch then breaks
	feed.EXPECT().
		Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, onLive func(), onChanges func([]domain.Change)) error {
			onLive()
			onChanges(changes)
			return fmt.Errorf("store closed")
		})
	sink.EXPECT().Consume(gomock.Any(), changes).Return(nil)

	// When the worker runs
	err := NewFeedWorker(slog.Default(), feed, engine).Run(context.Background())

	// Then the engine is live and the failure is handed to the supervisor
	req.Error(err)
	req.NoError(engine.WaitLive(context.Background()))
}

type fakePurger struct {
	mu      sync.Mutex
	pending map[string]bool
	fail    map[string]int
}

func (f *fakePurger) PendingPurges(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.pending {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakePurger) PurgeMessages(_ context.Context, chatID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] > 0 {
		f.fail[chatID]--
		return 0, fmt.Errorf("transient")
	}
	delete(f.pending, chatID)
	return 1, nil
}

func (f *fakePurger) left() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func TestJanitorWorker_Retries_Interrupted_Cleanups(t *testing.T) {
	req := require.New(t)
	purger := &fakePurger{
		pending: map[string]bool{"r1": true, "r2": true},
		fail:    map[string]int{"r2": 2},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = NewJanitorWorker(slog.Default(), purger, 10*time.Millisecond).Run(ctx) }()

	req.Eventually(func() bool { return purger.left() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReconciler) ReconcileAll(context.Context) ([]services.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []services.ReconcileResult{{ChatID: "r1", Repaired: f.calls == 1}}, nil
}

func (f *fakeReconciler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestReconcileWorker_Runs_Periodically(t *testing.T) {
	req := require.New(t)
	reconciler := &fakeReconciler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- NewReconcileWorker(slog.Default(), reconciler, 5*time.Millisecond).Run(ctx) }()
	req.Eventually(func() bool { return reconciler.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	req.NoError(<-done)
}
