// Package projection builds local views from observed batches.
// Applying a batch is idempotent: the view is keyed by storage key, so a
// replayed snapshot or a duplicate live change leaves it unchanged.
// Does not emit events or interact with UI directly.
package projection

import (
	"context"
	"slices"
	"sync"

	"roomsync/domain"
)

// Timeline holds the visible messages of one room, in log order.
type Timeline struct {
	Owner string

	mu       sync.RWMutex
	byKey    map[string]domain.Message
	keys     []string // sorted, storage keys order messages
	closeErr error
}

func NewTimeline(owner string) *Timeline {
	return &Timeline{Owner: owner, byKey: make(map[string]domain.Message)}
}

func (t *Timeline) Deliver(_ context.Context, batch domain.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if batch.Initial {
		t.byKey = make(map[string]domain.Message, len(batch.Changes))
		t.keys = t.keys[:0]
	}
	for _, c := range batch.Changes {
		if c.Kind == domain.Removed || c.Message == nil {
			t.remove(c.Key)
			continue
		}
		t.upsert(c.Key, *c.Message)
	}
	return nil
}

func (t *Timeline) Closed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeErr = err
}

func (t *Timeline) upsert(key string, m domain.Message) {
	if _, ok := t.byKey[key]; !ok {
		i, _ := slices.BinarySearch(t.keys, key)
		t.keys = slices.Insert(t.keys, i, key)
	}
	t.byKey[key] = m
}

func (t *Timeline) remove(key string) {
	if _, ok := t.byKey[key]; !ok {
		return
	}
	delete(t.byKey, key)
	if i, found := slices.BinarySearch(t.keys, key); found {
		t.keys = slices.Delete(t.keys, i, i+1)
	}
}

func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.byKey[k])
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// Err is the error the subscription feeding the timeline died with, if any.
func (t *Timeline) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closeErr
}
