package runtime

import (
	"testing"

	"roomsync/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(observerID string, target domain.Target) *Subscription {
	return &Subscription{observerID: observerID, target: target}
}

func TestRegistry_Subscribe_One_Room_One_Observer(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	observerID := uuid.NewString()
	target := domain.RoomTarget("room-1")
	sub := newTestSubscription(observerID, target)

	// Given nobody is watching
	req.Empty(registry.subscriptions)
	req.Empty(registry.targetMembers)

	// When an observer subscribes a room
	previous := registry.Subscribe(sub)

	// Then
	req.Nil(previous)
	req.Equal(1, registry.Len())
	req.Contains(registry.targetMembers[target], observerID)
	req.Equal([]*Subscription{sub}, registry.GetSubscriptionsForTarget(target))
}

func TestRegistry_Subscribe_Same_Pair_Replaces(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	target := domain.RoomTarget("room-1")
	first := newTestSubscription("alice", target)
	second := newTestSubscription("alice", target)

	// When the same observer subscribes the same room twice
	registry.Subscribe(first)
	previous := registry.Subscribe(second)

	// Then the first one is handed back and only the second is registered
	req.Same(first, previous)
	req.Equal(1, registry.Len())
	req.Equal([]*Subscription{second}, registry.GetSubscriptionsForTarget(target))

	// And the stale one cannot unregister its successor
	req.False(registry.Unsubscribe(first))
	req.Equal(1, registry.Len())
}

func TestRegistry_Subscribe_Multiple_Targets(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := domain.RoomTarget("room-1")

	// When one observer watches a room and the directory, another the room
	registry.Subscribe(newTestSubscription("alice", room))
	registry.Subscribe(newTestSubscription("alice", domain.DirectoryTarget()))
	registry.Subscribe(newTestSubscription("bob", room))

	// Then
	req.Equal(3, registry.Len())
	req.Len(registry.GetSubscriptionsForTarget(room), 2)
	req.Len(registry.GetSubscriptionsForTarget(domain.DirectoryTarget()), 1)
	req.Len(registry.All(), 3)
}

func TestRegistry_UnSubscribe_Last_Observer(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	target := domain.RoomTarget("room-1")
	sub := newTestSubscription(uuid.NewString(), target)

	// Given an observer watches a room
	registry.Subscribe(sub)

	// When it unsubscribes
	req.True(registry.Unsubscribe(sub))

	// Then nothing is left, the target entry included
	req.Empty(registry.subscriptions)
	req.Empty(registry.targetMembers)
	req.Nil(registry.GetSubscriptionsForTarget(target))
}
