package runtime

import (
	"sync"

	"roomsync/domain"
)

type Set map[string]struct{}

type subscriptionKey struct {
	observerID string
	target     domain.Target
}

type Registry struct {
	mu            sync.RWMutex
	subscriptions map[subscriptionKey]*Subscription // map (observer, target) -> subscription
	targetMembers map[domain.Target]Set             // map target to observers
}

func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[subscriptionKey]*Subscription),
		targetMembers: make(map[domain.Target]Set),
	}
}

// GetSubscriptionsForTarget retrieves every live subscription of a target.
// It performs a two-step lookup:
// 1. Identifies observer IDs watching the target via targetMembers.
// 2. Resolves those IDs into subscriptions using the subscriptions map.
// Returns nil if nobody watches the target.
func (r *Registry) GetSubscriptionsForTarget(target domain.Target) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.targetMembers[target]
	if !ok {
		return nil
	}
	var active []*Subscription
	for observerID := range members {
		if sub, exists := r.subscriptions[subscriptionKey{observerID, target}]; exists {
			active = append(active, sub)
		}
	}
	return active
}

// All returns every registered subscription.
func (r *Registry) All() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		all = append(all, sub)
	}
	return all
}

// Subscribe registers a subscription under its (observer, target) pair.
// The subscription it replaces, if any, is returned: at most one exists per pair
// and the caller must close the previous one.
func (r *Registry) Subscribe(sub *Subscription) (previous *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subscriptionKey{sub.observerID, sub.target}
	previous = r.subscriptions[key]
	r.subscriptions[key] = sub

	if _, ok := r.targetMembers[sub.target]; !ok {
		r.targetMembers[sub.target] = make(Set)
	}
	r.targetMembers[sub.target][sub.observerID] = struct{}{}
	return previous
}

// Unsubscribe removes the subscription if it is still the registered one for
// its pair. It cleans up the target entry once nobody watches it anymore.
func (r *Registry) Unsubscribe(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subscriptionKey{sub.observerID, sub.target}
	if r.subscriptions[key] != sub {
		return false
	}
	delete(r.subscriptions, key)

	if members, ok := r.targetMembers[sub.target]; ok {
		delete(members, sub.observerID)

		// If no one is left on the target, remove the entry entirely
		if len(members) == 0 {
			delete(r.targetMembers, sub.target)
		}
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions)
}
