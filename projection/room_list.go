package projection

import (
	"context"
	"slices"
	"sync"

	"roomsync/domain"
)

// RoomList holds the room directory, most recently active first.
type RoomList struct {
	mu       sync.RWMutex
	rooms    map[string]domain.ChatRoom
	closeErr error
}

func NewRoomList() *RoomList {
	return &RoomList{rooms: make(map[string]domain.ChatRoom)}
}

func (l *RoomList) Deliver(_ context.Context, batch domain.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if batch.Initial {
		l.rooms = make(map[string]domain.ChatRoom, len(batch.Changes))
	}
	for _, c := range batch.Changes {
		if c.Room == nil {
			continue
		}
		if c.Kind == domain.Removed {
			delete(l.rooms, c.Room.ID)
			continue
		}
		l.rooms[c.Room.ID] = *c.Room
	}
	return nil
}

func (l *RoomList) Closed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeErr = err
}

func (l *RoomList) Rooms() []domain.ChatRoom {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ChatRoom, 0, len(l.rooms))
	for _, r := range l.rooms {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.ChatRoom) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	return out
}

func (l *RoomList) Get(chatID string) (domain.ChatRoom, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rooms[chatID]
	return r, ok
}

func (l *RoomList) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closeErr
}
