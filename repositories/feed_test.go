package repositories

import (
	"context"
	"sync"
	"testing"

	"roomsync/domain"

	"github.com/dgraph-io/badger/v4/pb"
	"github.com/stretchr/testify/require"
)

type feedRecorder struct {
	mu      sync.Mutex
	live    bool
	changes []domain.Change
}

func (r *feedRecorder) onLive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = true
}

func (r *feedRecorder) onChanges(changes []domain.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
}

func (r *feedRecorder) isLive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

func (r *feedRecorder) snapshot() []domain.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Change(nil), r.changes...)
}

func Test_Feed_Reports_Changes_After_Live(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	rec := &feedRecorder{}
	done := make(chan error, 1)
	go func() { done <- f.feed.Subscribe(ctx, rec.onLive, rec.onChanges) }()
	waitFor(t, rec.isLive)

	// When a room is created, written to and a message tombstoned
	room := f.room(t, "fed")
	m := f.say(t, room.ID, "U1", "hello")
	_, _, err := f.messages.Tombstone(ctx, m.ID, func(domain.Message) error { return nil })
	req.NoError(err)

	// Then the feed reports them in commit order with growing versions
	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })
	changes := rec.snapshot()
	req.Equal(domain.DirectoryTarget(), changes[0].Target)
	req.Equal(room.ID, changes[0].Room.ID)
	req.Equal(domain.RoomTarget(room.ID), changes[1].Target)
	req.Equal(domain.Added, changes[1].Kind)
	req.Equal("hello", changes[1].Message.Text)
	req.Equal(domain.Removed, changes[2].Kind)
	req.Equal(changes[1].Key, changes[2].Key)
	req.Less(changes[0].Version, changes[1].Version)
	req.Less(changes[1].Version, changes[2].Version)

	// And cancelling is a clean stop
	cancel()
	req.NoError(<-done)
}

func Test_Snapshot_Covers_Commits_Up_To_Its_Version(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	room := f.room(t, "snap")
	f.say(t, room.ID, "U1", "one")
	gone := f.say(t, room.ID, "U1", "two")
	f.say(t, room.ID, "U1", "three")
	_, _, err := f.messages.Tombstone(ctx, gone.ID, func(domain.Message) error { return nil })
	req.NoError(err)

	changes, version, err := f.feed.Snapshot(ctx, domain.RoomTarget(room.ID))
	req.NoError(err)

	req.Len(changes, 2)
	req.Equal("one", changes[0].Message.Text)
	req.Equal("three", changes[1].Message.Text)
	req.Positive(version)

	// A later commit is above the snapshot version
	rec := &feedRecorder{}
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = f.feed.Subscribe(feedCtx, rec.onLive, rec.onChanges) }()
	waitFor(t, rec.isLive)
	f.say(t, room.ID, "U1", "four")
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	req.Greater(rec.snapshot()[0].Version, version)
}

func Test_Snapshot_Of_Missing_Room_Is_Empty(t *testing.T) {
	f := newFixture(t, nil)
	changes, _, err := f.feed.Snapshot(context.Background(), domain.RoomTarget("ghost"))
	require.NoError(t, err)
	require.Empty(t, changes)
}

func Test_Decode_Hard_Deletes(t *testing.T) {
	req := require.New(t)
	key := MessageKey("room", fixedTime, 3)

	msg, ok := DecodeChange(&pb.KV{Key: key, Version: 9})
	req.True(ok)
	req.Equal(domain.Removed, msg.Kind)
	req.Equal(domain.RoomTarget("room"), msg.Target)

	room, ok := DecodeChange(&pb.KV{Key: ChatKey("room"), Version: 10})
	req.True(ok)
	req.Equal(domain.Removed, room.Kind)
	req.Equal("room", room.Room.ID)

	_, ok = DecodeChange(&pb.KV{Key: []byte("mid:x"), Value: []byte("y")})
	req.False(ok)
}
