package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"roomsync/domain"
	"roomsync/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func Test_List_Rooms_By_Activity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	quiet := f.room(t, "quiet")
	busy := f.room(t, "busy")
	newest := f.room(t, "newest")

	// Given the oldest room just received a message
	_, err := f.chats.Update(ctx, quiet.ID, "test", func(room *domain.ChatRoom) error {
		room.LastMessageAt = f.clock.Now()
		room.MessageCount++
		return nil
	})
	req.NoError(err)

	// When listing
	rooms, err := f.chats.List(ctx)
	req.NoError(err)

	// Then the active room is first, the others by creation time descending
	req.Equal([]string{quiet.ID, newest.ID, busy.ID}, []string{rooms[0].ID, rooms[1].ID, rooms[2].ID})
}

func Test_Update_Unknown_Room(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.chats.Update(context.Background(), "ghost", "test", func(*domain.ChatRoom) error { return nil })
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func Test_Delete_Room_And_Purge(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	room := f.room(t, "doomed")
	kept := f.room(t, "kept")
	var ids []string
	for i := range purgeBatchSize + 7 {
		m, _, err := f.messages.Append(ctx,
			domain.Message{ChatID: room.ID, AuthorID: "U1", Text: fmt.Sprintf("m%d", i)}, fmt.Sprintf("tok-%d", i))
		req.NoError(err)
		ids = append(ids, m.ID)
	}
	f.say(t, kept.ID, "U1", "still here")

	// When the room is deleted
	req.NoError(f.chats.Delete(ctx, room.ID, func(domain.ChatRoom) error { return nil }))

	// Then readers already see an empty room while the purge is pending
	req.Empty(collect(t, f, room.ID))
	pending, err := f.chats.PendingPurges(ctx)
	req.NoError(err)
	req.Equal([]string{room.ID}, pending)

	// When the purge runs
	purged, err := f.chats.PurgeMessages(ctx, room.ID)
	req.NoError(err)

	// Then messages, indexes and the marker are gone, other rooms untouched
	req.Equal(2*(purgeBatchSize+7), purged)
	pending, err = f.chats.PendingPurges(ctx)
	req.NoError(err)
	req.Empty(pending)
	_, err = f.messages.Get(ctx, ids[0])
	req.ErrorIs(err, errors.ErrNotFound)
	req.NoError(f.db.View(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{RoomPrefix(room.ID), idempotencyRoomPrefix(room.ID)} {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			it.Seek(prefix)
			req.False(it.ValidForPrefix(prefix))
			it.Close()
		}
		return nil
	}))
	req.Equal([]string{"still here"}, texts(collect(t, f, kept.ID)))
}

func Test_Delete_Room_Refused(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	room := f.room(t, "mine")

	err := f.chats.Delete(context.Background(), room.ID, func(domain.ChatRoom) error {
		return errors.Permission("only the creator")
	})

	req.ErrorIs(err, errors.ErrPermission)
	_, err = f.chats.Get(context.Background(), room.ID)
	req.NoError(err)
}

func Test_Recount_Repairs_Drift(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	room := f.room(t, "drifted")
	f.say(t, room.ID, "U1", "one")
	last := f.say(t, room.ID, "U1", "two")
	gone := f.say(t, room.ID, "U1", "three")
	_, _, err := f.messages.Tombstone(ctx, gone.ID, func(domain.Message) error { return nil })
	req.NoError(err)

	// Given aggregates that lost writes
	_, err = f.chats.Update(ctx, room.ID, "test", func(r *domain.ChatRoom) error {
		r.MessageCount = 7
		r.LastMessageAt = r.CreatedAt.Add(time.Hour)
		return nil
	})
	req.NoError(err)
	audits, err := f.chats.Audit(ctx)
	req.NoError(err)
	req.Len(audits, 1)
	req.True(audits[0].Drifted())
	req.EqualValues(2, audits[0].Count)

	// When recounting twice
	before, after, err := f.chats.Recount(ctx, room.ID)
	req.NoError(err)
	_, again, err := f.chats.Recount(ctx, room.ID)
	req.NoError(err)

	// Then the aggregate matches the log and the second pass is a no-op
	req.EqualValues(7, before.MessageCount)
	req.EqualValues(2, after.MessageCount)
	req.True(after.LastMessageAt.Equal(last.CreatedAt))
	req.Equal(after, again)
	audits, err = f.chats.Audit(ctx)
	req.NoError(err)
	req.False(audits[0].Drifted())
}
