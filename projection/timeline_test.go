package projection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"roomsync/domain"
	"roomsync/errors"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func posted(seq int, author, text string) domain.Change {
	m := domain.Message{
		ID:        fmt.Sprintf("m%d", seq),
		ChatID:    "general",
		AuthorID:  author,
		Text:      text,
		CreatedAt: base.Add(time.Duration(seq) * time.Second),
	}
	return domain.Change{
		Target:  domain.RoomTarget("general"),
		Kind:    domain.Added,
		Key:     fmt.Sprintf("msg:general:%019d:%020d", m.CreatedAt.UnixNano(), seq),
		Message: &m,
	}
}

func authors(messages []domain.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.AuthorID)
	}
	return out
}

func TestTimeline_Snapshot_Then_Live(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("U1")
	ctx := context.Background()

	// Given a snapshot delivered out of order
	err := timeline.Deliver(ctx, domain.Batch{Initial: true, Changes: []domain.Change{
		posted(2, "Clara", "Hi Bob"),
		posted(1, "Alice", "Hello Bob"),
	}})
	req.NoError(err)

	// When a live message arrives
	req.NoError(timeline.Deliver(ctx, domain.Batch{Changes: []domain.Change{posted(3, "Bob", "Hey")}}))

	// Then the timeline is in log order
	req.Equal([]string{"Alice", "Clara", "Bob"}, authors(timeline.Messages()))
}

func TestTimeline_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("U1")
	ctx := context.Background()
	batch := domain.Batch{Changes: []domain.Change{posted(1, "Alice", "Hello"), posted(2, "Clara", "Hi")}}

	req.NoError(timeline.Deliver(ctx, batch))
	req.NoError(timeline.Deliver(ctx, batch))
	req.Equal(2, timeline.Len())

	// A replayed snapshot replaces the view instead of doubling it
	req.NoError(timeline.Deliver(ctx, domain.Batch{Initial: true, Changes: []domain.Change{posted(2, "Clara", "Hi")}}))
	req.Equal([]string{"Clara"}, authors(timeline.Messages()))
}

func TestTimeline_Modified_And_Removed(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("U1")
	ctx := context.Background()
	first, second := posted(1, "Alice", "Hello"), posted(2, "Clara", "Hi")
	req.NoError(timeline.Deliver(ctx, domain.Batch{Initial: true, Changes: []domain.Change{first, second}}))

	edited := posted(1, "Alice", "Hello everyone")
	edited.Kind = domain.Modified
	gone := domain.Change{Kind: domain.Removed, Key: second.Key}
	req.NoError(timeline.Deliver(ctx, domain.Batch{Changes: []domain.Change{edited, gone, gone}}))

	messages := timeline.Messages()
	req.Len(messages, 1)
	req.Equal("Hello everyone", messages[0].Text)

	timeline.Closed(errors.ErrEngineStopped)
	req.ErrorIs(timeline.Err(), errors.ErrEngineStopped)
}

func room(id string, last time.Time, count int64) domain.ChatRoom {
	return domain.ChatRoom{ID: id, Title: id, CreatedAt: base, LastMessageAt: last, MessageCount: count}
}

func roomChange(kind domain.ChangeKind, r domain.ChatRoom) domain.Change {
	return domain.Change{Target: domain.DirectoryTarget(), Kind: kind, Key: "chat:" + r.ID, Room: &r}
}

func TestRoomList(t *testing.T) {
	req := require.New(t)
	list := NewRoomList()
	ctx := context.Background()

	req.NoError(list.Deliver(ctx, domain.Batch{Initial: true, Changes: []domain.Change{
		roomChange(domain.Added, room("a", base.Add(time.Minute), 1)),
		roomChange(domain.Added, room("b", base.Add(2*time.Minute), 3)),
	}}))
	req.Equal("b", list.Rooms()[0].ID)

	// When "a" gets a new message and "b" is deleted
	req.NoError(list.Deliver(ctx, domain.Batch{Changes: []domain.Change{
		roomChange(domain.Modified, room("a", base.Add(3*time.Minute), 2)),
		roomChange(domain.Removed, domain.ChatRoom{ID: "b"}),
		roomChange(domain.Added, room("c", base, 0)),
	}}))

	rooms := list.Rooms()
	req.Equal([]string{"a", "c"}, []string{rooms[0].ID, rooms[1].ID})
	a, ok := list.Get("a")
	req.True(ok)
	req.EqualValues(2, a.MessageCount)
	_, ok = list.Get("b")
	req.False(ok)
}
