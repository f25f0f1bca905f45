package repositories

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"roomsync/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	db       *badger.DB
	clock    *Clock
	chats    *ChatRepository
	messages *MessageRepository
	feed     *FeedRepository
}

func newFixture(t *testing.T, limitMessages *int) fixture {
	t.Helper()
	db := openDB(t)
	clock, err := NewClock(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clock.Close() })
	return fixture{
		db:       db,
		clock:    clock,
		chats:    NewChatRepository(db, slog.Default()),
		messages: NewMessageRepository(db, clock, slog.Default(), limitMessages),
		feed:     NewFeedRepository(db, slog.Default()),
	}
}

func (f fixture) room(t *testing.T, title string) domain.ChatRoom {
	t.Helper()
	now := f.clock.Now()
	room := domain.ChatRoom{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Title:         title,
		CreatedAt:     now,
		CreatedBy:     "creator",
		LastMessageAt: now,
	}
	require.NoError(t, f.chats.Insert(context.Background(), room))
	return room
}

func (f fixture) say(t *testing.T, chatID, author, text string) domain.Message {
	t.Helper()
	m, _, err := f.messages.Append(context.Background(),
		domain.Message{ChatID: chatID, AuthorID: author, Text: text}, "")
	require.NoError(t, err)
	return m
}

func collect(t *testing.T, f fixture, chatID string) []domain.Message {
	t.Helper()
	var out []domain.Message
	for m, err := range f.messages.Stream(context.Background(), chatID) {
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func texts(messages []domain.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}
