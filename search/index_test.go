package search_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"roomsync/domain"
	"roomsync/internal/testkit"
	"roomsync/search"
	"roomsync/services"

	"github.com/stretchr/testify/require"
)

func put(chatID, key, id, text string) domain.Change {
	return domain.Change{
		Target:  domain.RoomTarget(chatID),
		Kind:    domain.Added,
		Key:     key,
		Message: &domain.Message{ID: id, ChatID: chatID, AuthorID: "U1", Text: text, CreatedAt: time.Now()},
	}
}

func openIndex(t *testing.T) *search.Index {
	t.Helper()
	index, err := search.OpenIndex("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func TestIndex_Search_Is_Scoped_To_The_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := openIndex(t)

	// Given messages in two rooms and a directory change
	req.NoError(index.Consume(ctx, []domain.Change{
		put("general", "k1", "m1", "the deploy is done"),
		put("general", "k2", "m2", "lunch anyone"),
		put("random", "k3", "m3", "deploy friday"),
		{Target: domain.DirectoryTarget(), Kind: domain.Modified, Key: "chat:general", Room: &domain.ChatRoom{ID: "general"}},
	}))

	// When searching one room
	ids, err := index.Search(ctx, "general", "deploy", 10)

	// Then only its matches come back
	req.NoError(err)
	req.Equal([]string{"m1"}, ids)
}

func TestIndex_Removals(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := openIndex(t)
	req.NoError(index.Consume(ctx, []domain.Change{
		put("general", "k1", "m1", "release notes"),
		put("general", "k2", "m2", "release party"),
	}))

	tombstoned := put("general", "k1", "m1", "release notes")
	at := time.Now()
	tombstoned.Message.DeletedAt = &at
	tombstoned.Kind = domain.Removed
	purged := domain.Change{Target: domain.RoomTarget("general"), Kind: domain.Removed, Key: "k2",
		Message: &domain.Message{ChatID: "general"}}
	req.NoError(index.Consume(ctx, []domain.Change{tombstoned, purged}))

	ids, err := index.Search(ctx, "general", "release", 10)
	req.NoError(err)
	req.Empty(ids)
}

func TestIndex_Search_By_Language(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := openIndex(t)
	req.NoError(index.Consume(ctx, []domain.Change{
		put("general", "k1", "en", "The weather is really beautiful today and we should all go outside for a walk in the park"),
		put("general", "k2", "fr", "Il fait vraiment beau aujourd'hui et nous devrions tous aller nous promener dans le parc"),
	}))

	english, err := index.SearchLang(ctx, "general", "park parc", "en", 10)
	req.NoError(err)
	req.Equal([]string{"en"}, english)

	french, err := index.SearchLang(ctx, "general", "park parc", "fr", 10)
	req.NoError(err)
	req.Equal([]string{"fr"}, french)

	_, err = index.Search(ctx, "general", "park", 0)
	req.Error(err)
}

func TestMessageLog_Search_Follows_The_Feed(t *testing.T) {
	req := require.New(t)
	s := testkit.NewStack(t)
	ctx := context.Background()
	index := openIndex(t)
	s.Engine.RegisterSink(index)
	s.MessageLog.WithIndex(index)

	room, err := s.Directory.CreateRoom(ctx, services.CreateRoomCommand{Title: "General", CreatorID: "U1"})
	req.NoError(err)
	kept, err := s.MessageLog.Append(ctx, services.AppendCommand{ChatID: room.ID, AuthorID: "U1", Text: "quarterly report ready"})
	req.NoError(err)
	dropped, err := s.MessageLog.Append(ctx, services.AppendCommand{ChatID: room.ID, AuthorID: "U1", Text: "draft report, ignore"})
	req.NoError(err)

	// Then both are searchable once the feed delivered them
	testkit.Eventually(t, func() bool {
		hits, err := index.Search(ctx, room.ID, "report", 10)
		return err == nil && len(hits) == 2
	})

	// When one is deleted
	req.NoError(s.MessageLog.Delete(ctx, dropped.ID, "U1"))

	// Then it is no longer returned
	testkit.Eventually(t, func() bool {
		hits, err := s.MessageLog.Search(ctx, room.ID, "report", 10)
		return err == nil && len(hits) == 1 && hits[0].ID == kept.ID
	})
}
