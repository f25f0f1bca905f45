package services

import (
	"context"
	"log/slog"
	"time"

	"roomsync/domain"
	"roomsync/errors"
	"roomsync/observability"
	"roomsync/repositories"
)

// Aggregates keeps MessageCount and LastMessageAt of each room in line with
// its message log. Every update is one read-modify-write transaction on the
// room document: concurrent appends conflict at commit and are replayed, so no
// increment is lost.
type Aggregates struct {
	chats repositories.IChatRepository
	log   *slog.Logger
}

func NewAggregates(chats repositories.IChatRepository, log *slog.Logger) *Aggregates {
	return &Aggregates{chats: chats, log: log}
}

// ReconcileResult reports what a recount changed.
type ReconcileResult struct {
	ChatID      string
	CountBefore int64
	CountAfter  int64
	LastBefore  time.Time
	LastAfter   time.Time
	Repaired    bool
}

func (a *Aggregates) OnAppend(ctx context.Context, chatID string, createdAt time.Time) error {
	_, err := a.chats.Update(ctx, chatID, "on_append", func(room *domain.ChatRoom) error {
		room.MessageCount++
		if createdAt.After(room.LastMessageAt) {
			room.LastMessageAt = createdAt
		}
		return nil
	})
	return err
}

// OnDelete decrements the count, never below zero.
// LastMessageAt is left as is: it only moves forward.
func (a *Aggregates) OnDelete(ctx context.Context, chatID string) error {
	_, err := a.chats.Update(ctx, chatID, "on_delete", func(room *domain.ChatRoom) error {
		if room.MessageCount > 0 {
			room.MessageCount--
		}
		return nil
	})
	return err
}

// Reconcile recounts a room from its log and overwrites the aggregates.
// Running it again without new writes changes nothing.
func (a *Aggregates) Reconcile(ctx context.Context, chatID string) (ReconcileResult, error) {
	before, after, err := a.chats.Recount(ctx, chatID)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{
		ChatID:      chatID,
		CountBefore: before.MessageCount,
		CountAfter:  after.MessageCount,
		LastBefore:  before.LastMessageAt,
		LastAfter:   after.LastMessageAt,
		Repaired: before.MessageCount != after.MessageCount ||
			!before.LastMessageAt.Equal(after.LastMessageAt),
	}
	if result.Repaired {
		observability.AggregateDrift.Inc()
		a.log.Warn("Room aggregates repaired",
			"chat_id", chatID,
			"count_before", result.CountBefore,
			"count_after", result.CountAfter)
	}
	return result, nil
}

// ReconcileAll reconciles every room. Rooms deleted meanwhile are skipped.
func (a *Aggregates) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	rooms, err := a.chats.List(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ReconcileResult, 0, len(rooms))
	for _, room := range rooms {
		result, err := a.Reconcile(ctx, room.ID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			continue
		case err != nil:
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
