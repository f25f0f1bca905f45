package services

import (
	"context"
	"iter"
	"log/slog"

	"roomsync/contract"
	"roomsync/domain"
	"roomsync/errors"
	"roomsync/observability"
	"roomsync/repositories"
	"roomsync/runtime"
)

type IMessageLog interface {
	Append(ctx context.Context, cmd AppendCommand) (domain.Message, error)
	Stream(ctx context.Context, chatID string) iter.Seq2[domain.Message, error]
	Watch(ctx context.Context, observerID, chatID string, observer contract.Observer) (*runtime.Subscription, error)
	Delete(ctx context.Context, messageID, actorID string) error
	Get(ctx context.Context, messageID string) (domain.Message, error)
	History(ctx context.Context, chatID string, cursor *string) ([]domain.Message, *string, error)
	Search(ctx context.Context, chatID, query string, limit int) ([]domain.Message, error)
}

// MessageLog is the append-only log of every room.
// Aggregates are updated here, after each committed write, so callers never
// have to remember it.
type MessageLog struct {
	messages   repositories.IMessageRepository
	aggregates contract.AggregateMaintainer
	moderator  contract.Moderator
	index      contract.MessageIndex
	engine     *runtime.Engine
	log        *slog.Logger
}

func NewMessageLog(
	messages repositories.IMessageRepository,
	aggregates contract.AggregateMaintainer,
	engine *runtime.Engine,
	log *slog.Logger,
) *MessageLog {
	return &MessageLog{messages: messages, aggregates: aggregates, engine: engine, log: log}
}

// WithModerator censors message text before it is stored.
func (l *MessageLog) WithModerator(moderator contract.Moderator) *MessageLog {
	l.moderator = moderator
	return l
}

// WithIndex enables Search.
func (l *MessageLog) WithIndex(index contract.MessageIndex) *MessageLog {
	l.index = index
	return l
}

// Append stores a message with a server-assigned time and write sequence.
// Without an idempotency key a retry after an ambiguous failure may store a
// second copy.
func (l *MessageLog) Append(ctx context.Context, cmd AppendCommand) (domain.Message, error) {
	cmd = cmd.normalize()
	if err := check(cmd); err != nil {
		return domain.Message{}, err
	}
	text := cmd.Text
	if l.moderator != nil && text != "" {
		text = l.moderator.Censor(text)
	}
	draft := domain.Message{ChatID: cmd.ChatID, AuthorID: cmd.AuthorID, Text: text, File: cmd.File}

	msg, replayed, err := l.messages.Append(ctx, draft, cmd.IdempotencyKey)
	if err != nil {
		return domain.Message{}, err
	}
	if replayed {
		observability.AppendReplays.Inc()
		l.log.Debug("Append replayed", "chat_id", msg.ChatID, "message_id", msg.ID)
		return msg, nil
	}
	observability.MessagesAppended.Inc()

	err = l.aggregates.OnAppend(ctx, msg.ChatID, msg.CreatedAt)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		// The message is durable, the room counters drift until reconciled.
		l.log.Error("Aggregate update failed after append",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// Stream replays a room's visible messages, oldest first.
func (l *MessageLog) Stream(ctx context.Context, chatID string) iter.Seq2[domain.Message, error] {
	return l.messages.Stream(ctx, chatID)
}

// Watch is the live counterpart of Stream.
func (l *MessageLog) Watch(ctx context.Context, observerID, chatID string, observer contract.Observer) (*runtime.Subscription, error) {
	return l.engine.Subscribe(ctx, observerID, domain.RoomTarget(chatID), observer)
}

// Delete tombstones a message. Only its author may delete it; deleting it
// twice is a no-op.
func (l *MessageLog) Delete(ctx context.Context, messageID, actorID string) error {
	msg, changed, err := l.messages.Tombstone(ctx, messageID, func(m domain.Message) error {
		if m.AuthorID != actorID {
			return errors.Permission("message %s belongs to another author", m.ID)
		}
		return nil
	})
	if err != nil || !changed {
		return err
	}
	if err = l.aggregates.OnDelete(ctx, msg.ChatID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		l.log.Error("Aggregate update failed after delete",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
	return nil
}

// Get returns a visible message.
func (l *MessageLog) Get(ctx context.Context, messageID string) (domain.Message, error) {
	msg, err := l.messages.Get(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.Deleted() {
		return domain.Message{}, errors.NotFound("message %s", messageID)
	}
	return msg, nil
}

// History pages backwards from the newest message.
func (l *MessageLog) History(ctx context.Context, chatID string, cursor *string) ([]domain.Message, *string, error) {
	return l.messages.History(ctx, chatID, cursor)
}

// Search runs a full-text query over a room. Hits deleted since they were
// indexed are skipped.
func (l *MessageLog) Search(ctx context.Context, chatID, query string, limit int) ([]domain.Message, error) {
	if l.index == nil {
		return nil, errors.Validation("search is not enabled")
	}
	if query == "" || limit <= 0 {
		return nil, errors.Validation("query and a positive limit are required")
	}
	ids, err := l.index.Search(ctx, chatID, query, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := l.Get(ctx, id)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
