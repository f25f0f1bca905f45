package repositories

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"

	"roomsync/domain"
	"roomsync/errors"

	"github.com/dgraph-io/badger/v4"
)

type IMessageRepository interface {
	Append(ctx context.Context, draft domain.Message, token string) (domain.Message, bool, error)
	Tombstone(ctx context.Context, messageID string, authorize func(m domain.Message) error) (domain.Message, bool, error)
	Get(ctx context.Context, messageID string) (domain.Message, error)
	Stream(ctx context.Context, chatID string) iter.Seq2[domain.Message, error]
	History(ctx context.Context, chatID string, cursor *string) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db            *badger.DB
	clock         *Clock
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, clock *Clock, log *slog.Logger, limitMessages *int) *MessageRepository {
	return &MessageRepository{db: db, clock: clock, log: log, limitMessages: limitMessages}
}

// Append persists a message under its room.
// The key is formatted as "msg:{chat_id}:{unix_nano_19}:{seq_20}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Keep write order for messages stamped in the same nanosecond, the
//     sequence is handed out by the store and only grows.
//
// The room document is read in the same transaction, so an append racing a
// room deletion either lands before it or fails with NotFound.
// A non-empty token that was already used by the same author in the
// same room returns the stored message and replayed=true.
func (m *MessageRepository) Append(ctx context.Context, draft domain.Message, token string) (domain.Message, bool, error) {
	var (
		stored   domain.Message
		replayed bool
	)
	err := update(ctx, m.db, "append", func(txn *badger.Txn) error {
		replayed = false
		if _, err := txn.Get(ChatKey(draft.ChatID)); err != nil {
			return errors.FromStore(err, "room "+draft.ChatID)
		}

		var idemKey []byte
		if token != "" {
			idemKey = idempotencyKey(draft.ChatID, draft.AuthorID, token)
			previous, err := getByIndex(txn, idemKey)
			switch {
			case err == nil:
				stored, replayed = previous, true
				return nil
			case !stderrors.Is(err, badger.ErrKeyNotFound):
				return err
			}
		}

		stamp, err := m.clock.Stamp()
		if err != nil {
			return err
		}
		msg := draft
		msg.ID, msg.CreatedAt, msg.Seq = stamp.ID, stamp.At, stamp.Seq
		msg.DeletedAt = nil

		key := MessageKey(msg.ChatID, msg.CreatedAt, msg.Seq)
		if err = txn.Set(key, MarshalMessage(msg)); err != nil {
			return err
		}
		if err = txn.Set(messageIDKey(msg.ID), key); err != nil {
			return err
		}
		if idemKey != nil {
			if err = txn.Set(idemKey, key); err != nil {
				return err
			}
		}
		stored = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return stored, replayed, nil
}

// Tombstone marks a message deleted. changed is false when it already was.
func (m *MessageRepository) Tombstone(ctx context.Context, messageID string,
	authorize func(m domain.Message) error) (domain.Message, bool, error) {
	var (
		msg     domain.Message
		changed bool
	)
	err := update(ctx, m.db, "delete_message", func(txn *badger.Txn) error {
		changed = false
		item, err := txn.Get(messageIDKey(messageID))
		if err != nil {
			return errors.FromStore(err, "message "+messageID)
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		msg, err = getMessage(txn, key)
		if err != nil {
			return errors.FromStore(err, "message "+messageID)
		}
		if err = authorize(msg); err != nil {
			return err
		}
		if msg.Deleted() {
			return nil
		}
		at := m.clock.Now()
		msg.DeletedAt = &at
		changed = true
		return txn.Set(key, MarshalMessage(msg))
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, changed, nil
}

// Get returns a message by id, tombstoned messages included.
func (m *MessageRepository) Get(_ context.Context, messageID string) (domain.Message, error) {
	var msg domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		msg, err = getByIndex(txn, messageIDKey(messageID))
		return err
	})
	if err != nil {
		return domain.Message{}, errors.FromStore(err, "message "+messageID)
	}
	return msg, nil
}

// Stream replays the live messages of a room from the oldest one.
// Each iteration opens its own read transaction, so ranging again restarts
// from the beginning. A room that does not exist (or was deleted) yields nothing.
func (m *MessageRepository) Stream(ctx context.Context, chatID string) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		txn := m.db.NewTransaction(false)
		defer txn.Discard()

		if _, err := txn.Get(ChatKey(chatID)); err != nil {
			if !stderrors.Is(err, badger.ErrKeyNotFound) {
				yield(domain.Message{}, errors.Transient(err))
			}
			return
		}
		stopped := false
		err := scanRoom(txn, chatID, func(_ []byte, msg domain.Message) bool {
			if ctx.Err() != nil {
				return false
			}
			if msg.Deleted() {
				return true
			}
			if !yield(msg, nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			yield(domain.Message{}, errors.Transient(err))
		}
	}
}

// History pages backwards through a room, newest first.
// The returned cursor is the key suffix of the last message read; passing it
// back resumes right after it. It stops once limitMessages is reached.
func (m *MessageRepository) History(_ context.Context, chatID string, cursor *string) ([]domain.Message, *string, error) {
	var messages []domain.Message
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := RoomPrefix(chatID)
		prefixLen := len(prefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past the newest possible key, then walk back
			seekKey = append(prefix, 0xFF)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[prefixLen:]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				msg, err := UnmarshalMessage(value)
				if err != nil {
					return err
				}
				if !msg.Deleted() {
					messages = append(messages, msg)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.Transient(err)
	}
	return messages, &lastKey, nil
}

func getMessage(txn *badger.Txn, key []byte) (domain.Message, error) {
	item, err := txn.Get(key)
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err = item.Value(func(val []byte) error {
		msg, err = UnmarshalMessage(val)
		return err
	})
	return msg, err
}

// getByIndex follows an index entry (id or idempotency token) to its message.
func getByIndex(txn *badger.Txn, indexKey []byte) (domain.Message, error) {
	item, err := txn.Get(indexKey)
	if err != nil {
		return domain.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, err
	}
	return getMessage(txn, key)
}
