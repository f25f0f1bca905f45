package repositories

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"time"

	"roomsync/domain"
	"roomsync/errors"

	"github.com/dgraph-io/badger/v4"
)

const purgeBatchSize = 500

type IChatRepository interface {
	Insert(ctx context.Context, room domain.ChatRoom) error
	Get(ctx context.Context, chatID string) (domain.ChatRoom, error)
	List(ctx context.Context) ([]domain.ChatRoom, error)
	Update(ctx context.Context, chatID, operation string, mutate func(room *domain.ChatRoom) error) (domain.ChatRoom, error)
	Delete(ctx context.Context, chatID string, authorize func(room domain.ChatRoom) error) error
	Recount(ctx context.Context, chatID string) (before, after domain.ChatRoom, err error)
	PurgeMessages(ctx context.Context, chatID string) (int, error)
	PendingPurges(ctx context.Context) ([]string, error)
	Audit(ctx context.Context) ([]RoomAudit, error)
}

// RoomAudit compares the stored aggregates of a room with its live messages.
type RoomAudit struct {
	Room          domain.ChatRoom
	Count         int64
	LastMessageAt time.Time
}

func (a RoomAudit) Drifted() bool {
	return a.Count != a.Room.MessageCount || !a.LastMessageAt.Equal(a.Room.LastMessageAt)
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) *ChatRepository {
	return &ChatRepository{db: db, log: log}
}

// Insert creates the room document. Ids are generated by the caller and
// never reused, an existing key is reported as a validation error.
func (c *ChatRepository) Insert(ctx context.Context, room domain.ChatRoom) error {
	return update(ctx, c.db, "create_room", func(txn *badger.Txn) error {
		key := ChatKey(room.ID)
		if _, err := txn.Get(key); err == nil {
			return errors.Validation("room %s already exists", room.ID)
		} else if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, MarshalRoom(room))
	})
}

func (c *ChatRepository) Get(_ context.Context, chatID string) (domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = getRoom(txn, chatID)
		return err
	})
	if err != nil {
		return domain.ChatRoom{}, errors.FromStore(err, "room "+chatID)
	}
	return room, nil
}

// List returns every room, most recently active first.
func (c *ChatRepository) List(_ context.Context) ([]domain.ChatRoom, error) {
	var rooms []domain.ChatRoom
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		rooms, err = listRooms(txn)
		return err
	})
	if err != nil {
		return nil, errors.Transient(err)
	}
	return rooms, nil
}

// Update applies mutate to the current room document inside one transaction.
// mutate may run several times when concurrent writers conflict; it must only
// depend on the room it is given. Returning an error aborts without writing.
func (c *ChatRepository) Update(ctx context.Context, chatID, operation string,
	mutate func(room *domain.ChatRoom) error) (domain.ChatRoom, error) {
	var updated domain.ChatRoom
	err := update(ctx, c.db, operation, func(txn *badger.Txn) error {
		room, err := getRoom(txn, chatID)
		if err != nil {
			return errors.FromStore(err, "room "+chatID)
		}
		if err = mutate(&room); err != nil {
			return err
		}
		updated = room
		return txn.Set(ChatKey(chatID), MarshalRoom(room))
	})
	return updated, err
}

// Delete removes the room document and leaves a purge marker in the same
// transaction, so an interrupted message cleanup is always resumed.
func (c *ChatRepository) Delete(ctx context.Context, chatID string, authorize func(room domain.ChatRoom) error) error {
	return update(ctx, c.db, "delete_room", func(txn *badger.Txn) error {
		room, err := getRoom(txn, chatID)
		if err != nil {
			return errors.FromStore(err, "room "+chatID)
		}
		if err = authorize(room); err != nil {
			return err
		}
		if err = txn.Delete(ChatKey(chatID)); err != nil {
			return err
		}
		return txn.Set(gcKey(chatID), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
}

// Recount rebuilds the aggregates of a room from its live messages.
// The scan and the overwrite share one transaction: an append committed in
// between makes the commit conflict and the recount starts over.
func (c *ChatRepository) Recount(ctx context.Context, chatID string) (before, after domain.ChatRoom, err error) {
	err = update(ctx, c.db, "reconcile", func(txn *badger.Txn) error {
		room, err := getRoom(txn, chatID)
		if err != nil {
			return errors.FromStore(err, "room "+chatID)
		}
		before = room

		count, last, err := countRoom(txn, room)
		if err != nil {
			return err
		}

		room.MessageCount = count
		room.LastMessageAt = last
		after = room
		if after.MessageCount == before.MessageCount && after.LastMessageAt.Equal(before.LastMessageAt) {
			return nil
		}
		return txn.Set(ChatKey(chatID), MarshalRoom(room))
	})
	return before, after, err
}

// PurgeMessages deletes every message of a deleted room, with their id and
// idempotency indexes, in bounded batches. The purge marker goes last.
func (c *ChatRepository) PurgeMessages(ctx context.Context, chatID string) (int, error) {
	purged := 0
	for _, prefix := range [][]byte{RoomPrefix(chatID), idempotencyRoomPrefix(chatID)} {
		for {
			n, err := c.purgeBatch(ctx, prefix)
			if err != nil {
				return purged, err
			}
			purged += n
			if n < purgeBatchSize {
				break
			}
		}
	}
	err := update(ctx, c.db, "purge_room", func(txn *badger.Txn) error {
		return txn.Delete(gcKey(chatID))
	})
	if err != nil {
		return purged, err
	}
	c.log.Debug("Room messages purged", "chat_id", chatID, "count", purged)
	return purged, nil
}

func (c *ChatRepository) purgeBatch(ctx context.Context, prefix []byte) (int, error) {
	scanned := 0
	err := update(ctx, c.db, "purge_room", func(txn *badger.Txn) error {
		scanned = 0
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix) && scanned < purgeBatchSize; it.Next() {
			item := it.Item()
			scanned++
			keys = append(keys, item.KeyCopy(nil))
			if !bytes.HasPrefix(item.Key(), []byte(MessagePrefix)) {
				continue
			}
			err := item.Value(func(val []byte) error {
				m, err := UnmarshalMessage(val)
				if err != nil {
					return err
				}
				keys = append(keys, messageIDKey(m.ID))
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return scanned, err
}

// PendingPurges lists deleted rooms whose messages are not fully purged yet.
func (c *ChatRepository) PendingPurges(_ context.Context) ([]string, error) {
	var ids []string
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := []byte(gcPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return ids, errors.Transient(err)
}

// Audit recounts every room in one read transaction without repairing anything.
func (c *ChatRepository) Audit(_ context.Context) ([]RoomAudit, error) {
	var audits []RoomAudit
	err := c.db.View(func(txn *badger.Txn) error {
		rooms, err := listRooms(txn)
		if err != nil {
			return err
		}
		for _, room := range rooms {
			count, last, err := countRoom(txn, room)
			if err != nil {
				return err
			}
			audits = append(audits, RoomAudit{Room: room, Count: count, LastMessageAt: last})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Transient(err)
	}
	return audits, nil
}

// countRoom counts the live messages of a room and finds the newest one.
// An empty room is considered last active when it was created.
func countRoom(txn *badger.Txn, room domain.ChatRoom) (int64, time.Time, error) {
	var count int64
	last := room.CreatedAt
	err := scanRoom(txn, room.ID, func(_ []byte, m domain.Message) bool {
		if m.Deleted() {
			return true
		}
		count++
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
		return true
	})
	return count, last, err
}

func getRoom(txn *badger.Txn, chatID string) (domain.ChatRoom, error) {
	item, err := txn.Get(ChatKey(chatID))
	if err != nil {
		return domain.ChatRoom{}, err
	}
	var room domain.ChatRoom
	err = item.Value(func(val []byte) error {
		room, err = UnmarshalRoom(val)
		return err
	})
	return room, err
}

func listRooms(txn *badger.Txn) ([]domain.ChatRoom, error) {
	var rooms []domain.ChatRoom
	prefix := []byte(ChatPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			room, err := UnmarshalRoom(val)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(rooms, func(a, b domain.ChatRoom) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	return rooms, nil
}

// scanRoom iterates a room's messages in log order until fn returns false.
func scanRoom(txn *badger.Txn, chatID string, fn func(key []byte, m domain.Message) bool) error {
	prefix := RoomPrefix(chatID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var m domain.Message
		err := item.Value(func(val []byte) error {
			var err error
			m, err = UnmarshalMessage(val)
			return err
		})
		if err != nil {
			return err
		}
		if !fn(item.KeyCopy(nil), m) {
			return nil
		}
	}
	return nil
}
