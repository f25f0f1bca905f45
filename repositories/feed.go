package repositories

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"roomsync/domain"
	"roomsync/errors"
	"roomsync/observability"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const pingInterval = 20 * time.Millisecond

// FeedRepository exposes the store change feed and consistent snapshots of
// the documents it reports on.
type FeedRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewFeedRepository(db *badger.DB, log *slog.Logger) *FeedRepository {
	return &FeedRepository{db: db, log: log}
}

// Snapshot reads every current document of the target in one read transaction.
// Rooms come most recently active first, messages in log order, tombstones
// left out. The returned version is the transaction read version: every
// commit at or below it is reflected in the snapshot.
func (f *FeedRepository) Snapshot(ctx context.Context, target domain.Target) ([]domain.Change, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.Transient(err)
	}
	start := time.Now()
	defer func() { observability.SnapshotDuration.Observe(time.Since(start).Seconds()) }()

	txn := f.db.NewTransaction(false)
	defer txn.Discard()
	version := txn.ReadTs()

	var changes []domain.Change
	switch target.Kind {
	case domain.TargetDirectory:
		rooms, err := listRooms(txn)
		if err != nil {
			return nil, 0, errors.Transient(err)
		}
		changes = lo.Map(rooms, func(room domain.ChatRoom, _ int) domain.Change {
			return domain.Change{
				Target:  target,
				Kind:    domain.Added,
				Key:     string(ChatKey(room.ID)),
				Version: version,
				Room:    &room,
			}
		})
	default:
		if _, err := txn.Get(ChatKey(target.ChatID)); err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return nil, version, nil
			}
			return nil, 0, errors.Transient(err)
		}
		err := scanRoom(txn, target.ChatID, func(key []byte, m domain.Message) bool {
			if !m.Deleted() {
				changes = append(changes, domain.Change{
					Target:  target,
					Kind:    domain.Added,
					Key:     string(key),
					Version: version,
					Message: &m,
				})
			}
			return ctx.Err() == nil
		})
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return nil, 0, errors.Transient(err)
		}
	}
	return changes, version, nil
}

// Subscribe pumps the change feed until ctx is done or the store closes.
// Badger registers the subscriber asynchronously, so a ping document is
// written until it comes back through the feed: onLive then runs, on the feed
// goroutine, before any change committed after it is handed to onChanges.
// Changes seen before that point are dropped.
func (f *FeedRepository) Subscribe(parent context.Context, onLive func(), onChanges func([]domain.Change)) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	nonce := uuid.NewString()
	live := make(chan struct{})
	var liveOnce sync.Once

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.ping(ctx, live, nonce)
	}()

	matches := []pb.Match{
		{Prefix: []byte(ChatPrefix)},
		{Prefix: []byte(MessagePrefix)},
		{Prefix: []byte(feedPrefix)},
	}
	err := f.db.Subscribe(ctx, func(list *badger.KVList) error {
		var changes []domain.Change
		for _, kv := range list.GetKv() {
			if string(kv.Key) == pingKey {
				if string(kv.Value) == nonce {
					liveOnce.Do(func() {
						close(live)
						onLive()
					})
				}
				continue
			}
			select {
			case <-live:
			default:
				continue
			}
			change, ok := DecodeChange(kv)
			if !ok {
				f.log.Warn("Undecodable feed entry skipped", "key", string(kv.Key))
				continue
			}
			changes = append(changes, change)
		}
		if len(changes) > 0 {
			observability.FeedChanges.Add(float64(len(changes)))
			onChanges(changes)
		}
		return nil
	}, matches)
	cancel()
	wg.Wait()

	switch {
	case parent.Err() != nil:
		return nil
	case err == nil:
		return errors.ErrFeedClosed
	}
	return errors.Transient(err)
}

func (f *FeedRepository) ping(ctx context.Context, live <-chan struct{}, nonce string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		err := f.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(pingKey), []byte(nonce))
		})
		if err != nil && !stderrors.Is(err, badger.ErrConflict) {
			f.log.Debug("Feed ping failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-live:
			return
		case <-ticker.C:
		}
	}
}

// DecodeChange turns a feed entry into a document change.
// An empty value is a hard delete. A tombstoned message is reported as
// removed since it left the room's visible log.
func DecodeChange(kv *pb.KV) (domain.Change, bool) {
	key := string(kv.Key)
	change := domain.Change{Key: key, Version: kv.Version, Kind: domain.Added}

	if chatID, ok := chatIDFromKey(key); ok {
		change.Target = domain.DirectoryTarget()
		if len(kv.Value) == 0 {
			change.Kind = domain.Removed
			change.Room = &domain.ChatRoom{ID: chatID}
			return change, true
		}
		room, err := UnmarshalRoom(kv.Value)
		if err != nil {
			return domain.Change{}, false
		}
		change.Room = &room
		return change, true
	}

	if strings.HasPrefix(key, MessagePrefix) {
		chatID, at, seq, ok := ParseMessageKey(key)
		if !ok {
			return domain.Change{}, false
		}
		change.Target = domain.RoomTarget(chatID)
		if len(kv.Value) == 0 {
			change.Kind = domain.Removed
			change.Message = &domain.Message{ChatID: chatID, CreatedAt: at, Seq: seq}
			return change, true
		}
		m, err := UnmarshalMessage(kv.Value)
		if err != nil {
			return domain.Change{}, false
		}
		if m.Deleted() {
			change.Kind = domain.Removed
		}
		change.Message = &m
		return change, true
	}
	return domain.Change{}, false
}
