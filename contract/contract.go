//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"roomsync/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Observer receives the batches of one subscription.
// Calls for a given subscription are never concurrent.
// Closed is called at most once, only when the subscription dies on an error.
type Observer interface {
	Deliver(ctx context.Context, batch domain.Batch) error
	Closed(err error)
}

// ChangeSink consumes every decoded change of the feed, whatever the target.
type ChangeSink interface {
	Consume(ctx context.Context, changes []domain.Change) error
}

// ChangeFeed pumps store changes until ctx is done. onLive runs each time the
// feed is established, before the first change it reports.
type ChangeFeed interface {
	Subscribe(ctx context.Context, onLive func(), onChanges func([]domain.Change)) error
}

// Snapshotter reads a consistent snapshot of a target.
// The returned version is the store read version of that snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context, target domain.Target) ([]domain.Change, uint64, error)
}

type AggregateMaintainer interface {
	OnAppend(ctx context.Context, chatID string, createdAt time.Time) error
	OnDelete(ctx context.Context, chatID string) error
}

// MessageIndex answers full-text queries with matching message ids, best first.
type MessageIndex interface {
	Search(ctx context.Context, chatID, query string, limit int) ([]string, error)
}

type Moderator interface {
	Censor(text string) string
}

type UserDirectory interface {
	Lookup(userID string) (domain.User, bool)
}

type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}

type NotificationSink interface {
	Notify(ctx context.Context, title, body string) error
}
