package repositories

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"time"

	"roomsync/errors"
	"roomsync/observability"

	"github.com/dgraph-io/badger/v4"
)

const (
	maxConflictRetries = 256
	baseConflictDelay  = 100 * time.Microsecond
	maxConflictDelay   = 20 * time.Millisecond
)

// update runs fn in a read-write transaction and commits it.
// Badger detects read-write conflicts at commit (serializable snapshot isolation):
// when another transaction committed a write to a key fn has read, the commit
// fails with ErrConflict and fn is replayed on a fresh snapshot. fn must therefore
// derive every write from what it reads inside the transaction.
func update(ctx context.Context, db *badger.DB, operation string, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Transient(err)
		}
		err := db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return errors.Transient(err)
		}
		observability.TxnConflicts.WithLabelValues(operation).Inc()
		if attempt >= maxConflictRetries {
			return errors.Transient(err)
		}
		select {
		case <-ctx.Done():
			return errors.Transient(ctx.Err())
		case <-time.After(conflictDelay(attempt)):
		}
	}
}

// conflictDelay grows exponentially and is fully jittered so that
// writers colliding on the same room spread out instead of colliding again.
func conflictDelay(attempt int) time.Duration {
	d := baseConflictDelay << min(attempt, 8)
	if d > maxConflictDelay {
		d = maxConflictDelay
	}
	return time.Duration(rand.Int64N(int64(d))) + time.Microsecond
}
