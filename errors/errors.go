package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Error taxonomy surfaced by every write and read path.
// Only ErrTransient is worth retrying, and only for reads or
// idempotency-key guarded appends.
var (
	ErrValidation = fmt.Errorf("validation error")
	ErrNotFound   = fmt.Errorf("not found")
	ErrPermission = fmt.Errorf("permission denied")
	ErrTransient  = fmt.Errorf("transient store error")
)

var (
	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrFeedClosed      = fmt.Errorf("change feed closed")
	ErrEngineStopped   = fmt.Errorf("subscription engine stopped")
	ErrEmptyWords      = fmt.Errorf("no words have been found")
	ErrOnlyCensoredTxt = fmt.Errorf("censored directory contains directories")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Permission(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// Transient tags a store failure as retryable.
// Errors already belonging to the taxonomy are returned untouched.
func Transient(err error) error {
	switch {
	case err == nil:
		return nil
	case IsTaxonomy(err):
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// FromStore maps a raw badger error to the taxonomy.
// A missing key is reported as ErrNotFound with the given subject.
func FromStore(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, badger.ErrKeyNotFound):
		return NotFound("%s", subject)
	}
	return Transient(err)
}

func IsTaxonomy(err error) bool {
	return stderrors.Is(err, ErrValidation) ||
		stderrors.Is(err, ErrNotFound) ||
		stderrors.Is(err, ErrPermission) ||
		stderrors.Is(err, ErrTransient)
}

func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrTransient)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
