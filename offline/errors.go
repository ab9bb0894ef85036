package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a queue item id is unknown.
	ErrNotFound = errors.New("offline: queue item not found")

	// ErrPermanent marks an execution failure that must not be retried.
	ErrPermanent = errors.New("offline: permanent failure")

	// ErrRetriesExhausted is reported for items dropped after using up their
	// retry budget.
	ErrRetriesExhausted = errors.New("offline: retries exhausted")

	// ErrInvalidOperation is returned for operations that cannot be queued:
	// no name, or variables the queue store cannot encode.
	ErrInvalidOperation = errors.New("offline: invalid operation")
)

// Permanent wraps err so the sync manager drops the operation instead of
// retrying it. Executors use it for failures that can never succeed, such as
// validation errors from the origin.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.err)
}

func (e *permanentError) Unwrap() []error {
	return []error{ErrPermanent, e.err}
}
