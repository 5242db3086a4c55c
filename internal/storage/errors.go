package storage

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
)

// StoreError wraps a database failure. Retryable errors are lock contention
// the caller may retry with backoff; the repository itself never retries, so
// a delta can never be applied twice.
type StoreError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient store conflict worth
// retrying.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Retryable
}

// SQLite primary result codes for lock contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return &StoreError{Op: op, Retryable: true, Err: err}
		}
	}
	return &StoreError{Op: op, Err: err}
}
