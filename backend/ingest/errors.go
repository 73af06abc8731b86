package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrEntryExists = errors.New("entry already exists")
	ErrFeedExists  = errors.New("feed already exists")

	// ErrMaxRetriesExceeded marks the transition of a refresh to the paused state.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// FetchError is a fetch failure that retrying will not fix: a malformed document, a client
// error status or a transport failure such as an unknown host.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TransientFetchError is a fetch failure worth retrying: timeouts, connection resets and
// server side statuses.
type TransientFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (transient): status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s (transient): %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps any failure of the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsTerminal reports whether err should end a refresh without a retry.
func IsTerminal(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}
