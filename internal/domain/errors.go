package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityUnresolved is returned while the initial identity
	// resolution has not completed yet. Distinct from "signed out".
	ErrIdentityUnresolved = errors.New("identity not yet resolved")

	// ErrNoSession is returned for user-scoped operations when no
	// user is signed in.
	ErrNoSession = errors.New("no active session")

	// ErrFeedDisconnected indicates the change feed subscription
	// dropped. State is refreshed on the next sign-in.
	ErrFeedDisconnected = errors.New("change feed disconnected")
)

// StoreError wraps any failure of a remote store call: transport,
// query, or server-side validation. Callers treat a failed list as
// "no data yet", never as an empty collection.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a StoreError for the given operation.
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is (or wraps) a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
