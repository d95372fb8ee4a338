package session

import (
	"errors"
	"fmt"
)

// ErrNoMoreUnread is the normal terminal outcome of an unread jump, not
// a failure.
var ErrNoMoreUnread = errors.New("no more unread messages")

// FetchFailedError reports a remote fetch that did not complete. The
// session state it targeted is left unchanged; retry is a fresh
// explicit command.
type FetchFailedError struct {
	Target string
	Cause  error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetch %s failed: %v", e.Target, e.Cause)
}

func (e *FetchFailedError) Unwrap() error { return e.Cause }

// ValidationError reports a rejected command, like an out-of-range page
// number or a mark jump across threads. State is unchanged.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StoreWriteError reports a failed durable mutation. Losing a star or
// read toggle must be visible, never silent.
type StoreWriteError struct {
	Op    string
	Cause error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s failed: %v", e.Op, e.Cause)
}

func (e *StoreWriteError) Unwrap() error { return e.Cause }
