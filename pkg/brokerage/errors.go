package brokerage

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: network trouble, timeouts,
// rate limiting, venue-side 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("brokerage: transient %s error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a venue rejection that no retry can fix: unknown
// symbol, insufficient buying power, market closed.
type PermanentError struct {
	Code   int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("brokerage: rejected (%d): %s", e.Code, e.Reason)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a terminal venue rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
