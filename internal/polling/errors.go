package polling

import "errors"

var (
	// ErrUpdateFailed is returned when a poll cycle could not be assembled.
	// The previously published snapshot stays current.
	ErrUpdateFailed = errors.New("polling: update failed")

	// ErrCycleAbandoned is returned when the caller's context ended before
	// the cycle completed. The coordinator's outcome state is left untouched.
	ErrCycleAbandoned = errors.New("polling: cycle abandoned")
)
