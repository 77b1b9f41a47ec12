package cmv

import "errors"

// Domain errors for the CMV device client.
var (
	// ErrDeviceUnreachable is returned by ExecuteCommand when the exchange
	// could not complete: timeout, refused connection or any other I/O fault.
	// Callers are not told which.
	ErrDeviceUnreachable = errors.New("cmv: device unreachable")

	// ErrInvalidResponse is returned by ExecuteCommand when the device answered
	// with bytes that are not ASCII text. The device is still considered online.
	ErrInvalidResponse = errors.New("cmv: invalid response encoding")

	// ErrUnknownMode is returned by ParseMode for names outside the mode set.
	ErrUnknownMode = errors.New("cmv: unknown operating mode")
)
