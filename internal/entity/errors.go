package entity

import "errors"

var (
	// ErrActionFailed is returned when the device did not acknowledge a
	// control action or could not be reached.
	ErrActionFailed = errors.New("entity: action failed")

	// ErrInvalidPercentage is returned for a fan percentage outside 0-100.
	ErrInvalidPercentage = errors.New("entity: percentage out of range")

	// ErrUnsupportedPreset is returned for a preset the fan does not offer.
	ErrUnsupportedPreset = errors.New("entity: unsupported preset")
)
