package bridge

import "errors"

var (
	// ErrMissingMQTT is returned by New without an MQTT client.
	ErrMissingMQTT = errors.New("bridge: MQTT client is required")

	// ErrNoDevices is returned by New without any device.
	ErrNoDevices = errors.New("bridge: at least one device is required")

	// ErrInvalidParameters is returned for a command with missing or
	// malformed parameters.
	ErrInvalidParameters = errors.New("bridge: invalid command parameters")

	// ErrUnknownCommand is returned for an unsupported command name.
	ErrUnknownCommand = errors.New("bridge: unknown command")
)
