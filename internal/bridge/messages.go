package bridge

import (
	"time"

	"github.com/nerrad567/gray-logic-cmv/internal/polling"
)

// Protocol is the protocol identifier carried in every message.
const Protocol = "cmv"

// Command names accepted on the command topic.
const (
	CommandTurnOn        = "turn_on"
	CommandTurnOff       = "turn_off"
	CommandSetPercentage = "set_percentage"
	CommandSetPreset     = "set_preset"
	CommandLEDsOn        = "leds_on"
	CommandLEDsOff       = "leds_off"
	CommandResetFilters  = "reset_filters"
	CommandRefresh       = "refresh"
)

// CommandMessage is received on graylogic/command/cmv/{device_id}.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp,omitzero"`

	// DeviceID defaults to the device segment of the topic.
	DeviceID string `json:"device_id"`

	Command string `json:"command"`

	// Parameters for set_percentage ({"percentage": 50}) and
	// set_preset ({"preset": "night"}).
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source is recorded in the audit trail. Defaults to "mqtt".
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the device acknowledged the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or the device did not acknowledge.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on graylogic/ack/cmv/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeActionFailed      = "ACTION_FAILED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
)

// StateMessage is published (QoS 1, retained) after every poll cycle.
type StateMessage struct {
	DeviceID  string           `json:"device_id"`
	Timestamp time.Time        `json:"timestamp"`
	Available bool             `json:"available"`
	State     polling.Snapshot `json:"state"`
	Protocol  string           `json:"protocol"`
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is published (QoS 1, retained) on graylogic/health/cmv.
type HealthMessage struct {
	Bridge           string            `json:"bridge"`
	Timestamp        time.Time         `json:"timestamp"`
	Status           HealthStatus      `json:"status"`
	Version          string            `json:"version"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	DevicesManaged   int               `json:"devices_managed"`
	DevicesAvailable int               `json:"devices_available"`
	Devices          []DeviceHealth    `json:"devices,omitempty"`
	Statistics       *BridgeStatistics `json:"statistics,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// DeviceHealth is the per-device part of a health message.
type DeviceHealth struct {
	DeviceID          string     `json:"device_id"`
	Available         bool       `json:"available"`
	State             string     `json:"state"`
	LastUpdateSuccess bool       `json:"last_update_success"`
	LastUpdate        *time.Time `json:"last_update,omitempty"`
	Cycles            uint64     `json:"cycles"`
	Failures          uint64     `json:"failures"`
}

// BridgeStatistics counts bridge activity since start.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	StatesPublished  uint64 `json:"states_published"`
}

// NewAckMessage creates a successful acknowledgement for cmd.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement for cmd.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage wraps a snapshot for publication.
func NewStateMessage(snap polling.Snapshot, available bool) StateMessage {
	return StateMessage{
		DeviceID:  snap.DeviceID(),
		Timestamp: time.Now().UTC(),
		Available: available,
		State:     snap,
		Protocol:  Protocol,
	}
}
