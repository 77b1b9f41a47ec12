package mqtt

import (
	"fmt"
	"strings"
)

// Topic scheme constants.
const (
	// TopicRoot is the first level of every topic.
	TopicRoot = "graylogic"

	// Protocol is the protocol segment used by the CMV bridge.
	Protocol = "cmv"
)

// Availability payloads, published retained.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.State("192.168.1.50")   // graylogic/state/cmv/192.168.1.50
//	topics.AllCommands()           // graylogic/command/cmv/+
type Topics struct{}

func (Topics) device(category, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicRoot, category, Protocol, deviceID)
}

// State is where device snapshots are published (retained).
func (t Topics) State(deviceID string) string { return t.device("state", deviceID) }

// Command is where control commands for a device arrive.
func (t Topics) Command(deviceID string) string { return t.device("command", deviceID) }

// Ack is where command acknowledgements are published.
func (t Topics) Ack(deviceID string) string { return t.device("ack", deviceID) }

// Availability carries the retained online/offline flag for a device.
func (t Topics) Availability(deviceID string) string { return t.device("availability", deviceID) }

// AllCommands matches the command topic of every device.
func (t Topics) AllCommands() string { return t.device("command", "+") }

// AllStates matches the state topic of every device.
func (t Topics) AllStates() string { return t.device("state", "+") }

// Health is the bridge health topic. It also carries the Last Will.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicRoot, Protocol)
}

// DeviceFromTopic returns the device ID segment of a
// graylogic/{category}/cmv/{device_id} topic.
func (Topics) DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicRoot || parts[1] == "" || parts[2] != Protocol || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}
