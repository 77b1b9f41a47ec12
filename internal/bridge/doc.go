// Package bridge republishes CMV units over MQTT and accepts control
// commands from the bus.
//
// For every device the bridge publishes:
//
//	graylogic/state/cmv/{device_id}         snapshot after every poll cycle (retained)
//	graylogic/availability/cmv/{device_id}  "online" / "offline" on change (retained)
//	graylogic/ack/cmv/{device_id}           one ack per received command
//
// and consumes commands from graylogic/command/cmv/{device_id}:
//
//	{"id":"cmd-1","command":"set_preset","parameters":{"preset":"boost"},"source":"automation"}
//
// Supported commands are turn_on, turn_off, set_percentage, set_preset,
// leds_on, leds_off, reset_filters and refresh. A health message is
// published periodically on graylogic/health/cmv, which also carries the
// connection's Last Will.
package bridge
