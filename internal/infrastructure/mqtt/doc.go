// Package mqtt connects the CMV bridge to an MQTT broker.
//
// It wraps paho.mqtt.golang with:
//   - auto-reconnect with exponential backoff
//   - subscriptions that are restored after a reconnect
//   - panic-safe message handlers
//   - a Last Will and Testament on the bridge health topic
//
// Topic names live in Topics so the bridge, the health reporter and any
// external consumer agree on one flat scheme:
//
//	graylogic/{category}/cmv/{device_id}
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) when the broker is not on localhost
//   - Anonymous access is only for local development
package mqtt
