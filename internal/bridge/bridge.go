package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-cmv/internal/entity"
	"github.com/nerrad567/gray-logic-cmv/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cmv/internal/polling"
)

const (
	// commandTimeout bounds one command, which is a single device exchange.
	commandTimeout = 15 * time.Second

	stateQoS = 1
	ackQoS   = 1

	defaultSource = "mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Poller is the subset of *polling.Coordinator the bridge uses.
type Poller interface {
	Subscribe(fn func(polling.Snapshot)) (unsubscribe func())
	SubscribeFailures(fn func(error)) (unsubscribe func())
	Latest() (polling.Snapshot, bool)
	Available() bool
	RequestRefresh()
	Status() polling.Status
}

// Device pairs a unit's entities with its coordinator.
type Device struct {
	Unit   *entity.Unit
	Poller Poller
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	MQTT    MQTTClient
	Devices []Device

	// BridgeID names the bridge in health messages. Default: "cmv".
	BridgeID string
	Version  string

	// HealthInterval between health messages. Default: 30 seconds.
	HealthInterval time.Duration

	Logger Logger
}

// Bridge connects the devices to MQTT.
type Bridge struct {
	mqtt    MQTTClient
	devices map[string]Device
	order   []string
	topics  mqtt.Topics
	health  *HealthReporter
	logger  Logger

	// lastAvailability holds the last published availability per device.
	lastAvailability map[string]bool
	availMu          sync.Mutex

	unsubscribers []func()

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
}

// New creates a bridge. Call Start to begin operation.
//
// Parameters:
//   - opts: MQTT client, devices and health settings; MQTT and at least one device are required
//
// Returns:
//   - *Bridge: Bridge ready to Start
//   - error: ErrMissingMQTT, ErrNoDevices or a duplicate device ID
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, ErrMissingMQTT
	}
	if len(opts.Devices) == 0 {
		return nil, ErrNoDevices
	}
	if opts.BridgeID == "" {
		opts.BridgeID = Protocol
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:             opts.MQTT,
		devices:          make(map[string]Device, len(opts.Devices)),
		logger:           logger,
		lastAvailability: make(map[string]bool),
		ctx:              ctx,
		ctxCancel:        cancel,
	}
	for _, d := range opts.Devices {
		id := d.Unit.ID()
		if _, dup := b.devices[id]; dup {
			cancel()
			return nil, fmt.Errorf("bridge: duplicate device %s", id)
		}
		b.devices[id] = d
		b.order = append(b.order, id)
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Devices:   b.deviceHealth,
		Stats:     b.Statistics,
		Logger:    logger,
	})
	return b, nil
}

// Start subscribes to commands and snapshot updates, publishes the current
// state of every device and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, 1, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	for _, id := range b.order {
		id := id
		dev := b.devices[id]
		b.unsubscribers = append(b.unsubscribers, dev.Poller.Subscribe(func(snap polling.Snapshot) {
			b.publishState(dev, snap)
		}))
		b.unsubscribers = append(b.unsubscribers, dev.Poller.SubscribeFailures(func(err error) {
			b.logger.Debug("marking device unavailable after failed cycle", "device_id", id, "error", err)
			b.publishAvailability(id, dev.Poller.Available(), false)
		}))
	}

	b.PublishAll()
	b.health.Start(ctx)

	b.logger.Info("bridge started", "devices", len(b.order))
	return nil
}

// Stop unsubscribes, marks every device offline and publishes a final
// stopping health message. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		for _, unsub := range b.unsubscribers {
			unsub()
		}
		if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.logger.Debug("unsubscribe from commands failed", "error", err)
		}
		for _, id := range b.order {
			b.publishAvailability(id, false, true)
		}
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// PublishAll republishes availability and the latest state of every
// device. Use it after a broker reconnect.
func (b *Bridge) PublishAll() {
	for _, id := range b.order {
		dev := b.devices[id]
		if snap, ok := dev.Poller.Latest(); ok {
			b.publishState(dev, snap)
		}
		b.publishAvailability(id, dev.Poller.Available(), true)
	}
}

// Statistics returns counters since start.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatesPublished:  b.statesPublished.Load(),
	}
}

func (b *Bridge) publishState(dev Device, snap polling.Snapshot) {
	available := dev.Poller.Available()
	payload, err := json.Marshal(NewStateMessage(snap, available))
	if err != nil {
		b.logger.Error("failed to marshal state", "device_id", snap.DeviceID(), "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(snap.DeviceID()), payload, stateQoS, true); err != nil {
		b.logger.Warn("failed to publish state", "device_id", snap.DeviceID(), "error", err)
		return
	}
	b.statesPublished.Add(1)
	b.publishAvailability(snap.DeviceID(), available, false)
}

// publishAvailability publishes when the value changed or force is set.
func (b *Bridge) publishAvailability(deviceID string, available, force bool) {
	b.availMu.Lock()
	last, seen := b.lastAvailability[deviceID]
	if seen && last == available && !force {
		b.availMu.Unlock()
		return
	}
	b.lastAvailability[deviceID] = available
	b.availMu.Unlock()

	payload := mqtt.PayloadOffline
	if available {
		payload = mqtt.PayloadOnline
	}
	if err := b.mqtt.Publish(b.topics.Availability(deviceID), []byte(payload), stateQoS, true); err != nil {
		b.logger.Warn("failed to publish availability", "device_id", deviceID, "error", err)
	}
}

// handleMessage routes a command message to its device.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	topicDevice, ok := b.topics.DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %s", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(topicDevice, NewAckError(CommandMessage{DeviceID: topicDevice}, ErrCodeInvalidPayload, err.Error()))
		return fmt.Errorf("parse command: %w", err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice
	}
	b.commandsReceived.Add(1)

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
	)

	dev, ok := b.devices[cmd.DeviceID]
	if !ok || cmd.DeviceID != topicDevice {
		b.commandsFailed.Add(1)
		b.publishAck(topicDevice, NewAckError(cmd, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID)))
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	source := cmd.Source
	if source == "" {
		source = defaultSource
	}
	ctx = entity.WithSource(ctx, source)

	if err := b.execute(ctx, dev, cmd); err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(topicDevice, NewAckError(cmd, errorCode(err), err.Error()))
		return nil
	}
	b.publishAck(topicDevice, NewAckMessage(cmd))
	return nil
}

func (b *Bridge) execute(ctx context.Context, dev Device, cmd CommandMessage) error {
	unit := dev.Unit
	switch cmd.Command {
	case CommandTurnOn:
		return unit.Fan().TurnOn(ctx)
	case CommandTurnOff:
		return unit.Fan().TurnOff(ctx)
	case CommandSetPercentage:
		pct, err := intParam(cmd.Parameters, "percentage")
		if err != nil {
			return err
		}
		return unit.Fan().SetPercentage(ctx, pct)
	case CommandSetPreset:
		preset, ok := cmd.Parameters["preset"].(string)
		if !ok {
			return fmt.Errorf("%w: preset must be a string", ErrInvalidParameters)
		}
		return unit.Fan().SetPreset(ctx, preset)
	case CommandLEDsOn:
		return unit.LEDs().TurnOn(ctx)
	case CommandLEDsOff:
		return unit.LEDs().TurnOff(ctx)
	case CommandResetFilters:
		return unit.FilterReset().Press(ctx)
	case CommandRefresh:
		dev.Poller.RequestRefresh()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

func (b *Bridge) publishAck(deviceID string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(deviceID), payload, ackQoS, false); err != nil {
		b.logger.Warn("failed to publish ack", "device_id", deviceID, "error", err)
	}
	if ack.Error != nil {
		b.logger.Warn("command failed",
			"command_id", ack.CommandID,
			"device_id", deviceID,
			"code", ack.Error.Code,
			"message", ack.Error.Message,
		)
	}
}

// deviceHealth reports every device for the health message.
func (b *Bridge) deviceHealth() []DeviceHealth {
	out := make([]DeviceHealth, 0, len(b.order))
	for _, id := range b.order {
		dev := b.devices[id]
		st := dev.Poller.Status()
		h := DeviceHealth{
			DeviceID:          id,
			Available:         dev.Poller.Available(),
			State:             st.State.String(),
			LastUpdateSuccess: st.LastUpdateSuccess,
			Cycles:            st.Cycles,
			Failures:          st.Failures,
		}
		if !st.LastUpdate.IsZero() {
			last := st.LastUpdate.UTC()
			h.LastUpdate = &last
		}
		out = append(out, h)
	}
	return out
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, entity.ErrActionFailed):
		return ErrCodeActionFailed
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters),
		errors.Is(err, entity.ErrInvalidPercentage),
		errors.Is(err, entity.ErrUnsupportedPreset):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeActionFailed
	}
}

// intParam reads an integral JSON number parameter.
func intParam(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParameters, key)
	}
	return int(f), nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
