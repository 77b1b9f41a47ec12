package entity

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-cmv/internal/audit"
	"github.com/nerrad567/gray-logic-cmv/internal/cmv"
	"github.com/nerrad567/gray-logic-cmv/internal/polling"
)

// Device information reported for every unit.
const (
	Manufacturer = "Helty"
	Model        = "Flow"
)

// Controller is the part of the device client the entities drive.
// *cmv.Client satisfies it.
type Controller interface {
	ID() string
	Name() string
	SetMode(ctx context.Context, m cmv.Mode) bool
	TurnLEDsOn(ctx context.Context) bool
	TurnLEDsOff(ctx context.Context) bool
	ResetFilters(ctx context.Context) bool
}

// Source supplies snapshots and accepts refresh requests.
// *polling.Coordinator satisfies it.
type Source interface {
	Latest() (polling.Snapshot, bool)
	Available() bool
	RequestRefresh()
}

// Recorder persists control actions. audit.Repository satisfies it.
type Recorder interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Unit. Both fields are optional.
type Options struct {
	Recorder Recorder
	Logger   Logger
}

// DeviceInfo identifies the physical unit the entities belong to.
type DeviceInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// Unit groups the entities of one CMV device.
type Unit struct {
	device   Controller
	source   Source
	recorder Recorder
	logger   Logger
	info     DeviceInfo

	fan         *Fan
	leds        *LEDSwitch
	sensors     []*Sensor
	filterReset *Button
}

// NewUnit builds the entity set for device, backed by source.
func NewUnit(device Controller, source Source, opts Options) *Unit {
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	u := &Unit{
		device:   device,
		source:   source,
		recorder: opts.Recorder,
		logger:   logger,
		info: DeviceInfo{
			ID:           device.ID(),
			Name:         device.Name(),
			Manufacturer: Manufacturer,
			Model:        Model,
		},
	}

	u.fan = &Fan{unit: u}
	u.leds = &LEDSwitch{unit: u}
	u.filterReset = &Button{unit: u}
	u.sensors = []*Sensor{
		{unit: u, metric: MetricIndoorTemperature},
		{unit: u, metric: MetricOutdoorTemperature},
		{unit: u, metric: MetricIndoorHumidity},
	}
	return u
}

// ID returns the device identifier.
func (u *Unit) ID() string { return u.info.ID }

// Info returns the device information.
func (u *Unit) Info() DeviceInfo { return u.info }

// Available reports whether the entities should be shown as available.
func (u *Unit) Available() bool { return u.source.Available() }

// Fan returns the fan entity.
func (u *Unit) Fan() *Fan { return u.fan }

// LEDs returns the panel LED switch.
func (u *Unit) LEDs() *LEDSwitch { return u.leds }

// FilterReset returns the filter reset button.
func (u *Unit) FilterReset() *Button { return u.filterReset }

// Sensors returns the read-only sensors in a fixed order.
func (u *Unit) Sensors() []*Sensor { return u.sensors }

// Sensor returns the sensor with the given entity ID.
func (u *Unit) Sensor(id string) (*Sensor, bool) {
	for _, s := range u.sensors {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Entities returns every entity of the unit.
func (u *Unit) Entities() []Entity {
	out := []Entity{u.fan, u.leds}
	for _, s := range u.sensors {
		out = append(out, s)
	}
	return append(out, u.filterReset)
}

// States returns the current state of every entity.
func (u *Unit) States() []State {
	entities := u.Entities()
	out := make([]State, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.State())
	}
	return out
}

// snapshot returns the latest snapshot, if any.
func (u *Unit) snapshot() (polling.Snapshot, bool) {
	return u.source.Latest()
}

// entityID builds "{device_id}_{suffix}".
func (u *Unit) entityID(suffix string) string {
	return u.info.ID + "_" + suffix
}

// action describes one control operation for logging and auditing.
type action struct {
	name       string
	entityType Kind
	entityID   string
	details    map[string]any
}

// perform runs fn, records the outcome and requests a refresh on success.
func (u *Unit) perform(ctx context.Context, a action, fn func(context.Context) bool) error {
	ok := fn(ctx)
	u.record(ctx, a, ok)

	if !ok {
		u.logger.Error("control action failed",
			"device_id", u.info.ID,
			"entity_id", a.entityID,
			"action", a.name,
			"details", a.details,
		)
		return fmt.Errorf("%w: %s on %s", ErrActionFailed, a.name, u.info.ID)
	}

	u.logger.Info("control action applied",
		"device_id", u.info.ID,
		"entity_id", a.entityID,
		"action", a.name,
	)
	u.source.RequestRefresh()
	return nil
}

func (u *Unit) record(ctx context.Context, a action, ok bool) {
	if u.recorder == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:     a.name,
		EntityType: string(a.entityType),
		EntityID:   a.entityID,
		DeviceID:   u.info.ID,
		Source:     SourceFromContext(ctx),
		Success:    ok,
		Details:    a.details,
	}
	// The audit write must not be lost to a caller's cancelled context.
	if err := u.recorder.Create(context.WithoutCancel(ctx), entry); err != nil {
		u.logger.Warn("failed to record audit log", "device_id", u.info.ID, "action", a.name, "error", err)
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
