package entity

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-cmv/internal/cmv"
)

// Kind is the platform an entity belongs to.
type Kind string

// Entity kinds.
const (
	KindFan    Kind = "fan"
	KindSwitch Kind = "switch"
	KindSensor Kind = "sensor"
	KindButton Kind = "button"
)

// Audit action names.
const (
	ActionSetMode      = "set_mode"
	ActionLEDsOn       = "leds_on"
	ActionLEDsOff      = "leds_off"
	ActionResetFilters = "reset_filters"
)

// Entity is one host-facing control or reading.
type Entity interface {
	ID() string
	Name() string
	Kind() Kind
	State() State
}

// State is the serialisable view of an entity. Value is nil when the
// reading is unknown.
type State struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Kind        Kind           `json:"kind"`
	Available   bool           `json:"available"`
	Value       any            `json:"value"`
	Unit        string         `json:"unit,omitempty"`
	DeviceClass string         `json:"device_class,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Fan controls the unit's operating mode. Speed count is four.
type Fan struct {
	unit *Unit
}

// ID returns "{device_id}_cmv_control".
func (f *Fan) ID() string { return f.unit.entityID("cmv_control") }

// Name returns "{name} CMV Control".
func (f *Fan) Name() string { return f.unit.info.Name + " CMV Control" }

// Kind returns KindFan.
func (f *Fan) Kind() Kind { return KindFan }

// Percentage returns the current fan level as 0, 25, 50, 75 or 100.
// It is unknown while a preset is active or before the first snapshot.
func (f *Fan) Percentage() (int, bool) {
	snap, ok := f.unit.snapshot()
	if !ok {
		return 0, false
	}
	mode, ok := snap.FanMode()
	if !ok {
		return 0, false
	}
	return mode.Percentage()
}

// Preset returns the active preset, if any.
func (f *Fan) Preset() (cmv.Mode, bool) {
	snap, ok := f.unit.snapshot()
	if !ok {
		return "", false
	}
	return snap.Preset()
}

// IsOn reports whether the fan is running a level above off or a preset.
func (f *Fan) IsOn() bool {
	if pct, ok := f.Percentage(); ok && pct > 0 {
		return true
	}
	_, ok := f.Preset()
	return ok
}

// PresetModes lists the supported presets.
func (f *Fan) PresetModes() []cmv.Mode {
	return append([]cmv.Mode(nil), cmv.Presets...)
}

// SetPercentage selects the fan level for pct. Values that are not a
// multiple of 25 are passed through and rejected by the device.
func (f *Fan) SetPercentage(ctx context.Context, pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPercentage, pct)
	}
	return f.setMode(ctx, cmv.ModeForPercentage(pct), map[string]any{"percentage": pct})
}

// SetPreset activates a preset.
func (f *Fan) SetPreset(ctx context.Context, preset string) error {
	mode := cmv.Mode(preset)
	if !mode.IsPreset() {
		return fmt.Errorf("%w: %q", ErrUnsupportedPreset, preset)
	}
	return f.setMode(ctx, mode, map[string]any{"preset": preset})
}

// TurnOn starts the fan at the low level.
func (f *Fan) TurnOn(ctx context.Context) error {
	return f.setMode(ctx, cmv.ModeLow, nil)
}

// TurnOff stops the fan.
func (f *Fan) TurnOff(ctx context.Context) error {
	return f.setMode(ctx, cmv.ModeOff, nil)
}

func (f *Fan) setMode(ctx context.Context, mode cmv.Mode, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["mode"] = string(mode)
	a := action{name: ActionSetMode, entityType: KindFan, entityID: f.ID(), details: details}
	return f.unit.perform(ctx, a, func(ctx context.Context) bool {
		return f.unit.device.SetMode(ctx, mode)
	})
}

// State returns the fan state. Value is the on/off flag.
func (f *Fan) State() State {
	attrs := map[string]any{
		"preset_modes": f.PresetModes(),
		"speed_count":  len(cmv.FanLevels),
		"percentage":   nil,
		"preset_mode":  nil,
	}
	if pct, ok := f.Percentage(); ok {
		attrs["percentage"] = pct
	}
	if p, ok := f.Preset(); ok {
		attrs["preset_mode"] = p
	}

	var value any
	if _, ok := f.unit.snapshot(); ok {
		value = f.IsOn()
	}
	return State{
		ID:         f.ID(),
		Name:       f.Name(),
		Kind:       KindFan,
		Available:  f.unit.Available(),
		Value:      value,
		Attributes: attrs,
	}
}

// LEDSwitch toggles the control panel LEDs.
type LEDSwitch struct {
	unit *Unit
}

// ID returns "{device_id}_panel_leds".
func (s *LEDSwitch) ID() string { return s.unit.entityID("panel_leds") }

// Name returns "{name} CMV Panel Leds".
func (s *LEDSwitch) Name() string { return s.unit.info.Name + " CMV Panel Leds" }

// Kind returns KindSwitch.
func (s *LEDSwitch) Kind() Kind { return KindSwitch }

// IsOn returns the LED state from the latest snapshot.
func (s *LEDSwitch) IsOn() (bool, bool) {
	snap, ok := s.unit.snapshot()
	if !ok {
		return false, false
	}
	return snap.LEDsOn()
}

// TurnOn lights the LEDs.
func (s *LEDSwitch) TurnOn(ctx context.Context) error {
	a := action{name: ActionLEDsOn, entityType: KindSwitch, entityID: s.ID()}
	return s.unit.perform(ctx, a, s.unit.device.TurnLEDsOn)
}

// TurnOff switches the LEDs off.
func (s *LEDSwitch) TurnOff(ctx context.Context) error {
	a := action{name: ActionLEDsOff, entityType: KindSwitch, entityID: s.ID()}
	return s.unit.perform(ctx, a, s.unit.device.TurnLEDsOff)
}

// State returns the switch state.
func (s *LEDSwitch) State() State {
	st := State{ID: s.ID(), Name: s.Name(), Kind: KindSwitch, Available: s.unit.Available()}
	if on, ok := s.IsOn(); ok {
		st.Value = on
	}
	return st
}

// Metric identifies a sensor reading.
type Metric string

// Sensor metrics.
const (
	MetricIndoorTemperature  Metric = "indoor_temp"
	MetricOutdoorTemperature Metric = "outdoor_temp"
	MetricIndoorHumidity     Metric = "indoor_humidity"
)

// Sensor is a read-only reading from the snapshot.
type Sensor struct {
	unit   *Unit
	metric Metric
}

// ID returns "{device_id}_{metric}".
func (s *Sensor) ID() string { return s.unit.entityID(string(s.metric)) }

// Name returns the display name.
func (s *Sensor) Name() string {
	switch s.metric {
	case MetricIndoorTemperature:
		return s.unit.info.Name + " Indoor Temperature"
	case MetricOutdoorTemperature:
		return s.unit.info.Name + " Outdoor Temperature"
	default:
		return s.unit.info.Name + " Indoor Humidity"
	}
}

// Kind returns KindSensor.
func (s *Sensor) Kind() Kind { return KindSensor }

// Metric returns the reading this sensor reports.
func (s *Sensor) Metric() Metric { return s.metric }

// Unit returns the unit of measurement.
func (s *Sensor) Unit() string {
	if s.metric == MetricIndoorHumidity {
		return "%"
	}
	return "°C"
}

// DeviceClass returns "temperature" or "humidity".
func (s *Sensor) DeviceClass() string {
	if s.metric == MetricIndoorHumidity {
		return "humidity"
	}
	return "temperature"
}

// Value returns the reading from the latest snapshot.
func (s *Sensor) Value() (float64, bool) {
	snap, ok := s.unit.snapshot()
	if !ok {
		return 0, false
	}
	switch s.metric {
	case MetricIndoorTemperature:
		return snap.IndoorTemperature()
	case MetricOutdoorTemperature:
		return snap.OutdoorTemperature()
	default:
		return snap.IndoorHumidity()
	}
}

// State returns the sensor state.
func (s *Sensor) State() State {
	st := State{
		ID:          s.ID(),
		Name:        s.Name(),
		Kind:        KindSensor,
		Available:   s.unit.Available(),
		Unit:        s.Unit(),
		DeviceClass: s.DeviceClass(),
	}
	if v, ok := s.Value(); ok {
		st.Value = v
	}
	return st
}

// Button resets the filter usage counter.
type Button struct {
	unit *Unit
}

// ID returns "{device_id}_filter_reset".
func (b *Button) ID() string { return b.unit.entityID("filter_reset") }

// Name returns "{name} CMV Filter Usage Reset".
func (b *Button) Name() string { return b.unit.info.Name + " CMV Filter Usage Reset" }

// Kind returns KindButton.
func (b *Button) Kind() Kind { return KindButton }

// Press sends the filter reset command.
func (b *Button) Press(ctx context.Context) error {
	a := action{name: ActionResetFilters, entityType: KindButton, entityID: b.ID()}
	return b.unit.perform(ctx, a, b.unit.device.ResetFilters)
}

// State returns the button state. Buttons have no value.
func (b *Button) State() State {
	return State{ID: b.ID(), Name: b.Name(), Kind: KindButton, Available: b.unit.Available()}
}
