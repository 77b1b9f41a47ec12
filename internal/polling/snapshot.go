package polling

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-cmv/internal/cmv"
)

// Snapshot is the immutable result of one poll cycle. Absent readings
// report ok == false. FanMode and Preset are never both present.
type Snapshot struct {
	deviceID string

	indoorTemp  float64
	outdoorTemp float64
	humidity    float64
	ledsOn      bool
	fanMode     cmv.Mode
	preset      cmv.Mode

	hasIndoorTemp  bool
	hasOutdoorTemp bool
	hasHumidity    bool
	hasLEDs        bool

	reachable bool
	updatedAt time.Time
}

// readings holds the raw results of the five concurrent reads.
type readings struct {
	status   cmv.OperatingStatus
	statusOK bool

	indoorTemp, outdoorTemp, humidity       float64
	indoorTempOK, outdoorTempOK, humidityOK bool

	ledsOn   bool
	ledsOnOK bool
}

// assemble builds a snapshot from the scalar readings, then merges the
// operating status into the same document.
func assemble(deviceID string, r readings, at time.Time) Snapshot {
	s := Snapshot{
		deviceID:       deviceID,
		indoorTemp:     r.indoorTemp,
		hasIndoorTemp:  r.indoorTempOK,
		outdoorTemp:    r.outdoorTemp,
		hasOutdoorTemp: r.outdoorTempOK,
		humidity:       r.humidity,
		hasHumidity:    r.humidityOK,
		ledsOn:         r.ledsOn,
		hasLEDs:        r.ledsOnOK,
		updatedAt:      at,
	}
	if r.statusOK {
		s.preset = r.status.Preset
		s.fanMode = r.status.FanMode
	}
	s.reachable = r.statusOK || r.indoorTempOK || r.outdoorTempOK || r.humidityOK || r.ledsOnOK
	return s
}

// DeviceID returns the device the snapshot was taken from.
func (s Snapshot) DeviceID() string { return s.deviceID }

// IndoorTemperature returns the indoor temperature in °C.
func (s Snapshot) IndoorTemperature() (float64, bool) { return s.indoorTemp, s.hasIndoorTemp }

// OutdoorTemperature returns the outdoor temperature in °C.
func (s Snapshot) OutdoorTemperature() (float64, bool) { return s.outdoorTemp, s.hasOutdoorTemp }

// IndoorHumidity returns the indoor relative humidity in percent.
func (s Snapshot) IndoorHumidity() (float64, bool) { return s.humidity, s.hasHumidity }

// LEDsOn returns the panel LED state.
func (s Snapshot) LEDsOn() (bool, bool) { return s.ledsOn, s.hasLEDs }

// FanMode returns the active fan level, if the device is running one.
func (s Snapshot) FanMode() (cmv.Mode, bool) { return s.fanMode, s.fanMode != "" }

// Preset returns the active preset, if any.
func (s Snapshot) Preset() (cmv.Mode, bool) { return s.preset, s.preset != "" }

// Reachable reports whether at least one read in the cycle produced a value.
func (s Snapshot) Reachable() bool { return s.reachable }

// UpdatedAt returns when the cycle completed.
func (s Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// snapshotJSON is the wire form. Absent readings encode as null.
type snapshotJSON struct {
	DeviceID           string    `json:"device_id"`
	IndoorTemperature  *float64  `json:"indoor_temperature"`
	OutdoorTemperature *float64  `json:"outdoor_temperature"`
	IndoorHumidity     *float64  `json:"indoor_humidity"`
	LEDsOn             *bool     `json:"leds_on"`
	FanMode            *cmv.Mode `json:"fan_mode"`
	Preset             *cmv.Mode `json:"preset"`
	Reachable          bool      `json:"reachable"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		DeviceID:  s.deviceID,
		Reachable: s.reachable,
		UpdatedAt: s.updatedAt,
	}
	if v, ok := s.IndoorTemperature(); ok {
		out.IndoorTemperature = &v
	}
	if v, ok := s.OutdoorTemperature(); ok {
		out.OutdoorTemperature = &v
	}
	if v, ok := s.IndoorHumidity(); ok {
		out.IndoorHumidity = &v
	}
	if v, ok := s.LEDsOn(); ok {
		out.LEDsOn = &v
	}
	if v, ok := s.FanMode(); ok {
		out.FanMode = &v
	}
	if v, ok := s.Preset(); ok {
		out.Preset = &v
	}
	return json.Marshal(out)
}
