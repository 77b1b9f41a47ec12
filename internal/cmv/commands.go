package cmv

import (
	"fmt"
	"strings"
)

// Command is an opaque byte sequence sent verbatim to the device.
type Command string

// Wire commands understood by the Helty Flow controller.
const (
	// NameCommand queries the unit name. Response: "VMNM <name>".
	NameCommand Command = "VMNM?"

	// SensorsCommand queries sensor readings.
	// Response: "VMGI,<indoorTenths>,<outdoorTenths>,<humidityTenths>,..."
	SensorsCommand Command = "VMGI?"

	// ConfigCommand queries the operating configuration.
	// Response: "VMGO,<modeCode>,<ledCode>,..."
	ConfigCommand Command = "VMGH?"

	LEDsOnCommand      Command = "VMWH0300010"
	LEDsOffCommand     Command = "VMWH0300000"
	ResetFilterCommand Command = "VMWH0417744"
)

// Response framing.
const (
	namePrefix   = "VMNM"
	sensorsTag   = "VMGI"
	configTag    = "VMGO"
	ackOK        = "OK"
	ledCodeOn    = 10
	ledCodeOff   = 0
	fieldDivisor = 10.0
)

// Mode is the device's single operating-mode register: off, a fan level or a preset.
type Mode string

// Operating modes.
const (
	ModeOff     Mode = "off"
	ModeLow     Mode = "low"
	ModeMedium  Mode = "medium"
	ModeHigh    Mode = "high"
	ModeHighest Mode = "highest"
	ModeBoost   Mode = "boost"
	ModeNight   Mode = "night"
	ModeCooling Mode = "cooling"
)

// modeCommands maps each settable mode to its write command.
var modeCommands = map[Mode]Command{
	ModeOff:     "VMWH0000000",
	ModeLow:     "VMWH0000001",
	ModeMedium:  "VMWH0000002",
	ModeHigh:    "VMWH0000003",
	ModeHighest: "VMWH0000004",
	ModeBoost:   "VMWH0000005",
	ModeNight:   "VMWH0000006",
	ModeCooling: "VMWH0000007",
}

// statusCodes maps the VMGO mode code to the active mode.
var statusCodes = map[int]Mode{
	1: ModeLow,
	2: ModeMedium,
	3: ModeHigh,
	4: ModeHighest,
	5: ModeBoost,
	6: ModeNight,
	7: ModeCooling,
}

// FanLevels lists the fan speed levels in ascending order.
var FanLevels = []Mode{ModeLow, ModeMedium, ModeHigh, ModeHighest}

// Presets lists the preset modes.
var Presets = []Mode{ModeBoost, ModeNight, ModeCooling}

// IsFanLevel reports whether m is one of low, medium, high or highest.
func (m Mode) IsFanLevel() bool {
	switch m {
	case ModeLow, ModeMedium, ModeHigh, ModeHighest:
		return true
	}
	return false
}

// IsPreset reports whether m is one of boost, night or cooling.
func (m Mode) IsPreset() bool {
	switch m {
	case ModeBoost, ModeNight, ModeCooling:
		return true
	}
	return false
}

// Valid reports whether m has a write command.
func (m Mode) Valid() bool {
	_, ok := modeCommands[m]
	return ok
}

// Command returns the write command for m. Unrecognised modes map to
// NameCommand, a harmless probe that never answers "OK".
func (m Mode) Command() Command {
	if cmd, ok := modeCommands[m]; ok {
		return cmd
	}
	return NameCommand
}

// ParseMode converts a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Percentage returns the fan percentage for a fan level or off, with a
// speed count of four. Presets have no percentage.
func (m Mode) Percentage() (int, bool) {
	if m == ModeOff {
		return 0, true
	}
	for i, level := range FanLevels {
		if m == level {
			return (i + 1) * 100 / len(FanLevels), true
		}
	}
	return 0, false
}

// ModeForPercentage maps 0, 25, 50, 75 and 100 to off and the four fan
// levels. Any other value yields an unrecognised mode, which SetMode
// turns into a name probe.
func ModeForPercentage(p int) Mode {
	if p == 0 {
		return ModeOff
	}
	for _, level := range FanLevels {
		if pct, _ := level.Percentage(); pct == p {
			return level
		}
	}
	return Mode(fmt.Sprintf("percentage:%d", p))
}

// OperatingStatus is the decoded mode register. Exactly one of Preset and
// FanMode is set.
type OperatingStatus struct {
	Preset  Mode `json:"preset,omitempty"`
	FanMode Mode `json:"fan_mode,omitempty"`
}

// Mode returns whichever of Preset or FanMode is set.
func (s OperatingStatus) Mode() Mode {
	if s.Preset != "" {
		return s.Preset
	}
	return s.FanMode
}

// statusForMode builds the status for an active mode.
func statusForMode(m Mode) OperatingStatus {
	if m.IsPreset() {
		return OperatingStatus{Preset: m}
	}
	return OperatingStatus{FanMode: m}
}
