package cmv

import (
	"errors"
	"testing"
)

func TestMode_Classification(t *testing.T) {
	for _, m := range FanLevels {
		if !m.IsFanLevel() || m.IsPreset() {
			t.Errorf("%s: want fan level only", m)
		}
	}
	for _, m := range Presets {
		if !m.IsPreset() || m.IsFanLevel() {
			t.Errorf("%s: want preset only", m)
		}
	}
	if ModeOff.IsFanLevel() || ModeOff.IsPreset() {
		t.Error("off is neither a fan level nor a preset")
	}
}

func TestMode_CommandsAreDistinct(t *testing.T) {
	seen := make(map[Command]Mode)
	for m, cmd := range modeCommands {
		if other, dup := seen[cmd]; dup {
			t.Errorf("%s and %s share command %s", m, other, cmd)
		}
		seen[cmd] = m
	}
	if len(modeCommands) != 8 {
		t.Errorf("len(modeCommands) = %d, want 8", len(modeCommands))
	}
	if Mode("bogus").Command() != NameCommand {
		t.Error("unknown mode should fall back to the name query")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"boost", ModeBoost, false},
		{" High ", ModeHigh, false},
		{"OFF", ModeOff, false},
		{"auto", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownMode) {
				t.Errorf("ParseMode(%q) error = %v, want ErrUnknownMode", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestPercentageMapping(t *testing.T) {
	tests := []struct {
		mode Mode
		pct  int
	}{
		{ModeOff, 0},
		{ModeLow, 25},
		{ModeMedium, 50},
		{ModeHigh, 75},
		{ModeHighest, 100},
	}
	for _, tt := range tests {
		got, ok := tt.mode.Percentage()
		if !ok || got != tt.pct {
			t.Errorf("%s.Percentage() = (%d, %v), want %d", tt.mode, got, ok, tt.pct)
		}
		if back := ModeForPercentage(tt.pct); back != tt.mode {
			t.Errorf("ModeForPercentage(%d) = %s, want %s", tt.pct, back, tt.mode)
		}
	}

	if _, ok := ModeBoost.Percentage(); ok {
		t.Error("presets have no percentage")
	}
	for _, p := range []int{1, 33, 60, 101, -25} {
		if m := ModeForPercentage(p); m.Valid() {
			t.Errorf("ModeForPercentage(%d) = %s, want unrecognised mode", p, m)
		}
	}
}

func TestOperatingStatus_Mode(t *testing.T) {
	if got := statusForMode(ModeNight); got.Preset != ModeNight || got.FanMode != "" || got.Mode() != ModeNight {
		t.Errorf("statusForMode(night) = %+v", got)
	}
	if got := statusForMode(ModeMedium); got.FanMode != ModeMedium || got.Preset != "" || got.Mode() != ModeMedium {
		t.Errorf("statusForMode(medium) = %+v", got)
	}
}
