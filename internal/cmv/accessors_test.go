package cmv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseTenths(t *testing.T) {
	tests := []struct {
		name   string
		resp   string
		idx    int
		want   float64
		wantOK bool
	}{
		{"indoor temp", "VMGI,215,104,456", fieldIndoorTemp, 21.5, true},
		{"outdoor temp", "VMGI,215,104,456", fieldOutdoorTemp, 10.4, true},
		{"humidity", "VMGI,215,104,456", fieldHumidity, 45.6, true},
		{"negative outdoor", "VMGI,198,-35,612", fieldOutdoorTemp, -3.5, true},
		{"extra trailing fields", "VMGI,215,104,456,0,0,12", fieldHumidity, 45.6, true},
		{"spaces around fields", "VMGI, 215 ,104,456", fieldIndoorTemp, 21.5, true},
		{"wrong tag", "VMGO,215,104,456", fieldIndoorTemp, 0, false},
		{"too few fields", "VMGI,215,104", fieldHumidity, 0, false},
		{"too few fields keeps earlier", "VMGI,215,104", fieldOutdoorTemp, 10.4, true},
		{"non-numeric", "VMGI,abc,104,456", fieldIndoorTemp, 0, false},
		{"decimal not accepted", "VMGI,21.5,104,456", fieldIndoorTemp, 0, false},
		{"empty response", "", fieldIndoorTemp, 0, false},
		{"tag only", "VMGI", fieldIndoorTemp, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTenths(tt.resp, sensorsTag, tt.idx)
			if ok != tt.wantOK {
				t.Fatalf("parseTenths(%q, %d) ok = %v, want %v", tt.resp, tt.idx, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseTenths(%q, %d) = %v, want %v", tt.resp, tt.idx, got, tt.want)
			}
		})
	}
}

func TestParseOperatingStatus(t *testing.T) {
	tests := []struct {
		resp   string
		want   OperatingStatus
		wantOK bool
	}{
		{"VMGO,1,10", OperatingStatus{FanMode: ModeLow}, true},
		{"VMGO,2,10", OperatingStatus{FanMode: ModeMedium}, true},
		{"VMGO,3,0", OperatingStatus{FanMode: ModeHigh}, true},
		{"VMGO,4,0", OperatingStatus{FanMode: ModeHighest}, true},
		{"VMGO,5,10", OperatingStatus{Preset: ModeBoost}, true},
		{"VMGO,6,10", OperatingStatus{Preset: ModeNight}, true},
		{"VMGO,7,10", OperatingStatus{Preset: ModeCooling}, true},
		{"VMGO,8,10", OperatingStatus{}, false},
		{"VMGO,0,10", OperatingStatus{}, false},
		{"VMGO", OperatingStatus{}, false},
		{"VMGO,x,10", OperatingStatus{}, false},
		{"VMGI,5,10", OperatingStatus{}, false},
		{"OK", OperatingStatus{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.resp, func(t *testing.T) {
			got, ok := parseOperatingStatus(tt.resp)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("status = %+v, want %+v", got, tt.want)
			}
			if got.Preset != "" && got.FanMode != "" {
				t.Errorf("status %+v has both preset and fan mode", got)
			}
		})
	}
}

func TestParseLEDs(t *testing.T) {
	tests := []struct {
		resp   string
		want   bool
		wantOK bool
	}{
		{"VMGO,2,10", true, true},
		{"VMGO,2,0", false, true},
		{"VMGO,2,7", false, false},
		{"VMGO,2", false, false},
		{"VMGO,2,on", false, false},
		{"VMGI,2,10", false, false},
		// An unknown mode code does not affect the LED field.
		{"VMGO,9,10", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.resp, func(t *testing.T) {
			got, ok := parseLEDs(tt.resp)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseLEDs(%q) = (%v, %v), want (%v, %v)", tt.resp, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseName(t *testing.T) {
	tests := map[string]string{
		"VMNM Soggiorno":   "Soggiorno",
		"VMNM   Camera 2 ": "Camera 2",
		"Bagno":            "Bagno",
		"VMNM":             "",
	}
	for resp, want := range tests {
		if got := parseName(resp); got != want {
			t.Errorf("parseName(%q) = %q, want %q", resp, got, want)
		}
	}
}

func TestAccessors_AgainstDevice(t *testing.T) {
	dev := newFakeDevice(t)
	dev.respond(NameCommand, "VMNM Soggiorno\r\n")
	dev.respond(SensorsCommand, "VMGI,215,104,456\r\n")
	dev.respond(ConfigCommand, "VMGO,5,10\r\n")

	c := dev.client()
	ctx := context.Background()

	if !c.TestConnection(ctx) {
		t.Error("TestConnection() = false, want true")
	}
	if name, ok := c.QueryName(ctx); !ok || name != "Soggiorno" {
		t.Errorf("QueryName() = (%q, %v)", name, ok)
	}
	if v, ok := c.IndoorTemperature(ctx); !ok || v != 21.5 {
		t.Errorf("IndoorTemperature() = (%v, %v), want 21.5", v, ok)
	}
	if v, ok := c.OutdoorTemperature(ctx); !ok || v != 10.4 {
		t.Errorf("OutdoorTemperature() = (%v, %v), want 10.4", v, ok)
	}
	if v, ok := c.IndoorHumidity(ctx); !ok || v != 45.6 {
		t.Errorf("IndoorHumidity() = (%v, %v), want 45.6", v, ok)
	}
	if s, ok := c.OperatingStatus(ctx); !ok || s.Preset != ModeBoost || s.FanMode != "" {
		t.Errorf("OperatingStatus() = (%+v, %v), want boost preset", s, ok)
	}
	if on, ok := c.LEDsOn(ctx); !ok || !on {
		t.Errorf("LEDsOn() = (%v, %v), want (true, true)", on, ok)
	}
}

func TestAccessors_UnreachableDegradesToAbsent(t *testing.T) {
	dialer := &stubDialer{err: errors.New("connection refused")}
	c := New(Config{Host: "10.0.0.9", Timeout: time.Second}, WithDialer(dialer))
	ctx := context.Background()

	if c.TestConnection(ctx) {
		t.Error("TestConnection() = true")
	}
	if _, ok := c.QueryName(ctx); ok {
		t.Error("QueryName() ok")
	}
	if _, ok := c.IndoorTemperature(ctx); ok {
		t.Error("IndoorTemperature() ok")
	}
	if _, ok := c.OutdoorTemperature(ctx); ok {
		t.Error("OutdoorTemperature() ok")
	}
	if _, ok := c.IndoorHumidity(ctx); ok {
		t.Error("IndoorHumidity() ok")
	}
	if _, ok := c.OperatingStatus(ctx); ok {
		t.Error("OperatingStatus() ok")
	}
	if _, ok := c.LEDsOn(ctx); ok {
		t.Error("LEDsOn() ok")
	}
	if c.SetMode(ctx, ModeHigh) || c.TurnLEDsOn(ctx) || c.TurnLEDsOff(ctx) || c.ResetFilters(ctx) {
		t.Error("control operation reported success while unreachable")
	}
	if c.Online() {
		t.Error("Online() = true")
	}
}

func TestTestConnection_EmptyName(t *testing.T) {
	dev := newFakeDevice(t)
	dev.respond(NameCommand, "VMNM ")

	c := dev.client()
	if c.TestConnection(context.Background()) {
		t.Error("TestConnection() = true for empty name")
	}
}

func TestSetMode(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		response string
		wantCmd  Command
		want     bool
	}{
		{"off acknowledged", ModeOff, "OK", "VMWH0000000", true},
		{"low acknowledged", ModeLow, "OK", "VMWH0000001", true},
		{"highest acknowledged", ModeHighest, "OK\r\n", "VMWH0000004", true},
		{"boost acknowledged", ModeBoost, "OK", "VMWH0000005", true},
		{"cooling acknowledged", ModeCooling, "OK", "VMWH0000007", true},
		{"lower-case ok rejected", ModeNight, "ok", "VMWH0000006", false},
		{"error response", ModeMedium, "ERR", "VMWH0000002", false},
		{"empty response", ModeHigh, "", "VMWH0000003", false},
		{"unknown mode probes name", Mode("turbo"), "VMNM Soggiorno", NameCommand, false},
		{"percentage without level probes name", ModeForPercentage(30), "VMNM Soggiorno", NameCommand, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(t)
			if tt.response != "" {
				dev.respond(tt.wantCmd, tt.response)
			}

			c := dev.client()
			if got := c.SetMode(context.Background(), tt.mode); got != tt.want {
				t.Errorf("SetMode(%q) = %v, want %v", tt.mode, got, tt.want)
			}

			cmds := dev.commands()
			if len(cmds) != 1 || cmds[0] != tt.wantCmd {
				t.Errorf("device received %v, want [%s]", cmds, tt.wantCmd)
			}
		})
	}
}

func TestControlCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		call func(*Client, context.Context) bool
	}{
		{"leds on", LEDsOnCommand, (*Client).TurnLEDsOn},
		{"leds off", LEDsOffCommand, (*Client).TurnLEDsOff},
		{"reset filters", ResetFilterCommand, (*Client).ResetFilters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(t)
			c := dev.client()

			if tt.call(c, context.Background()) {
				t.Error("reported success without OK response")
			}

			dev.respond(tt.cmd, "OK")
			if !tt.call(c, context.Background()) {
				t.Error("reported failure despite OK response")
			}
		})
	}
}
