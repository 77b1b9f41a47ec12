package cmv

import (
	"context"
	"strconv"
	"strings"
)

// Sensor field positions in a VMGI response.
const (
	fieldIndoorTemp  = 1
	fieldOutdoorTemp = 2
	fieldHumidity    = 3
	fieldModeCode    = 1
	fieldLEDCode     = 2
)

// TestConnection queries the device name and reports whether a
// non-empty name came back.
func (c *Client) TestConnection(ctx context.Context) bool {
	name, ok := c.QueryName(ctx)
	return ok && name != ""
}

// QueryName returns the name the unit reports for itself.
func (c *Client) QueryName(ctx context.Context) (string, bool) {
	resp, err := c.ExecuteCommand(ctx, NameCommand)
	if err != nil {
		return "", false
	}
	return parseName(resp), true
}

// IndoorTemperature returns the indoor air temperature in °C.
func (c *Client) IndoorTemperature(ctx context.Context) (float64, bool) {
	return c.sensorField(ctx, fieldIndoorTemp)
}

// OutdoorTemperature returns the outdoor air temperature in °C.
func (c *Client) OutdoorTemperature(ctx context.Context) (float64, bool) {
	return c.sensorField(ctx, fieldOutdoorTemp)
}

// IndoorHumidity returns the indoor relative humidity in percent.
func (c *Client) IndoorHumidity(ctx context.Context) (float64, bool) {
	return c.sensorField(ctx, fieldHumidity)
}

func (c *Client) sensorField(ctx context.Context, idx int) (float64, bool) {
	resp, err := c.ExecuteCommand(ctx, SensorsCommand)
	if err != nil {
		c.logger.Debug("sensor query failed", "device_id", c.id, "error", err)
		return 0, false
	}
	return parseTenths(resp, sensorsTag, idx)
}

// OperatingStatus returns the active fan level or preset.
func (c *Client) OperatingStatus(ctx context.Context) (OperatingStatus, bool) {
	resp, err := c.ExecuteCommand(ctx, ConfigCommand)
	if err != nil {
		c.logger.Debug("status query failed", "device_id", c.id, "error", err)
		return OperatingStatus{}, false
	}
	return parseOperatingStatus(resp)
}

// LEDsOn reports whether the panel LEDs are lit.
func (c *Client) LEDsOn(ctx context.Context) (bool, bool) {
	resp, err := c.ExecuteCommand(ctx, ConfigCommand)
	if err != nil {
		return false, false
	}
	return parseLEDs(resp)
}

// SetMode switches the operating mode and reports whether the device
// acknowledged. An unrecognised mode sends the name query instead.
func (c *Client) SetMode(ctx context.Context, m Mode) bool {
	if !m.Valid() {
		c.logger.Debug("unrecognised mode, sending name probe", "device_id", c.id, "mode", string(m))
	}
	return c.acknowledge(ctx, m.Command())
}

// TurnLEDsOn lights the panel LEDs.
func (c *Client) TurnLEDsOn(ctx context.Context) bool {
	return c.acknowledge(ctx, LEDsOnCommand)
}

// TurnLEDsOff switches the panel LEDs off.
func (c *Client) TurnLEDsOff(ctx context.Context) bool {
	return c.acknowledge(ctx, LEDsOffCommand)
}

// ResetFilters clears the filter maintenance counter.
func (c *Client) ResetFilters(ctx context.Context) bool {
	return c.acknowledge(ctx, ResetFilterCommand)
}

// acknowledge sends cmd and reports whether the response is exactly "OK".
func (c *Client) acknowledge(ctx context.Context, cmd Command) bool {
	resp, err := c.ExecuteCommand(ctx, cmd)
	if err != nil {
		return false
	}
	return resp == ackOK
}

func parseName(resp string) string {
	return strings.TrimSpace(strings.TrimPrefix(resp, namePrefix))
}

// splitTagged splits a comma-separated response and checks its tag.
func splitTagged(resp, tag string) ([]string, bool) {
	fields := strings.Split(strings.TrimSpace(resp), ",")
	if fields[0] != tag {
		return nil, false
	}
	return fields, true
}

// fieldInt parses fields[idx] as an integer.
func fieldInt(fields []string, idx int) (int, bool) {
	if idx >= len(fields) {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(fields[idx]))
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseTenths reads an integer field reported in tenths of a unit.
func parseTenths(resp, tag string, idx int) (float64, bool) {
	fields, ok := splitTagged(resp, tag)
	if !ok {
		return 0, false
	}
	v, ok := fieldInt(fields, idx)
	if !ok {
		return 0, false
	}
	return float64(v) / fieldDivisor, true
}

// parseOperatingStatus decodes the mode code of a VMGO response. Unknown
// codes yield no status at all.
func parseOperatingStatus(resp string) (OperatingStatus, bool) {
	fields, ok := splitTagged(resp, configTag)
	if !ok {
		return OperatingStatus{}, false
	}
	code, ok := fieldInt(fields, fieldModeCode)
	if !ok {
		return OperatingStatus{}, false
	}
	mode, ok := statusCodes[code]
	if !ok {
		return OperatingStatus{}, false
	}
	return statusForMode(mode), true
}

// parseLEDs decodes the LED code of a VMGO response: 10 on, 0 off.
func parseLEDs(resp string) (bool, bool) {
	fields, ok := splitTagged(resp, configTag)
	if !ok {
		return false, false
	}
	code, ok := fieldInt(fields, fieldLEDCode)
	if !ok {
		return false, false
	}
	switch code {
	case ledCodeOn:
		return true, true
	case ledCodeOff:
		return false, true
	default:
		return false, false
	}
}
