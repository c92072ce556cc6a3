package ihost

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DeviceState is the value pair the hub renders for the CloudLink device.
type DeviceState struct {
	// Battery is the state of charge percent, -1 when unknown.
	Battery int
	// ElectricPower is the grid power in watts, 0 when unknown.
	ElectricPower int
}

// statePayload returns the capability-keyed shape the hub expects.
func (s DeviceState) statePayload() map[string]interface{} {
	return map[string]interface{}{
		"battery":        map[string]int{"battery": s.Battery},
		"electric-power": map[string]int{"electric-power": s.ElectricPower},
	}
}

// StateFromKeys maps a telemetry snapshot onto the reported device state.
func StateFromKeys(keys map[string]interface{}) DeviceState {
	return DeviceState{
		Battery:       BatteryLevel(keys),
		ElectricPower: ElectricPower(keys),
	}
}

// BatteryLevel returns the state of charge percent from Sys_SOC, or -1 when
// the key is missing or unparseable.
func BatteryLevel(keys map[string]interface{}) int {
	n, ok := keyInt(keys["Sys_SOC"])
	if !ok {
		return -1
	}
	return n
}

// ElectricPower returns the grid power in watts from Sys_P_Grid (delivered in
// hundreds of watts), or 0 when the key is missing or unparseable.
func ElectricPower(keys map[string]interface{}) int {
	n, ok := keyInt(keys["Sys_P_Grid"])
	if !ok {
		return 0
	}
	return n * 100
}

// keyInt coerces a snapshot value to an int. The portal delivers numbers as
// strings, floats or json.Number depending on the frame shape.
func keyInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}
