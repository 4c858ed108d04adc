package models

import "time"

// Snapshot maps controller device uid to its collected data. It is the document written to
// controller_data.json and posted to the fleet backend.
type Snapshot map[string]ControllerSnapshot

// ControllerSnapshot describes one charging controller at collection time.
type ControllerSnapshot struct {
	DeviceName        interface{}  `json:"device_name"`
	ControllerUID     interface{}  `json:"controller_uid"`
	FirmwareVersion   interface{}  `json:"firmware_version"`
	HardwareVersion   interface{}  `json:"hardware_version"`
	ParentDeviceUID   interface{}  `json:"parent_device_uid"`
	Position          interface{}  `json:"position"`
	ChargingPointID   string       `json:"charging_point_id"`
	ChargingPointName string       `json:"charging_point_name"`
	ChargingData      ChargingData `json:"charging_data"`
}

// ChargingData is the raw energy object of the controller extended with state and timers.
type ChargingData map[string]interface{}

// Keys added on top of the energy object.
const (
	KeyIECState         = "iec_61851_state"
	KeyConnectedState   = "connected_state"
	KeyConnectedTimeSec = "connected_time_sec"
	KeyChargeTimeSec    = "charge_time_sec"
)

// Connected state values.
const (
	Connected    = "connected"
	Disconnected = "disconnected"
)

// RealPowerWh returns energy_real_power.value when present.
func (d ChargingData) RealPowerWh() (float64, bool) {
	power, ok := d["energy_real_power"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	return number(power["value"])
}

// Seconds returns a numeric timer field such as connected_time_sec.
func (d ChargingData) Seconds(key string) (float64, bool) {
	return number(d[key])
}

// String returns a string field or "".
func (d ChargingData) String(key string) string {
	s, _ := d[key].(string)
	return s
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Collection is a snapshot with the time it was taken.
type Collection struct {
	TakenAt  time.Time
	Snapshot Snapshot
}
