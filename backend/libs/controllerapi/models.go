package controllerapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// EnergyReading is the meter snapshot of a charging controller.
type EnergyReading struct {
	Timestamp   time.Time
	RealPowerWh int64
}

// RFIDReading is the last badge read seen by an RFID reader. Timestamp is nil when the
// controller reports no read.
type RFIDReading struct {
	Tag       string
	Timestamp *time.Time
}

// Present reports whether the reading carries a usable tag and timestamp.
func (r RFIDReading) Present() bool {
	return r.Timestamp != nil && strings.TrimSpace(r.Tag) != ""
}

// ChargingPoint is a logical charging location bound to one controller.
type ChargingPoint struct {
	ID            string
	Name          string
	ControllerUID string
}

// PointConfig is the configuration of a charging point. Raw keeps every field so the
// settings sync can forward it untouched.
type PointConfig struct {
	RFIDReaderDeviceUID string
	Raw                 map[string]any
}

// Controller describes a charging controller as listed by the controller API. Fields holds
// the raw attributes (device_name, firmware_version, position, ...).
type Controller struct {
	DeviceUID string
	Fields    map[string]any
}

// Field returns a raw attribute or nil.
func (c Controller) Field(name string) any {
	if c.Fields == nil {
		return nil
	}
	return c.Fields[name]
}

type energyResponse struct {
	Energy *struct {
		Timestamp       string `json:"timestamp"`
		EnergyRealPower *struct {
			Value *float64 `json:"value"`
		} `json:"energy_real_power"`
	} `json:"energy"`
}

func (r energyResponse) reading() (EnergyReading, error) {
	if r.Energy == nil {
		return EnergyReading{}, fmt.Errorf("%w: missing energy object", ErrMalformedBody)
	}
	if r.Energy.EnergyRealPower == nil || r.Energy.EnergyRealPower.Value == nil {
		return EnergyReading{}, fmt.Errorf("%w: missing energy_real_power.value", ErrMalformedBody)
	}
	ts, err := ParseTimestamp(r.Energy.Timestamp)
	if err != nil {
		return EnergyReading{}, fmt.Errorf("%w: energy timestamp: %v", ErrMalformedBody, err)
	}
	return EnergyReading{
		Timestamp:   ts,
		RealPowerWh: int64(math.Round(*r.Energy.EnergyRealPower.Value)),
	}, nil
}

type rfidResponse struct {
	RFID *struct {
		Tag       string `json:"tag"`
		Timestamp string `json:"timestamp"`
	} `json:"rfid"`
}

func (r rfidResponse) reading() (RFIDReading, error) {
	if r.RFID == nil {
		return RFIDReading{}, fmt.Errorf("%w: missing rfid object", ErrMalformedBody)
	}
	reading := RFIDReading{Tag: strings.TrimSpace(r.RFID.Tag)}
	if strings.TrimSpace(r.RFID.Timestamp) == "" {
		return reading, nil
	}
	ts, err := ParseTimestamp(r.RFID.Timestamp)
	if err != nil {
		return RFIDReading{}, fmt.Errorf("%w: rfid timestamp: %v", ErrMalformedBody, err)
	}
	reading.Timestamp = &ts
	return reading, nil
}

type chargingPointsResponse struct {
	ChargingPoints map[string]struct {
		ID            flexString `json:"id"`
		Name          string     `json:"charging_point_name"`
		ControllerUID string     `json:"charging_controller_device_uid"`
	} `json:"charging_points"`
}

// flexString accepts JSON strings and numbers; point ids come as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
