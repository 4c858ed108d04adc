package models

import (
	"encoding/json"
	"time"
)

// Columns is the persisted field order of a charging session.
var Columns = []string{
	"id",
	"deviceUid",
	"chargingPointName",
	"rfidTag",
	"rfidTimestamp",
	"startRealPowerWh",
	"endRealPowerWh",
	"consumptionWh",
	"startTimestamp",
	"endTimestamp",
	"duration",
}

// RFIDPairing binds a badge read to a session. Tag and timestamp are always set together.
type RFIDPairing struct {
	Tag       string
	Timestamp time.Time
}

// Session represents a charging session. End fields stay nil while the session is open.
// Start fields are pointers because rows read back from disk may carry unparsable values.
type Session struct {
	ID                int64
	DeviceUID         string
	ChargingPointName string
	RFID              *RFIDPairing
	StartRealPowerWh  *int64
	EndRealPowerWh    *int64
	ConsumptionWh     *int64
	StartTimestamp    *time.Time
	EndTimestamp      *time.Time
	Duration          *time.Duration
}

// IsOpen reports whether the session has not been closed yet.
func (s Session) IsOpen() bool {
	return s.EndTimestamp == nil
}

// SessionPayload is the wire form of a session, shared by every sink.
type SessionPayload struct {
	ID                int64   `json:"id"`
	DeviceUID         string  `json:"deviceUid"`
	ChargingPointName string  `json:"chargingPointName"`
	RFIDTag           *string `json:"rfidTag"`
	RFIDTimestamp     *string `json:"rfidTimestamp"`
	StartRealPowerWh  *int64  `json:"startRealPowerWh"`
	EndRealPowerWh    *int64  `json:"endRealPowerWh"`
	ConsumptionWh     *int64  `json:"consumptionWh"`
	StartTimestamp    *string `json:"startTimestamp"`
	EndTimestamp      *string `json:"endTimestamp"`
	Duration          *string `json:"duration"`
}

// Payload converts the session into its wire form.
func (s Session) Payload() SessionPayload {
	p := SessionPayload{
		ID:                s.ID,
		DeviceUID:         s.DeviceUID,
		ChargingPointName: s.ChargingPointName,
		StartRealPowerWh:  s.StartRealPowerWh,
		EndRealPowerWh:    s.EndRealPowerWh,
		ConsumptionWh:     s.ConsumptionWh,
		StartTimestamp:    formatTime(s.StartTimestamp),
		EndTimestamp:      formatTime(s.EndTimestamp),
	}
	if s.RFID != nil {
		tag := s.RFID.Tag
		p.RFIDTag = &tag
		if !s.RFID.Timestamp.IsZero() {
			p.RFIDTimestamp = formatTime(&s.RFID.Timestamp)
		}
	}
	if s.Duration != nil {
		d := FormatDuration(*s.Duration)
		p.Duration = &d
	}
	return p
}

// MarshalJSON encodes the session as its payload.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Payload())
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// Time returns a pointer to t.
func Time(t time.Time) *time.Time {
	return &t
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTimestamp(*t)
	return &s
}
