package models

import (
	"time"

	"chargelog/backend/libs/controllerapi"
)

// Event is one connection-state message from a charging controller.
type Event struct {
	ID         string
	DeviceUID  string
	RawState   string
	ReceivedAt time.Time
}

// Classify maps a raw IEC 61851 state code to Connected or Disconnected.
func Classify(raw string) State {
	if controllerapi.VehicleConnected(raw) {
		return StateConnected
	}
	return StateDisconnected
}
