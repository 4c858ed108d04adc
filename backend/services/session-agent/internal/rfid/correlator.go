package rfid

import (
	"time"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/services/session-agent/internal/models"
)

// ProximityWindow is the largest distance between a badge read and an energy reading for the
// two to be attributed to the same session.
const ProximityWindow = 60 * time.Second

// Correlate returns the pairing for read when it happened within ProximityWindow of the
// energy reading, in either direction. A read without tag or timestamp never pairs.
func Correlate(read controllerapi.RFIDReading, energy controllerapi.EnergyReading) *models.RFIDPairing {
	if !read.Present() {
		return nil
	}
	diff := read.Timestamp.Sub(energy.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	if diff > ProximityWindow {
		return nil
	}
	return &models.RFIDPairing{Tag: read.Tag, Timestamp: *read.Timestamp}
}
