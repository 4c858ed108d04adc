package service

import (
	"context"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/services/session-agent/internal/models"
	"chargelog/backend/services/session-agent/internal/recordstore"
)

// ControllerAPI is the subset of the controller REST client used during reconciliation.
type ControllerAPI interface {
	Energy(ctx context.Context, deviceUID string) (controllerapi.EnergyReading, error)
	RFID(ctx context.Context, readerUID string) (controllerapi.RFIDReading, error)
	FindChargingPoint(ctx context.Context, deviceUID string) (controllerapi.ChargingPoint, error)
	PointConfig(ctx context.Context, pointID string) (controllerapi.PointConfig, error)
}

// StateStore persists the last known connection state per device.
type StateStore interface {
	Get(ctx context.Context, deviceUID string) (models.State, error)
	Set(ctx context.Context, deviceUID string, state models.State) error
}

// RecordStore persists charging sessions. AppendNext picks the id and writes the row
// atomically, since devices are reconciled concurrently.
type RecordStore interface {
	AppendNext(ctx context.Context, session models.Session) (int64, error)
	FindOpenSession(ctx context.Context, deviceUID string) (models.Session, error)
	Rewrite(ctx context.Context, session models.Session) error
	List(ctx context.Context, filter recordstore.Filter) ([]models.Session, error)
}

// Forwarder ships written sessions to remote sinks.
type Forwarder interface {
	Forward(ctx context.Context, session models.Session) error
}
