package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/services/session-agent/internal/models"
	"chargelog/backend/services/session-agent/internal/recordstore"
	"chargelog/backend/services/session-agent/internal/rfid"
)

var (
	// ErrFetch marks events aborted because controller data could not be read.
	ErrFetch = errors.New("fetch controller data")
	// ErrStore marks events dropped because a store read or write failed.
	ErrStore = errors.New("store failure")
	// ErrInconsistent marks open sessions that cannot be closed without writing corrupt data.
	ErrInconsistent = errors.New("inconsistent session data")
)

// Reconciler turns connection-state events into session records.
type Reconciler struct {
	api       ControllerAPI
	states    StateStore
	records   RecordStore
	forwarder Forwarder
	logger    *zap.Logger
}

type readings struct {
	energy    controllerapi.EnergyReading
	pointName string
	pairing   *models.RFIDPairing
}

// NewReconciler builds the reconciler. forwarder may be nil.
func NewReconciler(api ControllerAPI, states StateStore, records RecordStore, forwarder Forwarder, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		api:       api,
		states:    states,
		records:   records,
		forwarder: forwarder,
		logger:    logger.Named("reconciler"),
	}
}

// Handle processes a single event. Events of one device must not be handled concurrently.
func (r *Reconciler) Handle(ctx context.Context, ev models.Event) error {
	logger := r.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("device_uid", ev.DeviceUID),
		zap.String("raw_state", ev.RawState),
	)
	state := models.Classify(ev.RawState)

	data, err := r.fetch(ctx, ev.DeviceUID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}

	last, err := r.states.Get(ctx, ev.DeviceUID)
	if err != nil {
		return fmt.Errorf("%w: read state: %v", ErrStore, err)
	}

	if state == models.StateConnected {
		return r.open(ctx, logger, ev.DeviceUID, last, data)
	}
	return r.close(ctx, logger, ev.DeviceUID, data)
}

func (r *Reconciler) fetch(ctx context.Context, deviceUID string) (readings, error) {
	energy, err := r.api.Energy(ctx, deviceUID)
	if err != nil {
		return readings{}, fmt.Errorf("energy: %w", err)
	}
	point, err := r.api.FindChargingPoint(ctx, deviceUID)
	if err != nil {
		return readings{}, fmt.Errorf("charging point: %w", err)
	}
	cfg, err := r.api.PointConfig(ctx, point.ID)
	if err != nil {
		return readings{}, fmt.Errorf("point config %s: %w", point.ID, err)
	}

	out := readings{energy: energy, pointName: point.Name}
	if cfg.RFIDReaderDeviceUID == "" {
		return out, nil
	}
	read, err := r.api.RFID(ctx, cfg.RFIDReaderDeviceUID)
	if err != nil {
		return readings{}, fmt.Errorf("rfid %s: %w", cfg.RFIDReaderDeviceUID, err)
	}
	out.pairing = rfid.Correlate(read, energy)
	return out, nil
}

func (r *Reconciler) open(ctx context.Context, logger *zap.Logger, deviceUID string, last models.State, data readings) error {
	if last == models.StateConnected {
		logger.Debug("repeated connected event ignored")
		return nil
	}

	session := models.Session{
		DeviceUID:         deviceUID,
		ChargingPointName: data.pointName,
		RFID:              data.pairing,
		StartRealPowerWh:  models.Int64(data.energy.RealPowerWh),
		StartTimestamp:    models.Time(data.energy.Timestamp),
	}
	id, err := r.records.AppendNext(ctx, session)
	if err != nil {
		return fmt.Errorf("%w: append session: %v", ErrStore, err)
	}
	session.ID = id
	r.forward(ctx, logger, session)

	if err := r.states.Set(ctx, deviceUID, models.StateConnected); err != nil {
		return fmt.Errorf("%w: set connected: %v", ErrStore, err)
	}
	logger.Info("charging session opened",
		zap.Int64("session_id", session.ID),
		zap.Int64("start_wh", data.energy.RealPowerWh),
		zap.Bool("rfid", session.RFID != nil),
	)
	return nil
}

func (r *Reconciler) close(ctx context.Context, logger *zap.Logger, deviceUID string, data readings) error {
	if err := r.states.Set(ctx, deviceUID, models.StateDisconnected); err != nil {
		return fmt.Errorf("%w: set disconnected: %v", ErrStore, err)
	}

	session, err := r.records.FindOpenSession(ctx, deviceUID)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			logger.Debug("disconnect without open session")
			return nil
		}
		return fmt.Errorf("%w: find open session: %v", ErrStore, err)
	}
	if session.StartTimestamp == nil || session.StartRealPowerWh == nil {
		return fmt.Errorf("%w: session %d lacks start fields", ErrInconsistent, session.ID)
	}

	end := data.energy.Timestamp
	duration := end.Sub(*session.StartTimestamp)
	consumption := data.energy.RealPowerWh - *session.StartRealPowerWh

	if session.RFID == nil && data.pairing != nil {
		session.RFID = data.pairing
	}
	session.EndRealPowerWh = models.Int64(data.energy.RealPowerWh)
	session.ConsumptionWh = models.Int64(consumption)
	session.EndTimestamp = models.Time(end)
	session.Duration = &duration

	if err := r.records.Rewrite(ctx, session); err != nil {
		return fmt.Errorf("%w: rewrite session %d: %v", ErrStore, session.ID, err)
	}
	r.forward(ctx, logger, session)

	logger.Info("charging session closed",
		zap.Int64("session_id", session.ID),
		zap.Int64("consumption_wh", consumption),
		zap.Duration("duration", duration),
	)
	return nil
}

func (r *Reconciler) forward(ctx context.Context, logger *zap.Logger, session models.Session) {
	if r.forwarder == nil {
		return
	}
	if err := r.forwarder.Forward(ctx, session); err != nil {
		logger.Warn("session forward failed", zap.Int64("session_id", session.ID), zap.Error(err))
	}
}

// Recover marks devices with an open session as connected so a redelivered connected event
// does not open a second session after a crash between append and state write.
func (r *Reconciler) Recover(ctx context.Context) error {
	open, err := r.records.List(ctx, recordstore.Filter{OpenOnly: true, Limit: 1 << 20})
	if err != nil {
		return fmt.Errorf("%w: list open sessions: %v", ErrStore, err)
	}
	seen := make(map[string]struct{}, len(open))
	for _, session := range open {
		if _, ok := seen[session.DeviceUID]; ok {
			continue
		}
		seen[session.DeviceUID] = struct{}{}

		state, err := r.states.Get(ctx, session.DeviceUID)
		if err != nil {
			return fmt.Errorf("%w: read state %s: %v", ErrStore, session.DeviceUID, err)
		}
		if state == models.StateConnected {
			continue
		}
		if err := r.states.Set(ctx, session.DeviceUID, models.StateConnected); err != nil {
			return fmt.Errorf("%w: set connected %s: %v", ErrStore, session.DeviceUID, err)
		}
		r.logger.Warn("open session without connected state, state restored",
			zap.String("device_uid", session.DeviceUID),
			zap.Int64("session_id", session.ID),
			zap.String("previous_state", state.String()),
		)
	}
	return nil
}
