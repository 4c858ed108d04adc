package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/services/session-agent/internal/models"
	"chargelog/backend/services/session-agent/internal/recordstore"
)

type fakeAPI struct {
	mu        sync.Mutex
	energy    map[string]controllerapi.EnergyReading
	energyErr error
	points    map[string]controllerapi.ChargingPoint
	readers   map[string]string
	rfid      map[string]controllerapi.RFIDReading
	rfidCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		energy:  make(map[string]controllerapi.EnergyReading),
		points:  make(map[string]controllerapi.ChargingPoint),
		readers: make(map[string]string),
		rfid:    make(map[string]controllerapi.RFIDReading),
	}
}

// bind registers a charging point with an RFID reader for deviceUID.
func (f *fakeAPI) bind(deviceUID, pointID, readerUID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[deviceUID] = controllerapi.ChargingPoint{ID: pointID, Name: "Point " + pointID, ControllerUID: deviceUID}
	f.readers[pointID] = readerUID
}

func (f *fakeAPI) setEnergy(deviceUID string, wh int64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.energy[deviceUID] = controllerapi.EnergyReading{RealPowerWh: wh, Timestamp: ts}
}

func (f *fakeAPI) setRFID(readerUID, tag string, ts *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rfid[readerUID] = controllerapi.RFIDReading{Tag: tag, Timestamp: ts}
}

func (f *fakeAPI) Energy(_ context.Context, deviceUID string) (controllerapi.EnergyReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.energyErr != nil {
		return controllerapi.EnergyReading{}, f.energyErr
	}
	reading, ok := f.energy[deviceUID]
	if !ok {
		return controllerapi.EnergyReading{}, controllerapi.ErrUnexpectedStatus
	}
	return reading, nil
}

func (f *fakeAPI) RFID(_ context.Context, readerUID string) (controllerapi.RFIDReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rfidCalls++
	return f.rfid[readerUID], nil
}

func (f *fakeAPI) FindChargingPoint(_ context.Context, deviceUID string) (controllerapi.ChargingPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	point, ok := f.points[deviceUID]
	if !ok {
		return controllerapi.ChargingPoint{}, controllerapi.ErrPointNotFound
	}
	return point, nil
}

func (f *fakeAPI) PointConfig(_ context.Context, pointID string) (controllerapi.PointConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return controllerapi.PointConfig{RFIDReaderDeviceUID: f.readers[pointID]}, nil
}

type fakeStates struct {
	mu     sync.Mutex
	states map[string]models.State
	sets   int
	setErr error
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]models.State)}
}

func (f *fakeStates) Get(_ context.Context, deviceUID string) (models.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[deviceUID]
	if !ok {
		return models.StateUnknown, nil
	}
	return state, nil
}

func (f *fakeStates) Set(_ context.Context, deviceUID string, state models.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	f.states[deviceUID] = state
	return nil
}

func (f *fakeStates) get(deviceUID string) models.State {
	state, _ := f.Get(context.Background(), deviceUID)
	return state
}

type fakeRecords struct {
	mu        sync.Mutex
	sessions  []models.Session
	appends   int
	rewrites  int
	appendErr error
}

func (f *fakeRecords) AppendNext(_ context.Context, session models.Session) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	var highest int64
	for _, s := range f.sessions {
		if s.ID > highest {
			highest = s.ID
		}
	}
	session.ID = highest + 1
	f.appends++
	f.sessions = append(f.sessions, session)
	return session.ID, nil
}

func (f *fakeRecords) FindOpenSession(_ context.Context, deviceUID string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		found models.Session
		ok    bool
	)
	for _, s := range f.sessions {
		if s.DeviceUID == deviceUID && s.IsOpen() && (!ok || s.ID > found.ID) {
			found, ok = s, true
		}
	}
	if !ok {
		return models.Session{}, recordstore.ErrNotFound
	}
	return found, nil
}

func (f *fakeRecords) Rewrite(_ context.Context, session models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if f.sessions[i].ID == session.ID {
			f.sessions[i] = session
			f.rewrites++
			return nil
		}
	}
	return recordstore.ErrNotFound
}

func (f *fakeRecords) List(_ context.Context, filter recordstore.Filter) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if filter.OpenOnly && !s.IsOpen() {
			continue
		}
		if filter.DeviceUID != "" && s.DeviceUID != filter.DeviceUID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRecords) byID(id int64) (models.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return models.Session{}, false
}

type fakeForwarder struct {
	mu        sync.Mutex
	forwarded []models.Session
	err       error
}

func (f *fakeForwarder) Forward(_ context.Context, session models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, session)
	return f.err
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forwarded)
}

var errBoom = errors.New("boom")
