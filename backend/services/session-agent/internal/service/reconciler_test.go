package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/services/session-agent/internal/forward"
	"chargelog/backend/services/session-agent/internal/models"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	api       *fakeAPI
	states    *fakeStates
	records   *fakeRecords
	forwarder *fakeForwarder
	rec       *Reconciler
}

func newHarness() *harness {
	h := &harness{
		api:       newFakeAPI(),
		states:    newFakeStates(),
		records:   &fakeRecords{},
		forwarder: &fakeForwarder{},
	}
	h.api.bind("ctrl-1", "1", "reader-1")
	h.rec = NewReconciler(h.api, h.states, h.records, h.forwarder, zap.NewNop())
	return h
}

func (h *harness) event(t *testing.T, raw string) error {
	t.Helper()
	return h.rec.Handle(context.Background(), models.Event{ID: "ev", DeviceUID: "ctrl-1", RawState: raw})
}

func ts(offset time.Duration) *time.Time {
	t := t0.Add(offset)
	return &t
}

func TestRepeatedConnectedIsNoop(t *testing.T) {
	h := newHarness()
	h.states.states["ctrl-1"] = models.StateConnected
	h.api.setEnergy("ctrl-1", 1000, t0)

	if err := h.event(t, "C2"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.records.appends != 0 || h.records.rewrites != 0 || h.states.sets != 0 {
		t.Fatalf("expected no mutations, got appends=%d rewrites=%d sets=%d",
			h.records.appends, h.records.rewrites, h.states.sets)
	}
	if h.forwarder.count() != 0 {
		t.Fatalf("expected nothing forwarded")
	}
}

func TestConnectThenDisconnectPairsSession(t *testing.T) {
	h := newHarness()
	h.api.setEnergy("ctrl-1", 1000, t0)
	if err := h.event(t, "B1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := h.states.get("ctrl-1"); got != models.StateConnected {
		t.Fatalf("expected connected state, got %s", got)
	}

	h.api.setEnergy("ctrl-1", 4500, t0.Add(90*time.Minute))
	if err := h.event(t, "A1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := h.states.get("ctrl-1"); got != models.StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", got)
	}

	if h.records.appends != 1 || h.records.rewrites != 1 {
		t.Fatalf("expected one append and one rewrite, got %d/%d", h.records.appends, h.records.rewrites)
	}
	s, ok := h.records.byID(1)
	if !ok {
		t.Fatalf("session 1 missing")
	}
	if s.ChargingPointName != "Point 1" {
		t.Fatalf("unexpected point name %q", s.ChargingPointName)
	}
	if *s.StartRealPowerWh != 1000 || *s.EndRealPowerWh != 4500 || *s.ConsumptionWh != 3500 {
		t.Fatalf("unexpected energy fields %+v", s)
	}
	if !s.StartTimestamp.Equal(t0) || !s.EndTimestamp.Equal(t0.Add(90*time.Minute)) {
		t.Fatalf("unexpected timestamps %+v", s)
	}
	if *s.Duration != 90*time.Minute {
		t.Fatalf("unexpected duration %s", *s.Duration)
	}
	if h.forwarder.count() != 2 {
		t.Fatalf("expected open and close forwarded, got %d", h.forwarder.count())
	}
}

func TestRFIDProximityRule(t *testing.T) {
	tests := []struct {
		name   string
		energy time.Duration
		paired bool
	}{
		{name: "59s keeps pairing", energy: 59 * time.Second, paired: true},
		{name: "61s drops pairing", energy: 61 * time.Second, paired: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.api.setRFID("reader-1", "04A1", ts(0))
			h.api.setEnergy("ctrl-1", 10, t0.Add(tt.energy))
			if err := h.event(t, "C1"); err != nil {
				t.Fatalf("connect: %v", err)
			}
			s, _ := h.records.byID(1)
			if (s.RFID != nil) != tt.paired {
				t.Fatalf("paired = %v, want %v", s.RFID != nil, tt.paired)
			}
			if tt.paired && (s.RFID.Tag != "04A1" || !s.RFID.Timestamp.Equal(t0)) {
				t.Fatalf("unexpected pairing %+v", s.RFID)
			}
		})
	}
}

func TestLateRFIDIsAdoptedAtClose(t *testing.T) {
	h := newHarness()
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "C2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s, _ := h.records.byID(1); s.RFID != nil {
		t.Fatalf("expected no pairing at open")
	}

	h.api.setEnergy("ctrl-1", 20, t0.Add(time.Hour))
	h.api.setRFID("reader-1", "LATE", ts(time.Hour-30*time.Second))
	if err := h.event(t, "A2"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	s, _ := h.records.byID(1)
	if s.RFID == nil || s.RFID.Tag != "LATE" {
		t.Fatalf("expected late pairing adopted, got %+v", s.RFID)
	}
}

func TestExistingRFIDIsKeptAtClose(t *testing.T) {
	h := newHarness()
	h.api.setRFID("reader-1", "FIRST", ts(-5*time.Second))
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "C2"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	h.api.setEnergy("ctrl-1", 20, t0.Add(time.Hour))
	h.api.setRFID("reader-1", "SECOND", ts(time.Hour))
	if err := h.event(t, "A2"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	s, _ := h.records.byID(1)
	if s.RFID == nil || s.RFID.Tag != "FIRST" || !s.RFID.Timestamp.Equal(t0.Add(-5*time.Second)) {
		t.Fatalf("expected original pairing kept, got %+v", s.RFID)
	}
}

func TestIDsFollowHighestID(t *testing.T) {
	h := newHarness()
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "C2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, ok := h.records.byID(1); !ok {
		t.Fatalf("expected first session id 1")
	}

	h2 := newHarness()
	for _, id := range []int64{1, 3, 4} {
		end := t0
		h2.records.sessions = append(h2.records.sessions, models.Session{
			ID:             id,
			DeviceUID:      "ctrl-1",
			StartTimestamp: models.Time(t0),
			EndTimestamp:   &end,
		})
	}
	h2.api.setEnergy("ctrl-1", 10, t0)
	if err := h2.event(t, "C2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, ok := h2.records.byID(5); !ok {
		t.Fatalf("expected next id 5")
	}
}

func TestDisconnectWithoutOpenSessionOnlyTouchesState(t *testing.T) {
	h := newHarness()
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "A1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if h.records.appends != 0 || h.records.rewrites != 0 {
		t.Fatalf("expected no record mutations")
	}
	if h.states.sets != 1 || h.states.get("ctrl-1") != models.StateDisconnected {
		t.Fatalf("expected single state write, got %d", h.states.sets)
	}
	if h.forwarder.count() != 0 {
		t.Fatalf("expected nothing forwarded")
	}
}

func TestEnergyFailureAbortsWithoutWrites(t *testing.T) {
	for _, raw := range []string{"C2", "A1"} {
		h := newHarness()
		h.api.energyErr = controllerapi.ErrUnexpectedStatus
		err := h.event(t, raw)
		if !errors.Is(err, ErrFetch) {
			t.Fatalf("expected ErrFetch for %s, got %v", raw, err)
		}
		if h.states.sets != 0 || h.records.appends != 0 || h.records.rewrites != 0 {
			t.Fatalf("expected no mutations for %s", raw)
		}
	}
}

func TestMissingChargingPointAborts(t *testing.T) {
	h := newHarness()
	h.api.setEnergy("ctrl-2", 10, t0)
	err := h.rec.Handle(context.Background(), models.Event{ID: "ev", DeviceUID: "ctrl-2", RawState: "C2"})
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if h.states.sets != 0 || h.records.appends != 0 {
		t.Fatalf("expected no mutations")
	}
}

func TestPointWithoutReaderSkipsRFID(t *testing.T) {
	h := newHarness()
	h.api.bind("ctrl-1", "1", "")
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "C2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.api.rfidCalls != 0 {
		t.Fatalf("expected no rfid call, got %d", h.api.rfidCalls)
	}
	if s, _ := h.records.byID(1); s.RFID != nil {
		t.Fatalf("expected no pairing")
	}
}

func TestForwardFailureDoesNotAbort(t *testing.T) {
	h := newHarness()
	h.forwarder.err = errBoom
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "C2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.states.get("ctrl-1") != models.StateConnected {
		t.Fatalf("expected state written despite forward failure")
	}
}

func TestAppendFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness()
	h.records.appendErr = errBoom
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "C2"); !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if h.states.sets != 0 {
		t.Fatalf("expected no state write after failed append")
	}
	if h.forwarder.count() != 0 {
		t.Fatalf("expected nothing forwarded")
	}
}

func TestCloseWithMissingStartIsInconsistent(t *testing.T) {
	h := newHarness()
	h.records.sessions = []models.Session{{ID: 2, DeviceUID: "ctrl-1"}}
	h.api.setEnergy("ctrl-1", 10, t0)
	if err := h.event(t, "A1"); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	if h.records.rewrites != 0 {
		t.Fatalf("expected no rewrite")
	}
}

func TestRecoverRestoresConnectedState(t *testing.T) {
	h := newHarness()
	h.records.sessions = []models.Session{
		{ID: 1, DeviceUID: "ctrl-1", StartTimestamp: models.Time(t0), StartRealPowerWh: models.Int64(1)},
		{ID: 2, DeviceUID: "ctrl-2", StartTimestamp: models.Time(t0), StartRealPowerWh: models.Int64(1)},
	}
	h.states.states["ctrl-1"] = models.StateDisconnected
	h.states.states["ctrl-2"] = models.StateConnected

	if err := h.rec.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if h.states.get("ctrl-1") != models.StateConnected {
		t.Fatalf("expected ctrl-1 restored")
	}
	if h.states.sets != 1 {
		t.Fatalf("expected one state write, got %d", h.states.sets)
	}

	h.api.setEnergy("ctrl-1", 10, t0.Add(time.Minute))
	if err := h.event(t, "C2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.records.appends != 0 {
		t.Fatalf("expected redelivered connect to be a no-op after recovery")
	}
}

type blockingForwarder struct {
	release chan struct{}
}

func (b *blockingForwarder) Forward(_ context.Context, _ models.Session) error {
	<-b.release
	return nil
}

func TestFullForwardQueueWarnsOnce(t *testing.T) {
	next := &blockingForwarder{release: make(chan struct{})}
	queue := forward.NewQueue(next, 1, time.Second, zap.NewNop())
	defer queue.Close()
	defer close(next.release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := queue.Forward(context.Background(), models.Session{ID: 99, DeviceUID: "ctrl-9"})
		if errors.Is(err, forward.ErrQueueFull) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never filled up: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	core, logs := observer.New(zap.WarnLevel)
	api := newFakeAPI()
	api.bind("ctrl-1", "1", "")
	api.setEnergy("ctrl-1", 10, t0)
	rec := NewReconciler(api, newFakeStates(), &fakeRecords{}, queue, zap.New(core))

	if err := rec.Handle(context.Background(), models.Event{ID: "ev", DeviceUID: "ctrl-1", RawState: "C2"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected exactly one warning, got %v", logs.All())
	}
	entry := logs.All()[0]
	if entry.Message != "session forward failed" {
		t.Fatalf("unexpected warning %q", entry.Message)
	}
	if err, ok := entry.ContextMap()["error"]; !ok || !strings.Contains(fmt.Sprint(err), forward.ErrQueueFull.Error()) {
		t.Fatalf("expected queue full error in log, got %v", entry.ContextMap())
	}
}
