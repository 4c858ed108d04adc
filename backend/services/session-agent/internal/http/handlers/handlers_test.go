package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargelog/backend/services/session-agent/internal/auth"
	"chargelog/backend/services/session-agent/internal/models"
	"chargelog/backend/services/session-agent/internal/recordstore"
	"chargelog/backend/services/session-agent/internal/statestore"
)

type fakeLister struct {
	got      recordstore.Filter
	sessions []models.Session
	err      error
}

func (f *fakeLister) List(_ context.Context, filter recordstore.Filter) ([]models.Session, error) {
	f.got = filter
	return f.sessions, f.err
}

type fakeStates map[string]models.State

func (f fakeStates) Get(_ context.Context, uid string) (models.State, error) {
	if strings.Contains(uid, "/") {
		return models.StateUnknown, statestore.ErrInvalidDevice
	}
	if s, ok := f[uid]; ok {
		return s, nil
	}
	return models.StateUnknown, nil
}

type fakeAuth struct{}

func (fakeAuth) Login(username, password string) (string, time.Time, error) {
	if username == "admin" && password == "pw" {
		return "tok", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	return "", time.Time{}, auth.ErrInvalidCredentials
}

func TestSessionsHandler(t *testing.T) {
	lister := &fakeLister{sessions: []models.Session{{ID: 2, DeviceUID: "ctrl-1"}}}
	h := NewSessionsHandler(lister, zap.NewNop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/sessions?device=ctrl-1&limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if lister.got.DeviceUID != "ctrl-1" || lister.got.Limit != 5 || lister.got.OpenOnly {
		t.Fatalf("unexpected filter %+v", lister.got)
	}
	var body struct {
		Sessions []models.SessionPayload `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != 2 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/sessions?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}

	lister.err = errors.New("disk gone")
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestOpenSessionsHandlerSetsFilter(t *testing.T) {
	lister := &fakeLister{}
	rec := httptest.NewRecorder()
	NewOpenSessionsHandler(lister, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/sessions/open", nil))
	if rec.Code != http.StatusOK || !lister.got.OpenOnly {
		t.Fatalf("unexpected result %d %+v", rec.Code, lister.got)
	}
	if !strings.Contains(rec.Body.String(), `"sessions":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestDeviceStateHandler(t *testing.T) {
	h := NewDeviceStateHandler(fakeStates{"ctrl-1": models.StateConnected}, zap.NewNop())

	tests := []struct {
		url    string
		status int
		state  string
	}{
		{url: "/devices/state?uid=ctrl-1", status: http.StatusOK, state: "connected"},
		{url: "/devices/state?uid=ctrl-2", status: http.StatusOK, state: "unknown"},
		{url: "/devices/state", status: http.StatusBadRequest},
		{url: "/devices/state?uid=a/b", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
		if rec.Code != tt.status {
			t.Fatalf("%s: status %d, want %d", tt.url, rec.Code, tt.status)
		}
		if tt.state == "" {
			continue
		}
		var body map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["state"] != tt.state {
			t.Fatalf("%s: state %q, want %q", tt.url, body["state"], tt.state)
		}
	}
}

func TestTokenHandler(t *testing.T) {
	h := NewTokenHandler(fakeAuth{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"username":"admin","password":"pw"}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"access_token":"tok"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"username":"admin","password":"no"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
