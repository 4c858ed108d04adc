package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargelog/backend/services/fleet-sync/internal/collector"
	"chargelog/backend/services/fleet-sync/internal/http/handlers"
	"chargelog/backend/services/fleet-sync/internal/models"
)

type stubSource struct {
	collection models.Collection
	err        error
}

func (s stubSource) Latest() (models.Collection, error) {
	return s.collection, s.err
}

func newRouter(source stubSource) http.Handler {
	return NewRouter(Routes{
		Snapshot: handlers.NewSnapshotHandler(source, zap.NewNop()),
		Health:   handlers.NewHealthHandler(),
	})
}

func TestSnapshotRoute(t *testing.T) {
	taken := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	router := newRouter(stubSource{collection: models.Collection{
		TakenAt:  taken,
		Snapshot: models.Snapshot{"ctrl-1": {DeviceName: "left"}},
	}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		TakenAt     time.Time                         `json:"taken_at"`
		Controllers map[string]map[string]interface{} `json:"controllers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.TakenAt.Equal(taken) || body.Controllers["ctrl-1"]["device_name"] != "left" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestSnapshotBeforeFirstCollection(t *testing.T) {
	router := newRouter(stubSource{err: collector.ErrNoSnapshot})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestMethodGuard(t *testing.T) {
	router := newRouter(stubSource{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}
