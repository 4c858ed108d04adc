package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargelog/backend/services/fleet-sync/internal/collector"
	"chargelog/backend/services/fleet-sync/internal/models"
)

// LatestSource returns the last collected snapshot.
type LatestSource interface {
	Latest() (models.Collection, error)
}

type snapshotResponse struct {
	TakenAt     time.Time       `json:"taken_at"`
	Controllers models.Snapshot `json:"controllers"`
}

// SnapshotHandler serves GET /snapshot.
type SnapshotHandler struct {
	source LatestSource
	logger *zap.Logger
}

// NewSnapshotHandler returns handler.
func NewSnapshotHandler(source LatestSource, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{source: source, logger: logger}
}

// ServeHTTP writes the last snapshot or 503 before the first collection.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	latest, err := h.source.Latest()
	if err != nil {
		if errors.Is(err, collector.ErrNoSnapshot) {
			http.Error(w, "no snapshot collected yet", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to read snapshot", zap.Error(err))
		http.Error(w, "failed to read snapshot", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshotResponse{TakenAt: latest.TakenAt, Controllers: latest.Snapshot})
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
