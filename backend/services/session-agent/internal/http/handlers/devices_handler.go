package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chargelog/backend/services/session-agent/internal/models"
	"chargelog/backend/services/session-agent/internal/statestore"
)

// StateReader reads the last known device state.
type StateReader interface {
	Get(ctx context.Context, deviceUID string) (models.State, error)
}

// NewDeviceStateHandler returns GET /devices/state?uid= handler.
func NewDeviceStateHandler(states StateReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("uid")
		if uid == "" {
			writeError(w, http.StatusBadRequest, "uid is required")
			return
		}
		state, err := states.Get(r.Context(), uid)
		if errors.Is(err, statestore.ErrInvalidDevice) {
			writeError(w, http.StatusBadRequest, "invalid uid")
			return
		}
		if err != nil {
			logger.Error("read device state failed", zap.String("device_uid", uid), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read device state")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"device_uid": uid,
			"state":      state.String(),
		})
	}
}
