package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chargelog/backend/services/session-agent/internal/models"
	"chargelog/backend/services/session-agent/internal/recordstore"
)

const maxListLimit = 500

// SessionLister reads stored sessions.
type SessionLister interface {
	List(ctx context.Context, filter recordstore.Filter) ([]models.Session, error)
}

// NewSessionsHandler returns GET /sessions?device=&limit= handler.
func NewSessionsHandler(store SessionLister, logger *zap.Logger) http.HandlerFunc {
	return listHandler(store, false, logger)
}

// NewOpenSessionsHandler returns GET /sessions/open handler.
func NewOpenSessionsHandler(store SessionLister, logger *zap.Logger) http.HandlerFunc {
	return listHandler(store, true, logger)
}

func listHandler(store SessionLister, openOnly bool, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := recordstore.Filter{
			DeviceUID: r.URL.Query().Get("device"),
			OpenOnly:  openOnly,
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 || limit > maxListLimit {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = limit
		}

		sessions, err := store.List(r.Context(), filter)
		if err != nil {
			logger.Error("list sessions failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
			return
		}
		if sessions == nil {
			sessions = []models.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": sessions,
		})
	}
}
