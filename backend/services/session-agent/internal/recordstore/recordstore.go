package recordstore

import (
	"errors"
	"sort"

	"chargelog/backend/services/session-agent/internal/models"
)

const defaultListLimit = 50

// ErrNotFound indicates that no session matches.
var ErrNotFound = errors.New("recordstore: session not found")

// Filter narrows List results.
type Filter struct {
	DeviceUID string
	OpenOnly  bool
	Limit     int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// newestFirst orders sessions by descending id and applies the limit.
func newestFirst(sessions []models.Session, limit int) []models.Session {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID > sessions[j].ID })
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions
}
