package forward

import (
	"context"

	"chargelog/backend/services/session-agent/internal/models"
)

// SessionUploader posts session records to the fleet backend.
type SessionUploader interface {
	PostChargingSession(ctx context.Context, record interface{}) error
}

// EMM uploads sessions to /api/public/charging-session.
type EMM struct {
	client SessionUploader
}

// NewEMM wraps the fleet backend client.
func NewEMM(client SessionUploader) *EMM {
	return &EMM{client: client}
}

// Forward implements Forwarder.
func (e *EMM) Forward(ctx context.Context, session models.Session) error {
	return e.client.PostChargingSession(ctx, session.Payload())
}
