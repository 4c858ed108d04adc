package forward

import (
	"context"
	"errors"
	"fmt"

	"chargelog/backend/services/session-agent/internal/models"
)

// Forwarder ships a written session to one remote sink.
type Forwarder interface {
	Forward(ctx context.Context, session models.Session) error
}

// Named pairs a forwarder with a label used in errors and logs.
type Named struct {
	Name string
	Forwarder
}

// Fanout forwards every session to all sinks and joins their errors.
type Fanout []Named

// Forward implements Forwarder.
func (f Fanout) Forward(ctx context.Context, session models.Session) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Forward(ctx, session); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}
