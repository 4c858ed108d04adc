package forward

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargelog/backend/services/session-agent/internal/models"
)

// Queue decouples reconciliation from remote latency: Forward only enqueues and a single
// worker drains into the wrapped forwarder. A full queue drops the session and leaves logging
// to the caller.
type Queue struct {
	next    Forwarder
	timeout time.Duration
	logger  *zap.Logger
	items   chan models.Session
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts the worker; it runs until Close.
func NewQueue(next Forwarder, size int, timeout time.Duration, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	q := &Queue{
		next:    next,
		timeout: timeout,
		logger:  logger.Named("forward"),
		items:   make(chan models.Session, size),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Forward enqueues the session without blocking.
func (q *Queue) Forward(_ context.Context, session models.Session) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- session:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued sessions to be delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for session := range q.items {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.next.Forward(ctx, session); err != nil {
			q.logger.Warn("session forward failed",
				zap.Int64("session_id", session.ID),
				zap.String("device_uid", session.DeviceUID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
