package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chargelog/backend/services/session-agent/internal/models"
)

const defaultQueueSize = 16

// EventHandler processes one event.
type EventHandler interface {
	Handle(ctx context.Context, ev models.Event) error
}

// Dispatcher runs one worker per device so events of a device are handled in arrival order
// while different devices proceed independently.
type Dispatcher struct {
	ctx       context.Context
	handler   EventHandler
	logger    *zap.Logger
	queueSize int

	mu     sync.Mutex
	queues map[string]chan models.Event
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher whose workers stop when ctx is done.
func NewDispatcher(ctx context.Context, handler EventHandler, queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		ctx:       ctx,
		handler:   handler,
		logger:    logger.Named("dispatcher"),
		queueSize: queueSize,
		queues:    make(map[string]chan models.Event),
	}
}

// Submit enqueues ev on its device queue, blocking while the queue is full.
func (d *Dispatcher) Submit(ev models.Event) error {
	queue, err := d.queue(ev.DeviceUID)
	if err != nil {
		return err
	}
	select {
	case queue <- ev:
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) queue(deviceUID string) (chan models.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	if q, ok := d.queues[deviceUID]; ok {
		return q, nil
	}
	q := make(chan models.Event, d.queueSize)
	d.queues[deviceUID] = q
	d.wg.Add(1)
	go d.work(deviceUID, q)
	return q, nil
}

func (d *Dispatcher) work(deviceUID string, queue <-chan models.Event) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-queue:
			d.handle(ev)
		}
	}
}

func (d *Dispatcher) handle(ev models.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("event handler panicked",
				zap.String("event_id", ev.ID),
				zap.String("device_uid", ev.DeviceUID),
				zap.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	if err := d.handler.Handle(d.ctx, ev); err != nil {
		d.logger.Error("event dropped",
			zap.String("event_id", ev.ID),
			zap.String("device_uid", ev.DeviceUID),
			zap.String("raw_state", ev.RawState),
			zap.Error(err),
		)
	}
}
