package forward

import "errors"

var (
	// ErrQueueFull is returned when the forward queue cannot take another session.
	ErrQueueFull = errors.New("forward: queue full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("forward: queue closed")
)
