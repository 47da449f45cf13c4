package worker

import stderrors "errors"

// Sentinel errors for worker pool operations
var (
	ErrPoolNotStarted     = stderrors.New("worker pool not started")
	ErrPoolStopped        = stderrors.New("worker pool stopped")
	ErrPoolAlreadyStarted = stderrors.New("worker pool already started")
	ErrQueueFull          = stderrors.New("worker pool queue full")
	ErrNilProcessor       = stderrors.New("processor function cannot be nil")
	ErrStopTimeout        = stderrors.New("timeout waiting for workers to stop")
)
