package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is returned by Run when the epoch has no samples left.
	// It ends an iteration loop and is not a failure.
	ErrExhausted = errors.New("pipeline: dataset exhausted")

	// ErrQueueTimeout is reserved for bounded waits on the prefetch queues.
	ErrQueueTimeout = errors.New("pipeline: queue timeout")

	ErrNoValidSamples = errors.New("pipeline: batch has no valid samples")
	ErrNotBuilt       = errors.New("pipeline: context is not built")
	ErrReleased       = errors.New("pipeline: context is released")
	ErrNoBatch        = errors.New("pipeline: no batch has been run")
)

// CreationError is returned by Create for invalid arguments, backends or
// devices.
type CreationError struct {
	Op  string
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("pipeline: create: %s: %v", e.Op, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }
