package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAbandoned is the outcome of a task whose result sink was dropped
	// without a value, e.g. the executor panicked or the engine closed while
	// the task was still queued.
	ErrAbandoned = errors.New("task abandoned before completion")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("engine closed")
)

// SubmissionError reports a payload that could not be serialized. Nothing is
// enqueued when Submit returns it.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("serialize payload: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PoolInitError reports that the worker pool could not be sized.
type PoolInitError struct {
	Err error
}

func (e *PoolInitError) Error() string {
	return fmt.Sprintf("initialize worker pool: %v", e.Err)
}

func (e *PoolInitError) Unwrap() error {
	return e.Err
}
