package engine

import (
	"context"
	"sync"
)

// sink is the sending half of a task's one-shot result channel. Exactly one
// of send or abandon takes effect; later calls are no-ops.
type sink struct {
	once  sync.Once
	ch    chan error
	ready chan struct{}
}

func newSink() *sink {
	return &sink{
		ch:    make(chan error, 1),
		ready: make(chan struct{}),
	}
}

// send delivers err (nil for success) and reports whether it was the first
// resolution. The channel is buffered, so send never blocks even when the
// caller has stopped listening.
func (s *sink) send(err error) bool {
	sent := false
	s.once.Do(func() {
		s.ch <- err
		close(s.ch)
		close(s.ready)
		sent = true
	})
	return sent
}

// abandon closes the channel without a value, which the handle reports as
// ErrAbandoned.
func (s *sink) abandon() bool {
	abandoned := false
	s.once.Do(func() {
		close(s.ch)
		close(s.ready)
		abandoned = true
	})
	return abandoned
}

// ResultHandle is the single-resolution future returned by Submit. It
// resolves to nil when the executable exited with status 0, to an
// *executor.ExecutionError when it failed, or to ErrAbandoned when the task
// was dropped without an outcome. Once resolved, every call observes the
// same result.
type ResultHandle struct {
	id    string
	ch    <-chan error
	ready <-chan struct{}

	mu       sync.Mutex
	resolved bool
	err      error
}

func newResultHandle(id string, s *sink) *ResultHandle {
	return &ResultHandle{id: id, ch: s.ch, ready: s.ready}
}

// ID returns the identifier of the task behind the handle.
func (h *ResultHandle) ID() string {
	return h.id
}

// Poll returns the outcome if the task has resolved. done is false while the
// task is still queued or running.
func (h *ResultHandle) Poll() (done bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolved {
		return true, h.err
	}
	select {
	case <-h.ready:
	default:
		return false, nil
	}

	// ready is closed only after the value (if any) was buffered and the
	// channel closed, so this receive never blocks.
	v, open := <-h.ch
	h.resolved = true
	if open {
		h.err = v
	} else {
		h.err = ErrAbandoned
	}
	return true, h.err
}

// Wait blocks until the task resolves and returns its outcome. If ctx ends
// first, Wait returns ctx.Err() and the handle stays pending.
func (h *ResultHandle) Wait(ctx context.Context) error {
	select {
	case <-h.ready:
		_, err := h.Poll()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed once the outcome is available.
func (h *ResultHandle) Done() <-chan struct{} {
	return h.ready
}
