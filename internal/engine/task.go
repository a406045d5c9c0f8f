package engine

import (
	"context"
	"sync"
)

// task is one queued unit of work. It is never mutated after Submit builds it.
type task struct {
	id      string
	path    string
	payload any
	arg     []byte
	ctx     context.Context
	onStart func(id string)
	sink    *sink
}

// taskQueue is an unbounded FIFO guarded by a single mutex.
type taskQueue struct {
	mu    sync.Mutex
	tasks []*task
}

func (q *taskQueue) push(t *task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// pop removes and returns the head of the queue. ok is false when empty.
func (q *taskQueue) pop() (t *task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t = q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// drain empties the queue and returns what it held.
func (q *taskQueue) drain() []*task {
	q.mu.Lock()
	defer q.mu.Unlock()
	rest := q.tasks
	q.tasks = nil
	return rest
}
