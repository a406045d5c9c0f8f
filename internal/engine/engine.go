package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/sourcegraph/conc/panics"

	"github.com/seantiz/xxfunc/internal/executor"
	"github.com/seantiz/xxfunc/internal/model"
	"github.com/seantiz/xxfunc/internal/tracing"
)

// cpuCounts is swapped out in tests to simulate detection failures.
var cpuCounts = cpu.Counts

// Engine is the dispatcher in front of a fixed pool of workers. It is safe
// for concurrent use.
type Engine struct {
	exec    executor.Executor
	logger  *slog.Logger
	workers int

	queue taskQueue
	idle  idleRegistry

	// lifecycle orders Submit's enqueue against Close so that no task is
	// pushed after Close drained the queue.
	lifecycle sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers fixes the pool size. Values <= 0 fall back to the number of
// logical CPUs.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// SubmitOption customizes a single task.
type SubmitOption func(*task)

// WithTaskID overrides the generated task identifier.
func WithTaskID(id string) SubmitOption {
	return func(t *task) {
		if id != "" {
			t.id = id
		}
	}
}

// WithStartHook registers fn to run on the worker right before the
// executable is launched.
func WithStartHook(fn func(id string)) SubmitOption {
	return func(t *task) {
		t.onStart = fn
	}
}

// New creates an Engine and starts its workers. The pool size never changes
// afterwards.
func New(exec executor.Executor, opts ...Option) (*Engine, error) {
	if exec == nil {
		return nil, &PoolInitError{Err: errors.New("executor is required")}
	}

	e := &Engine{
		exec:   exec,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.workers <= 0 {
		n, err := detectParallelism()
		if err != nil {
			return nil, &PoolInitError{Err: err}
		}
		e.workers = n
	}

	poolSize.Add(float64(e.workers))
	for i := range e.workers {
		e.wg.Add(1)
		go e.worker(i)
	}

	e.logger.Info("engine started", "workers", e.workers)
	return e, nil
}

// detectParallelism returns the number of logical CPUs, at least 1.
func detectParallelism() (int, error) {
	n, err := cpuCounts(true)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

// Submit serializes payload, enqueues a task that runs path with it, wakes one
// idle worker and returns immediately. The payload is shared with the task and
// must not be mutated afterwards. ctx only parents the execution span; its
// cancellation does not affect the task.
func (e *Engine) Submit(ctx context.Context, path string, payload any, opts ...SubmitOption) (*ResultHandle, error) {
	arg, err := json.Marshal(payload)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}

	t := &task{
		id:      model.NewID(),
		path:    path,
		payload: payload,
		arg:     arg,
		ctx:     context.WithoutCancel(ctx),
		sink:    newSink(),
	}
	for _, opt := range opts {
		opt(t)
	}
	h := newResultHandle(t.id, t.sink)

	e.lifecycle.RLock()
	if e.closed.Load() {
		e.lifecycle.RUnlock()
		return nil, ErrClosed
	}
	// Counted before the push so a worker's Dec can never run first.
	queueDepth.Inc()
	e.queue.push(t)
	e.lifecycle.RUnlock()

	tasksSubmitted.Inc()
	e.logger.Debug("task queued", "task_id", t.id, "path", path)

	e.wake()
	return h, nil
}

// wake resumes one parked worker, if any. When none is parked every worker is
// busy and will find the task on its next pass over the queue.
func (e *Engine) wake() {
	e.idle.wakeOne()
}

// worker drains the queue, then parks until woken. A wake only means "look
// again", so the queue is always re-checked after resuming.
func (e *Engine) worker(n int) {
	defer e.wg.Done()
	p := newParker()

	for {
		for !e.closed.Load() {
			t, ok := e.queue.pop()
			if !ok {
				break
			}
			queueDepth.Dec()
			e.run(n, t)
		}
		if e.closed.Load() {
			return
		}

		e.idle.register(p)
		// Registration happens before this check, so a Submit that found no
		// idle worker pushed its task before we look here.
		if e.queue.len() > 0 || e.closed.Load() {
			if !e.idle.withdraw(p) {
				// A waker already claimed us; consume its token.
				<-p.wake
			}
			continue
		}
		<-p.wake
	}
}

// run executes one task and resolves its handle. Executor panics are
// contained here and turn into ErrAbandoned for that task only.
func (e *Engine) run(worker int, t *task) {
	ctx, span := tracing.StartSpan(t.ctx, "engine.execute", "INTERNAL")
	span.WithAttributes(map[string]string{
		"task.id":   t.id,
		"task.path": t.path,
	})

	start := time.Now()
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		if t.onStart != nil {
			t.onStart(t.id)
		}
		err = e.exec.Execute(ctx, t.path, t.arg)
	})
	taskDuration.Observe(time.Since(start).Seconds())

	if r := pc.Recovered(); r != nil {
		e.logger.Error("task panicked", "worker", worker, "task_id", t.id, "panic", r.Value)
		tracing.EndSpan(span, r.AsError())
		t.sink.abandon()
		tasksTotal.WithLabelValues(outcomeAbandoned).Inc()
		return
	}

	tracing.EndSpan(span, err)
	if err != nil {
		e.logger.Warn("task failed", "worker", worker, "task_id", t.id, "path", t.path, "error", err)
		tasksTotal.WithLabelValues(outcomeFailed).Inc()
	} else {
		e.logger.Debug("task completed", "worker", worker, "task_id", t.id,
			"duration_ms", time.Since(start).Milliseconds())
		tasksTotal.WithLabelValues(outcomeCompleted).Inc()
	}
	t.sink.send(err)
}

// Close stops accepting tasks, lets running tasks finish, and abandons
// whatever is still queued. It blocks until every worker has exited.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.lifecycle.Lock()
		e.closed.Store(true)
		e.lifecycle.Unlock()

		e.idle.wakeAll()
		e.wg.Wait()

		for _, t := range e.queue.drain() {
			queueDepth.Dec()
			if t.sink.abandon() {
				tasksTotal.WithLabelValues(outcomeAbandoned).Inc()
			}
		}
		poolSize.Sub(float64(e.workers))
		e.logger.Info("engine stopped")
	})
}

// Workers returns the fixed pool size.
func (e *Engine) Workers() int {
	return e.workers
}

// QueueLen returns the number of tasks waiting for a worker.
func (e *Engine) QueueLen() int {
	return e.queue.len()
}

// IdleWorkers returns the number of workers currently parked.
func (e *Engine) IdleWorkers() int {
	return e.idle.len()
}
