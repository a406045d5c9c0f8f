package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/xxfunc/internal/engine"
	"github.com/seantiz/xxfunc/internal/executor"
	"github.com/seantiz/xxfunc/internal/feed"
	"github.com/seantiz/xxfunc/internal/model"
	"github.com/seantiz/xxfunc/internal/store"
	"github.com/seantiz/xxfunc/internal/tracing"
)

// Submitter hands a module execution to the worker pool.
type Submitter interface {
	Submit(ctx context.Context, path string, payload any, opts ...engine.SubmitOption) (*engine.ResultHandle, error)
}

// Launcher turns notifications into module executions: every Started module
// runs once per notification, with the notification as its argument.
type Launcher struct {
	store  store.Store
	cache  *ModuleCache
	engine Submitter
	broker *StatusBroker
	logger *slog.Logger

	wg sync.WaitGroup
}

// New creates a Launcher.
func New(st store.Store, cache *ModuleCache, sub Submitter, broker *StatusBroker, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Launcher{
		store:  st,
		cache:  cache,
		engine: sub,
		broker: broker,
		logger: logger,
	}
}

// Broker returns the broker that carries execution status changes.
func (l *Launcher) Broker() *StatusBroker {
	return l.broker
}

// run tracks one submitted execution between the start hook and the await.
type run struct {
	exec    *model.Execution
	started time.Time
	mu      sync.Mutex
}

// Dispatch submits one execution per Started module and returns the recorded
// executions. It does not wait for any of them to finish.
func (l *Launcher) Dispatch(ctx context.Context, n *model.Notification) (_ []*model.Execution, err error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	n.Normalize(time.Now())

	ctx, span := tracing.StartSpan(ctx, "launcher.dispatch", "PRODUCER")
	span.WithAttributes(map[string]string{
		"notification.id":   n.ID,
		"notification.kind": n.Kind,
	})
	defer func() { tracing.EndSpan(span, err) }()

	ids, err := l.store.ListModuleIDsByState(ctx, model.StateStarted)
	if err != nil {
		return nil, fmt.Errorf("list started modules: %w", err)
	}
	notificationsHandled.WithLabelValues(n.Kind).Inc()

	executions := make([]*model.Execution, 0, len(ids))
	for _, id := range ids {
		m, err := l.store.GetModule(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted since the listing.
			continue
		}
		if err != nil {
			return executions, fmt.Errorf("get module %d: %w", id, err)
		}

		exec, err := l.launch(ctx, m, n)
		if err != nil {
			return executions, err
		}
		executions = append(executions, exec)
	}

	l.logger.Info("notification dispatched",
		"notification_id", n.ID,
		"kind", n.Kind,
		"executions", len(executions),
	)
	return executions, nil
}

func (l *Launcher) launch(ctx context.Context, m *model.Module, n *model.Notification) (*model.Execution, error) {
	exec := &model.Execution{
		ID:             model.NewID(),
		ModuleID:       m.ID,
		ModuleName:     m.Name,
		NotificationID: n.ID,
		Status:         model.StatusQueued,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	l.publish(exec)

	path, err := l.cache.Materialize(ctx, m)
	if err != nil {
		l.logger.Error("materialize module failed", "module", m.Name, "execution_id", exec.ID, "error", err)
		l.finish(exec, model.StatusFailed, nil, err)
		return exec, nil
	}

	// The await goroutine owns exec from here on; callers get a snapshot.
	queued := *exec
	r := &run{exec: exec}
	h, err := l.engine.Submit(ctx, path, n,
		engine.WithTaskID(exec.ID),
		engine.WithStartHook(func(string) { l.markRunning(r) }),
	)
	if err != nil {
		status := model.StatusFailed
		if errors.Is(err, engine.ErrClosed) {
			status = model.StatusAbandoned
		}
		l.logger.Error("submit execution failed", "module", m.Name, "execution_id", exec.ID, "error", err)
		l.finish(exec, status, nil, err)
		return exec, nil
	}

	l.wg.Add(1)
	go l.await(r, h)
	return &queued, nil
}

// markRunning runs on the worker goroutine right before the process starts.
func (l *Launcher) markRunning(r *run) {
	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()

	ctx := context.Background()
	if err := l.store.UpdateExecutionStatus(ctx, r.exec.ID, model.StatusRunning); err != nil {
		l.logger.Warn("mark execution running failed", "execution_id", r.exec.ID, "error", err)
		return
	}
	l.broker.Publish(StatusEvent{
		ExecutionID: r.exec.ID,
		Status:      model.StatusRunning,
		At:          time.Now().UTC(),
	})
}

func (l *Launcher) await(r *run, h *engine.ResultHandle) {
	defer l.wg.Done()

	err := h.Wait(context.Background())

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	var duration *int
	if !started.IsZero() {
		ms := int(time.Since(started).Milliseconds())
		duration = &ms
	}

	switch {
	case err == nil:
		l.finish(r.exec, model.StatusCompleted, duration, nil)
	case errors.Is(err, engine.ErrAbandoned):
		l.finish(r.exec, model.StatusAbandoned, duration, err)
	default:
		l.finish(r.exec, model.StatusFailed, duration, err)
	}
}

// finish records the terminal status of exec and closes its status topic.
func (l *Launcher) finish(exec *model.Execution, status string, duration *int, cause error) {
	exec.Status = status
	exec.DurationMS = duration
	if cause != nil {
		exec.Error = cause.Error()
	}
	if code, ok := executor.ExitCode(cause); ok {
		exec.ExitCode = &code
	}
	now := time.Now().UTC()
	exec.FinishedAt = &now

	if err := l.store.FinishExecution(context.Background(), exec); err != nil {
		l.logger.Error("record execution result failed", "execution_id", exec.ID, "status", status, "error", err)
	}
	executionsDispatched.WithLabelValues(status).Inc()

	l.logger.Info("execution finished",
		"execution_id", exec.ID,
		"module", exec.ModuleName,
		"status", status,
		"error", exec.Error,
	)
	l.publish(exec)
	l.broker.Close(exec.ID)
}

func (l *Launcher) publish(exec *model.Execution) {
	l.broker.Publish(StatusEvent{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		ExitCode:    exec.ExitCode,
		Error:       exec.Error,
		At:          time.Now().UTC(),
	})
}

// DeleteModule removes the named module from the store and evicts its
// materialized binary.
func (l *Launcher) DeleteModule(ctx context.Context, name string) error {
	m, err := l.store.GetModuleByName(ctx, name)
	if err != nil {
		return err
	}
	if err := l.store.DeleteModule(ctx, name); err != nil {
		return err
	}
	if err := l.cache.Evict(ctx, m); err != nil {
		l.logger.Warn("evict module binary failed", "module", name, "error", err)
	}
	return nil
}

// Run feeds notifications from src into Dispatch until ctx ends or src
// fails for good.
func (l *Launcher) Run(ctx context.Context, src feed.Source) error {
	return src.Run(ctx, func(ctx context.Context, n *model.Notification) error {
		_, err := l.Dispatch(ctx, n)
		return err
	})
}

// Wait blocks until every submitted execution has been recorded.
func (l *Launcher) Wait() {
	l.wg.Wait()
}
