package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/xxfunc/internal/executor"
)

var noop = executor.ExecutorFunc(func(context.Context, string, []byte) error { return nil })

func withCPUCounts(t *testing.T, fn func(bool) (int, error)) {
	t.Helper()
	orig := cpuCounts
	cpuCounts = fn
	t.Cleanup(func() { cpuCounts = orig })
}

func TestNewDefaultsToLogicalCPUs(t *testing.T) {
	withCPUCounts(t, func(logical bool) (int, error) {
		assert.True(t, logical)
		return 3, nil
	})

	e, err := New(noop)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 3, e.Workers())
}

func TestNewClampsZeroCPUsToOne(t *testing.T) {
	withCPUCounts(t, func(bool) (int, error) { return 0, nil })

	e, err := New(noop, WithWorkers(-1))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 1, e.Workers())
}

func TestNewPoolInitError(t *testing.T) {
	cause := errors.New("no /proc/cpuinfo")
	withCPUCounts(t, func(bool) (int, error) { return 0, cause })

	e, err := New(noop)
	assert.Nil(t, e)

	var initErr *PoolInitError
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "initialize worker pool")
}

func TestTaskQueueFIFO(t *testing.T) {
	var q taskQueue
	_, ok := q.pop()
	assert.False(t, ok)

	for _, id := range []string{"a", "b", "c"} {
		q.push(&task{id: id})
	}
	assert.Equal(t, 3, q.len())

	got, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", got.id)

	rest := q.drain()
	require.Len(t, rest, 2)
	assert.Equal(t, "b", rest[0].id)
	assert.Equal(t, "c", rest[1].id)
	assert.Zero(t, q.len())
}

func TestIdleRegistryWakeOne(t *testing.T) {
	var r idleRegistry
	assert.False(t, r.wakeOne(), "empty registry wakes nobody")

	a, b := newParker(), newParker()
	r.register(a)
	r.register(b)
	assert.Equal(t, 2, r.len())

	require.True(t, r.wakeOne())
	select {
	case <-b.wake:
	default:
		t.Fatal("most recently parked worker should be woken first")
	}
	assert.Equal(t, 1, r.len())

	assert.False(t, r.withdraw(b), "woken parker is no longer registered")
	assert.True(t, r.withdraw(a))
	assert.Zero(t, r.len())
}

func TestIdleRegistryWakeBeforeBlockIsKept(t *testing.T) {
	var r idleRegistry
	p := newParker()
	r.register(p)
	r.wakeOne()

	// The token sits in the buffer until the worker gets around to blocking.
	select {
	case <-p.wake:
	case <-time.After(time.Second):
		t.Fatal("wake token lost")
	}
}

func TestIdleRegistryWakeAll(t *testing.T) {
	var r idleRegistry
	ps := []*parker{newParker(), newParker(), newParker()}
	for _, p := range ps {
		r.register(p)
	}
	r.wakeAll()
	assert.Zero(t, r.len())
	for i, p := range ps {
		select {
		case <-p.wake:
		default:
			t.Fatalf("parker %d not woken", i)
		}
	}
}

func TestSinkResolvesOnce(t *testing.T) {
	s := newSink()
	h := newResultHandle("t1", s)

	cause := errors.New("first")
	assert.True(t, s.send(cause))
	assert.False(t, s.send(nil))
	assert.False(t, s.abandon())

	ok, err := h.Poll()
	require.True(t, ok)
	assert.Same(t, cause, err)
}

func TestSinkAbandon(t *testing.T) {
	s := newSink()
	h := newResultHandle("t1", s)

	ok, _ := h.Poll()
	assert.False(t, ok)

	assert.True(t, s.abandon())
	assert.False(t, s.send(nil))

	ok, err := h.Poll()
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrAbandoned)
}

func TestConcurrentWaitersSeeSameResult(t *testing.T) {
	s := newSink()
	h := newResultHandle("t1", s)

	results := make(chan error, 8)
	for range 8 {
		go func() { results <- h.Wait(context.Background()) }()
	}
	s.send(nil)
	for range 8 {
		assert.NoError(t, <-results)
	}
}

func TestEngineMetrics(t *testing.T) {
	fail := errors.New("fail")
	exec := executor.ExecutorFunc(func(_ context.Context, path string, _ []byte) error {
		switch path {
		case "fail":
			return fail
		case "panic":
			panic("boom")
		}
		return nil
	})
	workers := testutil.ToFloat64(poolSize)
	e, err := New(exec, WithWorkers(2))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, workers+2, testutil.ToFloat64(poolSize))

	depth := testutil.ToFloat64(queueDepth)
	submitted := testutil.ToFloat64(tasksSubmitted)
	completed := testutil.ToFloat64(tasksTotal.WithLabelValues(outcomeCompleted))
	failed := testutil.ToFloat64(tasksTotal.WithLabelValues(outcomeFailed))
	abandoned := testutil.ToFloat64(tasksTotal.WithLabelValues(outcomeAbandoned))

	for _, p := range []string{"ok", "fail", "panic", "ok"} {
		h, err := e.Submit(context.Background(), p, nil)
		require.NoError(t, err)
		<-h.Done()
	}

	assert.Equal(t, submitted+4, testutil.ToFloat64(tasksSubmitted))
	assert.Equal(t, completed+2, testutil.ToFloat64(tasksTotal.WithLabelValues(outcomeCompleted)))
	assert.Equal(t, failed+1, testutil.ToFloat64(tasksTotal.WithLabelValues(outcomeFailed)))
	assert.Equal(t, abandoned+1, testutil.ToFloat64(tasksTotal.WithLabelValues(outcomeAbandoned)))
	assert.Equal(t, depth, testutil.ToFloat64(queueDepth))
}

func TestEngineGaugesArePerEngine(t *testing.T) {
	workers := testutil.ToFloat64(poolSize)
	depth := testutil.ToFloat64(queueDepth)

	a, err := New(noop, WithWorkers(2))
	require.NoError(t, err)
	defer a.Close()

	gate := make(chan struct{})
	b, err := New(executor.ExecutorFunc(func(context.Context, string, []byte) error {
		<-gate
		return nil
	}), WithWorkers(1))
	require.NoError(t, err)
	assert.Equal(t, workers+3, testutil.ToFloat64(poolSize))

	// One task occupies b's only worker, the next two wait in its queue.
	var handles []*ResultHandle
	for range 3 {
		h, err := b.Submit(context.Background(), "x", nil)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	require.Eventually(t, func() bool { return b.QueueLen() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, depth+2, testutil.ToFloat64(queueDepth))

	close(gate)
	for _, h := range handles {
		<-h.Done()
	}
	b.Close()

	assert.Equal(t, workers+2, testutil.ToFloat64(poolSize), "closing one engine must not zero another")
	assert.Equal(t, depth, testutil.ToFloat64(queueDepth))
	assert.Equal(t, 2, a.Workers())
}

func TestIdleGaugeTracksRegistry(t *testing.T) {
	idle := testutil.ToFloat64(idleWorkers)
	var r idleRegistry
	p1, p2 := newParker(), newParker()

	r.register(p1)
	r.register(p2)
	assert.Equal(t, idle+2, testutil.ToFloat64(idleWorkers))

	assert.True(t, r.withdraw(p1))
	assert.Equal(t, idle+1, testutil.ToFloat64(idleWorkers))

	r.wakeAll()
	assert.Equal(t, idle, testutil.ToFloat64(idleWorkers))
	<-p2.wake
}
