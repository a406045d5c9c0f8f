// Package engine is the module execution runtime. An Engine owns a fixed pool
// of worker goroutines, a shared FIFO task queue and a registry of idle
// workers. Submit enqueues a task, wakes at most one idle worker and returns a
// ResultHandle right away; the worker runs the task through an
// executor.Executor and resolves the handle exactly once.
//
// Idle workers park on a private wake token instead of polling. A worker
// registers itself as idle, re-checks the queue, and only then blocks, so a
// task enqueued concurrently with registration is never missed.
package engine
