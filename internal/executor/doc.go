// Package executor defines how a module executable is launched for a single
// task, along with the error type describing a failed execution. The engine
// only depends on the Executor interface; Process is the production
// implementation that runs the module as a host child process.
package executor
