// Package adapter defines the contract between the runtime controller and
// the protocol listeners it manages, plus the shared run state they observe.
package adapter

import (
	"context"
	"sync/atomic"
)

// Adapter represents a protocol-specific listener that can be managed by
// the runtime controller.
//
// Lifecycle:
//  1. Creation: adapter is created with protocol-specific configuration
//  2. Run state injection: SetRunState() provides the shared accepting flag
//  3. Startup: Serve() binds the listener and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetRunState() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the listener and blocks until the context is cancelled,
	// the run state stops, or an unrecoverable error occurs.
	//
	// On shutdown, Serve must stop accepting new connections, wait for
	// active sessions to complete (bounded by the adapter's shutdown
	// timeout), force-close whatever remains, and release the listening
	// socket. A Serve return before shutdown was requested is treated as a
	// fatal listener condition by the controller.
	Serve(ctx context.Context) error

	// SetRunState injects the controller-owned run state. Called exactly
	// once before Serve().
	SetRunState(rs *RunState)

	// Stop initiates graceful shutdown. Idempotent, safe to call
	// concurrently with Serve(). The context bounds how long Stop waits
	// for in-flight sessions before returning.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging.
	Protocol() string

	// Port returns the TCP port the adapter is listening on, or 0 before
	// the listener is bound.
	Port() int
}

// RunState is the single process-wide accepting flag shared by the runtime
// controller, the listener, and every session worker.
//
// It is one atomic state word, so no mutex is ever needed and no
// interleaving of Start and Stop can resurrect a stopped state. Stop
// semantics are monotonic: once stopped, a RunState never returns to
// running within the same process lifetime.
type RunState struct {
	state atomic.Int32
}

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// NewRunState returns a RunState in the not-yet-running state.
func NewRunState() *RunState {
	return &RunState{}
}

// Start marks the process as accepting. It is a no-op after Stop has been
// called, preserving the monotonic stop guarantee even when the two race.
func (r *RunState) Start() {
	r.state.CompareAndSwap(stateIdle, stateRunning)
}

// Stop marks the process as stopped. Idempotent: the second and later
// calls are no-ops, not errors.
func (r *RunState) Stop() {
	r.state.Store(stateStopped)
}

// Running reports whether the process is still accepting and serving.
func (r *RunState) Running() bool {
	return r.state.Load() == stateRunning
}

// Stopped reports whether Stop has ever been called.
func (r *RunState) Stopped() bool {
	return r.state.Load() == stateStopped
}
