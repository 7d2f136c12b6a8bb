// Package server implements the runtime controller: the single authority
// over server lifecycle. It owns the process-wide run state, maps process
// signals to a stop request, starts the registered protocol adapters, and
// coordinates the bounded shutdown across all of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ahmed74ca/Multithreaded-server/internal/logger"
	"github.com/ahmed74ca/Multithreaded-server/pkg/adapter"
)

// ShutdownResult distinguishes a shutdown where every session completed on
// its own from one where the grace period expired and sockets had to be
// closed out from under their workers.
type ShutdownResult int

const (
	// ShutdownClean: the listener stopped and all session workers exited
	// within the grace period.
	ShutdownClean ShutdownResult = iota

	// ShutdownForced: the grace period expired; remaining session sockets
	// were force-closed (best-effort).
	ShutdownForced
)

func (r ShutdownResult) String() string {
	if r == ShutdownClean {
		return "clean"
	}
	return "forced"
}

// Server is the runtime controller.
//
// Lifecycle:
//  1. New() then AddAdapter() for each protocol listener
//  2. Start() flips the run state to running, registers signal handlers,
//     and starts every adapter on its own goroutine
//  3. RequestStop() - from a signal, or any caller - stops the run state
//     exactly once
//  4. AwaitShutdown() blocks until everything drained or the grace period
//     expired
//
// The run state is the only cross-cutting shared state: a single atomic
// state word written here and read by the listener and every session
// worker.
// Signal handlers do nothing beyond calling RequestStop, which only flips
// that flag and cancels a context, keeping them safe in restrictive
// signal contexts.
//
// Thread safety: all methods are safe for concurrent use. Start() may only
// be called once.
type Server struct {
	mu       sync.Mutex
	adapters []adapter.Adapter
	started  bool

	run    *adapter.RunState
	cancel context.CancelFunc

	stopOnce      sync.Once
	stopRequested chan struct{}

	// done closes when every adapter's Serve has returned
	done chan struct{}

	// forced records whether any adapter had to force-close sessions
	forced atomic.Bool

	// fatalErr holds the first fatal adapter error, if any (guarded by mu)
	fatalErr error

	sigCh chan os.Signal
}

// New creates a Server with no adapters registered.
func New() *Server {
	return &Server{
		run:           adapter.NewRunState(),
		stopRequested: make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// RunState exposes the controller-owned run state for read-side sharing.
func (s *Server) RunState() *adapter.RunState {
	return s.run
}

// AddAdapter registers a protocol adapter and injects the shared run
// state. Must be called before Start().
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot add %s adapter after Start()", a.Protocol())
	}

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() {
			return fmt.Errorf("adapter for protocol %s already registered", a.Protocol())
		}
	}

	a.SetRunState(s.run)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter", a.Protocol())
	return nil
}

// Start sets the run state to running, registers interrupt/termination
// signal handling, and starts every registered adapter on a dedicated
// goroutine.
//
// Startup validation failures (no adapters, double start) are fatal: the
// error is returned before anything is running. After Start returns nil,
// SIGINT and SIGTERM map to RequestStop and nothing else.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Start()")
	}
	s.started = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	serveCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.run.Start()

	// The handler itself does no work: delivery lands on a buffered
	// channel and a plain goroutine calls RequestStop.
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range s.sigCh {
			logger.Info("Received signal %v, requesting stop", sig)
			s.RequestStop()
		}
	}()

	logger.Info("Starting server with %d adapter(s)", len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			logger.Info("Starting %s adapter", a.Protocol())
			err := a.Serve(serveCtx)

			switch {
			case err == nil || errors.Is(err, context.Canceled):
				logger.Debug("%s adapter stopped cleanly", a.Protocol())
			default:
				select {
				case <-s.stopRequested:
					// Error during a requested shutdown means sessions
					// were force-closed.
					logger.Warn("%s adapter shutdown was not clean: %v", a.Protocol(), err)
					s.forced.Store(true)
				default:
					// The listening socket failed while we were supposed
					// to be running: fatal, stop everything.
					logger.Error("%s adapter failed: %v", a.Protocol(), err)
					s.mu.Lock()
					if s.fatalErr == nil {
						s.fatalErr = err
					}
					s.mu.Unlock()
					s.RequestStop()
				}
			}
		}(adp)
	}

	go func() {
		wg.Wait()
		close(s.done)
	}()

	return nil
}

// RequestStop sets the run state to stopped exactly once. Idempotent: a
// second call is a no-op, not an error. Safe to call from a signal
// context or any goroutine.
func (s *Server) RequestStop() {
	s.stopOnce.Do(func() {
		logger.Info("Stop requested")
		s.run.Stop()
		close(s.stopRequested)
		if s.cancel != nil {
			s.cancel()
		}
		if s.sigCh != nil {
			signal.Stop(s.sigCh)
		}
	})
}

// StopRequested returns a channel closed once a stop has been requested.
func (s *Server) StopRequested() <-chan struct{} {
	return s.stopRequested
}

// AwaitShutdown blocks until a stop has been requested and then until the
// listener has stopped accepting and all session workers have exited, or
// until timeout elapses after the stop request.
//
// On timeout, remaining session sockets are force-closed (best-effort,
// via each adapter) and the result is ShutdownForced; otherwise
// ShutdownClean. The error carries the fatal adapter failure when the
// shutdown was triggered by one.
func (s *Server) AwaitShutdown(timeout time.Duration) (ShutdownResult, error) {
	<-s.stopRequested

	select {
	case <-s.done:
		// All adapters drained on their own.
	case <-time.After(timeout):
		logger.Warn("Shutdown grace period %v exceeded, forcing closure", timeout)
		s.forced.Store(true)

		expired, cancel := context.WithCancel(context.Background())
		cancel()
		s.mu.Lock()
		adapters := make([]adapter.Adapter, len(s.adapters))
		copy(adapters, s.adapters)
		s.mu.Unlock()

		for _, adp := range adapters {
			if err := adp.Stop(expired); err != nil {
				logger.Debug("Forced stop of %s adapter: %v", adp.Protocol(), err)
			}
		}
		<-s.done
	}

	s.mu.Lock()
	err := s.fatalErr
	s.mu.Unlock()

	result := ShutdownClean
	if s.forced.Load() {
		result = ShutdownForced
	}

	logger.Info("Server stopped (%s)", result)
	return result, err
}

// Run is the blocking convenience wrapper: Start, wait for a stop request
// (signal, context cancellation, or fatal adapter error), then
// AwaitShutdown with the given grace period.
func (s *Server) Run(ctx context.Context, grace time.Duration) (ShutdownResult, error) {
	if err := s.Start(ctx); err != nil {
		return ShutdownClean, err
	}

	select {
	case <-ctx.Done():
		s.RequestStop()
	case <-s.stopRequested:
	}

	return s.AwaitShutdown(grace)
}
