// Package tcp implements the framed-message TCP adapter: the accept loop
// that turns a bound listening socket into a stream of sessions, and the
// per-session worker that runs the read-decode-dispatch-encode-write cycle.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmed74ca/Multithreaded-server/internal/logger"
	"github.com/ahmed74ca/Multithreaded-server/internal/protocol/wire"
	"github.com/ahmed74ca/Multithreaded-server/internal/ratelimiter"
	"github.com/ahmed74ca/Multithreaded-server/pkg/adapter"
	"github.com/ahmed74ca/Multithreaded-server/pkg/metrics"
	"github.com/ahmed74ca/Multithreaded-server/pkg/store/journal"
	"github.com/ahmed74ca/Multithreaded-server/pkg/store/journal/memory"
)

// TCPAdapter implements the adapter.Adapter interface for the framed
// message protocol.
//
// Architecture:
// TCPAdapter owns the listening socket and the connection lifecycle. The
// listener runs with a bounded accept deadline (the poll interval), so a
// quiet socket surfaces as a timeout - the expected would-block outcome -
// rather than an indefinite block, and the run state is re-checked on
// every interval. Each accepted socket is handed to exactly one session
// goroutine; ownership transfers once at accept time and never again.
//
// Shutdown flow:
//  1. Context cancelled, run state stopped, or Stop() called
//  2. Listener closed (no new sessions are ever spawned after this point)
//  3. shutdownCtx cancelled (signals in-flight handlers to abort)
//  4. Wait for active sessions to complete (up to ShutdownTimeout)
//  5. Force-close any remaining session sockets after the timeout
//
// Thread safety:
// All methods are safe for concurrent use. Shutdown uses sync.Once so
// Stop() stays idempotent even when racing context cancellation.
type TCPAdapter struct {
	// config holds the listener configuration (address, timeouts, limits)
	config TCPConfig

	// handler is the pluggable capability invoked per decoded frame
	handler Handler

	// codec frames and validates every message on every session
	codec *wire.Codec

	// metrics collects connection and request observations (never nil)
	metrics metrics.TCPMetrics

	// journal records completed sessions (never nil)
	journal journal.Store

	// run is the controller-owned accepting flag, injected before Serve.
	// Standalone use (tests) gets a private running instance.
	run *adapter.RunState

	// listener is the bound listening socket; closed during shutdown.
	// Atomic because Stop() may race Serve()'s bind.
	listener atomic.Pointer[net.TCPListener]

	// boundPort holds the actual port after listening (Port may be 0 in
	// config for ephemeral allocation)
	boundPort atomic.Int32

	// limiter paces accepts when an accept rate is configured (may be nil)
	limiter *ratelimiter.RateLimiter

	// activeConns tracks live session goroutines for graceful shutdown
	activeConns sync.WaitGroup

	// shutdownOnce protects the shutdown channel close and listener cleanup
	shutdownOnce sync.Once

	// shutdown is closed when shutdown is initiated
	shutdown chan struct{}

	// connCount is the number of currently active sessions
	connCount atomic.Int32

	// connSemaphore bounds concurrent sessions when MaxConnections > 0
	connSemaphore chan struct{}

	// activeSessions maps session id -> *session for forced closure
	activeSessions sync.Map

	// sessionSeq issues process-unique session identifiers
	sessionSeq atomic.Uint64

	// shutdownCtx is cancelled during shutdown to abort in-flight handlers
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// TCPConfig holds configuration for the TCP adapter.
//
// Zero timeout values are replaced with defaults by ApplyDefaults; the
// adapter never runs a socket without a timeout.
type TCPConfig struct {
	// Host is the address to bind. Empty means all interfaces.
	Host string `mapstructure:"host"`

	// Port is the TCP port to listen on. 0 lets the OS pick one (tests).
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections bounds concurrent sessions. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadTimeout bounds reading one complete frame.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one response frame.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes sessions with no traffic between requests.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout bounds the wait for active sessions during shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// AcceptPollInterval is the bound on a single accept attempt. An
	// expired interval is the would-block outcome: re-check run state and
	// poll again. It also bounds how long a stop request can go unnoticed.
	AcceptPollInterval time.Duration `mapstructure:"accept_poll_interval" validate:"min=0"`

	// MaxFrameSize bounds the declared payload length of incoming frames.
	MaxFrameSize int `mapstructure:"max_frame_size" validate:"min=0"`

	// AcceptRate paces accepts per second. 0 means unlimited.
	AcceptRate uint `mapstructure:"accept_rate"`

	// AcceptBurst is the accept rate burst capacity.
	AcceptBurst uint `mapstructure:"accept_burst"`

	// MetricsLogInterval is how often to log adapter load. 0 disables.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *TCPConfig) ApplyDefaults() {
	if c.Port < 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.AcceptPollInterval == 0 {
		c.AcceptPollInterval = 100 * time.Millisecond
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = wire.DefaultMaxFrameSize
	}
}

// DefaultPort is the port used when none is configured.
const DefaultPort = 8080

// validate checks the configuration for production use.
func (c *TCPConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("read/write timeouts must be > 0 (got %v/%v)", c.ReadTimeout, c.WriteTimeout)
	}
	if c.AcceptPollInterval <= 0 {
		return fmt.Errorf("invalid AcceptPollInterval %v: must be > 0", c.AcceptPollInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("invalid MaxFrameSize %d: must be > 0", c.MaxFrameSize)
	}
	return nil
}

// noopTCPMetrics is a local no-op used when no metrics collector is provided.
type noopTCPMetrics struct{}

func (noopTCPMetrics) RecordRequest(duration time.Duration, err error) {}
func (noopTCPMetrics) RecordSessionClosed(cause string)                {}
func (noopTCPMetrics) SetActiveConnections(count int32)                {}
func (noopTCPMetrics) RecordConnectionAccepted()                       {}
func (noopTCPMetrics) RecordConnectionClosed()                         {}

// New creates a TCPAdapter with the given configuration and handler.
//
// Zero config values are replaced with defaults; an invalid configuration
// panics (programmer error). A nil handler gets EchoHandler, a nil metrics
// collector gets a no-op, and a nil journal gets an in-memory store.
//
// The adapter is created stopped; call Serve() to start accepting.
func New(config TCPConfig, handler Handler, tcpMetrics metrics.TCPMetrics, journalStore journal.Store) *TCPAdapter {
	config.ApplyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid TCP config: %v", err))
	}

	if handler == nil {
		handler = EchoHandler
	}
	if tcpMetrics == nil {
		tcpMetrics = noopTCPMetrics{}
	}
	if journalStore == nil {
		journalStore = memory.New(0)
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("TCP connection limit: %d", config.MaxConnections)
	}

	var limiter *ratelimiter.RateLimiter
	if config.AcceptRate > 0 {
		limiter = ratelimiter.New(config.AcceptRate, config.AcceptBurst)
		logger.Debug("TCP accept rate: %d/s (burst %d)", config.AcceptRate, limiter.Burst())
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &TCPAdapter{
		config:         config,
		handler:        handler,
		codec:          wire.NewCodec(config.MaxFrameSize),
		metrics:        tcpMetrics,
		journal:        journalStore,
		limiter:        limiter,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetRunState injects the controller-owned run state. Called once before
// Serve(); no synchronization needed.
func (s *TCPAdapter) SetRunState(rs *adapter.RunState) {
	s.run = rs
}

// Serve binds the listening socket and accepts connections until shutdown.
//
// Each poll iteration is bounded by AcceptPollInterval. A deadline expiry
// means no connection was pending - the expected would-block outcome, never
// logged as an error - and the loop re-checks the run state before polling
// again. Transient accept errors are logged and polling continues; only a
// closed listening socket escalates out of the loop.
//
// Returns nil on clean shutdown or an error when shutdown was forced or
// the listener failed.
func (s *TCPAdapter) Serve(ctx context.Context) error {
	if s.run == nil {
		// Standalone use without a controller: self-owned run state.
		s.run = adapter.NewRunState()
		s.run.Start()
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("resolve listen address %q: %w", addr, err)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", addr, err)
	}
	// A stop request that lands before the bind misses the listener in
	// initiateShutdown; this close covers every exit path. A second close
	// reports ErrClosed, which is fine.
	defer func() { _ = listener.Close() }()

	s.listener.Store(listener)
	s.boundPort.Store(int32(listener.Addr().(*net.TCPAddr).Port))
	logger.Info("TCP server listening on %s", listener.Addr())
	logger.Debug("TCP config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v poll_interval=%v max_frame=%d",
		s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout,
		s.config.IdleTimeout, s.config.AcceptPollInterval, s.config.MaxFrameSize)

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logLoad(ctx)
	}

	for {
		select {
		case <-s.shutdown:
			return s.gracefulShutdown()
		default:
		}
		if !s.run.Running() {
			s.initiateShutdown()
			return s.gracefulShutdown()
		}

		// Backpressure: block here when at MaxConnections.
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		if s.limiter != nil && !s.limiter.Allow() {
			if err := s.limiter.Wait(s.shutdownCtx); err != nil {
				s.releaseSlot()
				return s.gracefulShutdown()
			}
		}

		// Bound this accept attempt so a quiet socket cannot block past
		// one poll interval.
		if err := listener.SetDeadline(time.Now().Add(s.config.AcceptPollInterval)); err != nil {
			s.releaseSlot()
			s.initiateShutdown()
			s.gracefulShutdownWait()
			return fmt.Errorf("listening socket invalid: %w", err)
		}

		tcpConn, err := listener.AcceptTCP()
		if err != nil {
			s.releaseSlot()

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Would-block: nothing pending. Expected, not an error.
				continue
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				// The listening socket itself is gone: fatal condition,
				// reported to the controller via the error return.
				s.initiateShutdown()
				s.gracefulShutdownWait()
				return fmt.Errorf("listening socket closed unexpectedly: %w", err)
			}

			// Transient accept failure (resource exhaustion, RST during
			// accept): keep polling.
			logger.Debug("Error accepting connection: %v", err)
			continue
		}

		s.startSession(tcpConn)
	}
}

// startSession constructs a session for an accepted socket and spawns its
// worker goroutine. Ownership of the socket transfers to the session here
// and never returns.
func (s *TCPAdapter) startSession(tcpConn *net.TCPConn) {
	// The socket carries a timeout from the moment it exists.
	if err := tcpConn.SetDeadline(time.Now().Add(s.sessionDeadline())); err != nil {
		logger.Warn("Failed to set initial deadline for %s: %v", tcpConn.RemoteAddr(), err)
	}

	sess := s.newSession(tcpConn)

	s.activeConns.Add(1)
	current := s.connCount.Add(1)
	s.activeSessions.Store(sess.id, sess)

	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(current)

	logger.Debug("Session %d accepted from %s (active: %d)", sess.id, tcpConn.RemoteAddr(), current)

	go func() {
		defer func() {
			s.activeSessions.Delete(sess.id)
			s.activeConns.Done()
			remaining := s.connCount.Add(-1)
			s.releaseSlot()

			s.metrics.RecordConnectionClosed()
			s.metrics.SetActiveConnections(remaining)

			logger.Debug("Session %d closed (active: %d)", sess.id, remaining)
		}()

		sess.serve(s.shutdownCtx)
	}()
}

// releaseSlot returns one connection semaphore slot, if limiting is on.
func (s *TCPAdapter) releaseSlot() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

// sessionDeadline is the idle bound applied between requests.
func (s *TCPAdapter) sessionDeadline() time.Duration {
	if s.config.IdleTimeout > 0 {
		return s.config.IdleTimeout
	}
	return s.config.ReadTimeout
}

// initiateShutdown flips the adapter into shutdown: stops the run state,
// closes the listener, and cancels in-flight handler contexts. Safe to
// call multiple times and from multiple goroutines.
func (s *TCPAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("TCP shutdown initiated")

		// run is nil when Stop() arrives before SetRunState/Serve; the
		// closed shutdown channel alone is enough to keep Serve from
		// accepting.
		if s.run != nil {
			s.run.Stop()
		}
		close(s.shutdown)

		if listener := s.listener.Load(); listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing TCP listener: %v", err)
			}
		}

		s.cancelRequests()
	})
}

// gracefulShutdown waits for active sessions up to ShutdownTimeout, then
// force-closes whatever remains.
//
// Returns nil when every session completed on its own (a clean shutdown),
// or an error naming how many sockets were closed out from under their
// workers (a forced shutdown).
func (s *TCPAdapter) gracefulShutdown() error {
	active := s.connCount.Load()
	logger.Info("TCP graceful shutdown: waiting for %d active session(s) (timeout: %v)",
		active, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("TCP graceful shutdown complete: all sessions closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("TCP shutdown timeout exceeded: %d session(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseSessions()
		return fmt.Errorf("tcp shutdown timeout: %d sessions force-closed", remaining)
	}
}

// gracefulShutdownWait waits for sessions after a fatal listener error,
// discarding the forced/clean distinction because the caller already has
// an error to report.
func (s *TCPAdapter) gracefulShutdownWait() {
	if err := s.gracefulShutdown(); err != nil {
		logger.Debug("Shutdown after listener failure: %v", err)
	}
}

// forceCloseSessions closes every remaining session socket. This is the
// one place a socket is closed by anything other than its owning worker:
// the documented ownership override during shutdown. The worker's next
// read or write fails immediately, and its Closing -> Closed transition
// still runs, so even a force-closed socket is released by its owner's
// cleanup path.
func (s *TCPAdapter) forceCloseSessions() {
	closed := 0
	s.activeSessions.Range(func(key, value any) bool {
		sess := value.(*session)
		if err := sess.forceClose(); err != nil {
			logger.Debug("Error force-closing session %d: %v", sess.id, err)
		} else {
			closed++
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed %d session(s)", closed)
	}
}

// Stop initiates graceful shutdown and waits for sessions to drain.
//
// Idempotent and safe to call concurrently with Serve(). A nil ctx waits
// the configured ShutdownTimeout; otherwise the ctx bounds the wait and
// remaining sessions are force-closed when it expires.
func (s *TCPAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		s.forceCloseSessions()
		return fmt.Errorf("tcp stop: %d sessions force-closed: %w", remaining, ctx.Err())
	}
}

// logLoad periodically logs the active session count.
func (s *TCPAdapter) logLoad(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("TCP load: active_sessions=%d", s.connCount.Load())
		}
	}
}

// ActiveSessions returns the number of sessions currently being served.
func (s *TCPAdapter) ActiveSessions() int32 {
	return s.connCount.Load()
}

// newSession wraps an accepted socket in a session worker.
func (s *TCPAdapter) newSession(tcpConn *net.TCPConn) *session {
	return &session{
		id:        s.sessionSeq.Add(1),
		adapter:   s,
		conn:      tcpConn,
		startedAt: time.Now(),
	}
}

// Port returns the port the listener is bound to, or the configured port
// before Serve() has bound the socket.
func (s *TCPAdapter) Port() int {
	if p := s.boundPort.Load(); p != 0 {
		return int(p)
	}
	return s.config.Port
}

// Addr returns the bound listen address as host:port, or "" before bind.
func (s *TCPAdapter) Addr() string {
	listener := s.listener.Load()
	if listener == nil {
		return ""
	}
	return listener.Addr().String()
}

// Protocol returns the protocol identifier for logging.
func (s *TCPAdapter) Protocol() string {
	return "TCP"
}
