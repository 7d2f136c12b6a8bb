package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/ahmed74ca/Multithreaded-server/internal/logger"
	"github.com/ahmed74ca/Multithreaded-server/internal/protocol/wire"
	"github.com/ahmed74ca/Multithreaded-server/pkg/store/journal"
)

// SessionState is the lifecycle state of one session.
//
// The machine is Active -> Closing -> Closed; Closed is terminal and every
// path reaches it, so a session can never exit without releasing its
// socket.
type SessionState int32

const (
	StateActive SessionState = iota
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseCause classifies why a session reached Closing.
type CloseCause string

const (
	// CausePeerClosed: the peer closed the connection (clean).
	CausePeerClosed CloseCause = "peer_closed"

	// CauseShutdown: the server stopped serving (clean).
	CauseShutdown CloseCause = "shutdown"

	// CauseTimeout: a read or write exceeded its budget (faulted).
	CauseTimeout CloseCause = "timeout"

	// CauseDecodeError: the peer sent a malformed frame (faulted).
	CauseDecodeError CloseCause = "decode_error"

	// CauseEncodeError: the handler output could not be framed (faulted).
	CauseEncodeError CloseCause = "encode_error"

	// CauseHandlerError: the handler failed or panicked (faulted).
	CauseHandlerError CloseCause = "handler_error"

	// CauseTransportError: the socket failed mid-session (faulted).
	CauseTransportError CloseCause = "transport_error"
)

// Clean reports whether the cause is a clean close (peer disconnect or
// shutdown) rather than a fault.
func (c CloseCause) Clean() bool {
	return c == CausePeerClosed || c == CauseShutdown
}

// session owns one accepted socket and runs its request/response cycle.
//
// Ownership is exclusive: the listener hands the socket over at accept
// time and never touches it again, so sessions share no mutable state and
// need no cross-session locking. The adapter's forced-closure path during
// shutdown is the single documented exception.
type session struct {
	id        uint64
	adapter   *TCPAdapter
	conn      *net.TCPConn
	startedAt time.Time

	state        atomic.Int32
	requests     atomic.Uint64
	lastActivity atomic.Int64 // unix nanos
}

// State returns the session's current lifecycle state.
func (s *session) State() SessionState {
	return SessionState(s.state.Load())
}

// serve runs the per-client loop until a terminal condition.
//
// Every iteration makes forward progress: read one frame, decode, dispatch,
// encode, write - then re-check the run state before looping. A non-fatal
// decode error terminates the session instead of retrying the same
// malformed input, and each blocking call carries an explicit deadline, so
// the loop can neither spin on a bad client nor block indefinitely on a
// silent one.
//
// A panic in the handler faults this session only; the recover here keeps
// one misbehaving connection from taking down the server.
func (s *session) serve(ctx context.Context) {
	cause := CauseShutdown
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in session %d from %s: %v", s.id, s.conn.RemoteAddr(), r)
			cause = CauseHandlerError
		}
		s.close(cause)
	}()

	clientAddr := s.conn.RemoteAddr().String()
	s.touch()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.adapter.shutdown:
			return
		default:
		}
		if !s.adapter.run.Running() {
			return
		}

		if c, err := s.handleRequest(ctx); err != nil {
			cause = c
			if c.Clean() {
				logger.Debug("Session %d from %s closing: %s", s.id, clientAddr, c)
			} else {
				logger.Warn("Session %d from %s faulted: %s: %v", s.id, clientAddr, c, err)
			}
			return
		}

		// Idle bound until the next request arrives.
		if err := s.conn.SetDeadline(time.Now().Add(s.adapter.sessionDeadline())); err != nil {
			cause = CauseTransportError
			return
		}
	}
}

// handleRequest runs one read-decode-dispatch-encode-write cycle.
//
// A nil error means the cycle completed and the loop may continue. A
// non-nil error is terminal for the session and comes with its close
// classification.
func (s *session) handleRequest(ctx context.Context) (CloseCause, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.adapter.config.ReadTimeout)); err != nil {
		return CauseTransportError, err
	}

	payload, err := s.adapter.codec.ReadFrame(s.conn)
	if err != nil {
		return s.classifyReadError(err), err
	}

	start := time.Now()
	response, err := s.adapter.handler(ctx, payload)
	s.adapter.metrics.RecordRequest(time.Since(start), err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return CauseShutdown, err
		}
		return CauseHandlerError, err
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.adapter.config.WriteTimeout)); err != nil {
		return CauseTransportError, err
	}

	if err := s.adapter.codec.WriteFrame(s.conn, response); err != nil {
		var encErr *wire.EncodeError
		switch {
		case errors.As(err, &encErr):
			return CauseEncodeError, err
		case isTimeout(err):
			return CauseTimeout, err
		default:
			return CauseTransportError, err
		}
	}

	s.requests.Add(1)
	s.touch()
	return "", nil
}

// classifyReadError maps a frame-read failure onto its close cause.
func (s *session) classifyReadError(err error) CloseCause {
	switch {
	case errors.Is(err, io.EOF):
		// End of stream before any header byte: the peer hung up.
		return CausePeerClosed
	case isTimeout(err):
		return CauseTimeout
	case wire.IsDecodeError(err):
		return CauseDecodeError
	case errors.Is(err, net.ErrClosed):
		// Socket closed out from under us: the shutdown escape hatch.
		return CauseShutdown
	default:
		// Includes io.ErrUnexpectedEOF: the peer died mid-frame.
		return CauseTransportError
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// touch updates the last-activity timestamp.
func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns when the session last completed a request.
func (s *session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// close runs the Closing -> Closed transition: shut down both socket
// directions, release the handle, and record the session end. It always
// completes, whatever the close cause, so no path leaks a socket. Safe
// against double invocation; only the first caller performs the close.
func (s *session) close(cause CloseCause) {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return
	}

	// Both directions, then the handle.
	_ = s.conn.CloseRead()
	_ = s.conn.CloseWrite()
	_ = s.conn.Close()

	s.state.Store(int32(StateClosed))

	s.adapter.metrics.RecordSessionClosed(string(cause))

	entry := journal.Entry{
		SessionID:  s.id,
		RemoteAddr: s.conn.RemoteAddr().String(),
		StartedAt:  s.startedAt,
		EndedAt:    time.Now(),
		CloseCause: string(cause),
		Faulted:    !cause.Clean(),
		Requests:   s.requests.Load(),
	}
	if err := s.adapter.journal.Record(context.Background(), entry); err != nil {
		logger.Debug("Failed to journal session %d: %v", s.id, err)
	}
}

// forceClose closes the socket out from under the worker. The worker's
// pending read or write fails immediately and its own close path still
// runs. Used only by the adapter's shutdown timeout.
func (s *session) forceClose() error {
	return s.conn.Close()
}
