// Package client implements the outbound side of a session: a connector
// that opens, validates, uses, and cleanly closes a framed-message
// connection. It is the counterpart callers (and test harnesses) use to
// talk to the server.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ahmed74ca/Multithreaded-server/internal/logger"
	"github.com/ahmed74ca/Multithreaded-server/internal/protocol/wire"
)

// ErrNotConnected is returned by Send and Receive while disconnected.
// It reflects caller misuse rather than a system fault, so it surfaces as
// a warning, never a crash.
var ErrNotConnected = errors.New("client: not connected")

// AddressError reports that the target address failed resolution or
// validation before any socket was attempted. It is distinct from
// ConnError, which covers the socket attempt itself.
type AddressError struct {
	Address string
	Err     error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("client: invalid address %q: %v", e.Address, e.Err)
}

func (e *AddressError) Unwrap() error { return e.Err }

// ConnError reports a transport-level failure: the dial itself, or a read
// or write on an established connection.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("client: %s failed: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Config holds the connector settings.
type Config struct {
	// Host and Port form the target address.
	Host string
	Port int

	// Timeout bounds the dial and every read and write. Zero falls back
	// to DefaultTimeout; the socket is never left without one.
	Timeout time.Duration

	// MaxFrameSize bounds frames in both directions. Zero uses the codec
	// default.
	MaxFrameSize int
}

// DefaultTimeout is applied when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client wraps an optional active socket. Its two states are disconnected
// (conn == nil) and connected; no send or receive is ever attempted while
// disconnected - such calls are rejected with ErrNotConnected, not
// silently dropped.
//
// Thread safety: all methods are safe for concurrent use, though the
// request/response pairing of Call assumes one caller at a time.
type Client struct {
	config Config
	codec  *wire.Codec

	mu   sync.Mutex
	conn *net.TCPConn
	addr *net.TCPAddr // resolved remote address, set on Connect
}

// New creates a disconnected Client for the given target.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		config: config,
		codec:  wire.NewCodec(config.MaxFrameSize),
	}
}

// Connect resolves the target address and opens the connection.
//
// Resolution failure fails fast with *AddressError before any socket
// work; a dial failure returns *ConnError. Connecting while already
// connected closes the previous socket first.
func (c *Client) Connect() error {
	address := net.JoinHostPort(c.config.Host, fmt.Sprintf("%d", c.config.Port))

	if c.config.Port <= 0 || c.config.Port > 65535 {
		return &AddressError{Address: address, Err: fmt.Errorf("port out of range")}
	}

	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return &AddressError{Address: address, Err: err}
	}

	logger.Debug("Connecting to %s", addr)

	conn, err := net.DialTimeout("tcp", addr.String(), c.config.Timeout)
	if err != nil {
		return &ConnError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn.(*net.TCPConn)
	c.addr = addr

	logger.Debug("Connected to %s", addr)
	return nil
}

// Connected reports whether the client currently holds an active socket.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// RemoteAddr returns the resolved remote address, or nil while it has
// never connected.
func (c *Client) RemoteAddr() *net.TCPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Send frames payload and writes it.
//
// An empty payload is an encoding failure (*wire.EncodeError). Sending
// while disconnected warns and returns ErrNotConnected.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		logger.Warn("Send attempted without an active connection")
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return &ConnError{Op: "send", Err: err}
	}

	if err := c.codec.WriteFrame(conn, payload); err != nil {
		var encErr *wire.EncodeError
		if errors.As(err, &encErr) {
			return err
		}
		return &ConnError{Op: "send", Err: err}
	}
	return nil
}

// Receive reads one response frame.
//
// Receiving while disconnected warns and returns ErrNotConnected. Frame
// validation failures pass through as *wire.DecodeError; transport
// failures (including timeouts) are wrapped in *ConnError.
func (c *Client) Receive() ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		logger.Warn("Receive attempted without an active connection")
		return nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return nil, &ConnError{Op: "receive", Err: err}
	}

	payload, err := c.codec.ReadFrame(conn)
	if err != nil {
		if wire.IsDecodeError(err) {
			return nil, err
		}
		return nil, &ConnError{Op: "receive", Err: err}
	}
	return payload, nil
}

// Call sends payload and waits for the response frame: one strictly
// ordered request/response pair, matching the server's per-session
// ordering guarantee.
func (c *Client) Call(payload []byte) ([]byte, error) {
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	return c.Receive()
}

// Disconnect shuts down both socket directions before releasing the
// handle. Idempotent: disconnecting while already disconnected is a
// no-op, not an error.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	_ = c.conn.CloseRead()
	_ = c.conn.CloseWrite()
	err := c.conn.Close()
	c.conn = nil

	logger.Debug("Disconnected from %s", c.addr)
	if err != nil {
		return &ConnError{Op: "disconnect", Err: err}
	}
	return nil
}
