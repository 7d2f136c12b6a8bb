package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed74ca/Multithreaded-server/internal/protocol/wire"
)

// echoServer accepts one connection and echoes frames until the peer
// disconnects.
func echoServer(t *testing.T) *net.TCPAddr {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	codec := wire.NewCodec(0)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			payload, err := codec.ReadFrame(conn)
			if err != nil {
				return
			}
			if err := codec.WriteFrame(conn, payload); err != nil {
				return
			}
		}
	}()

	return listener.Addr().(*net.TCPAddr)
}

func TestConnectInvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
	}{
		{name: "port zero", host: "127.0.0.1", port: 0},
		{name: "port negative", host: "127.0.0.1", port: -1},
		{name: "port too large", host: "127.0.0.1", port: 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{Host: tt.host, Port: tt.port})
			err := c.Connect()
			require.Error(t, err)

			var addrErr *AddressError
			assert.True(t, errors.As(err, &addrErr), "expected AddressError, got %T", err)
			assert.False(t, c.Connected())
		})
	}
}

func TestConnectRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	c := New(Config{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	err = c.Connect()
	require.Error(t, err)

	var connErr *ConnError
	assert.True(t, errors.As(err, &connErr), "expected ConnError, got %T", err)
	assert.False(t, c.Connected())
}

func TestSendReceiveRoundTrip(t *testing.T) {
	addr := echoServer(t)

	c := New(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second})
	require.NoError(t, c.Connect())
	defer c.Disconnect()

	require.True(t, c.Connected())

	require.NoError(t, c.Send([]byte("hello")))
	resp, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), resp)
}

func TestCall(t *testing.T) {
	addr := echoServer(t)

	c := New(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second})
	require.NoError(t, c.Connect())
	defer c.Disconnect()

	for _, msg := range []string{"one", "two", "three"} {
		resp, err := c.Call([]byte(msg))
		require.NoError(t, err)
		assert.Equal(t, []byte(msg), resp)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Config{Host: "127.0.0.1", Port: 9})

	err := c.Send([]byte("data"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReceiveWhileDisconnected(t *testing.T) {
	c := New(Config{Host: "127.0.0.1", Port: 9})

	_, err := c.Receive()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendEmptyPayload(t *testing.T) {
	addr := echoServer(t)

	c := New(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second})
	require.NoError(t, c.Connect())
	defer c.Disconnect()

	err := c.Send(nil)
	require.Error(t, err)

	var encErr *wire.EncodeError
	assert.True(t, errors.As(err, &encErr), "expected EncodeError, got %T", err)
}

func TestDisconnectIdempotent(t *testing.T) {
	addr := echoServer(t)

	c := New(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second})
	require.NoError(t, c.Connect())

	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())

	// A second disconnect is a no-op.
	require.NoError(t, c.Disconnect())

	// And the client rejects use afterwards.
	assert.ErrorIs(t, c.Send([]byte("late")), ErrNotConnected)
}

func TestReceiveTimeout(t *testing.T) {
	// Server that accepts but never responds.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(5 * time.Second)
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	c := New(Config{Host: "127.0.0.1", Port: port, Timeout: 200 * time.Millisecond})
	require.NoError(t, c.Connect())
	defer c.Disconnect()

	_, err = c.Receive()
	require.Error(t, err)

	var connErr *ConnError
	require.True(t, errors.As(err, &connErr), "expected ConnError, got %T", err)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}
