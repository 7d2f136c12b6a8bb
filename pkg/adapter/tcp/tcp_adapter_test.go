package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed74ca/Multithreaded-server/pkg/client"
	"github.com/ahmed74ca/Multithreaded-server/pkg/store/journal/memory"
)

// testConfig returns a config tuned for fast tests: OS-assigned port and
// short timeouts.
func testConfig() TCPConfig {
	return TCPConfig{
		Host:               "127.0.0.1",
		Port:               0,
		ReadTimeout:        300 * time.Millisecond,
		WriteTimeout:       300 * time.Millisecond,
		IdleTimeout:        5 * time.Second,
		ShutdownTimeout:    2 * time.Second,
		AcceptPollInterval: 20 * time.Millisecond,
		MaxFrameSize:       1024,
	}
}

// startAdapter runs Serve on a background goroutine and waits for the
// listener to bind. The returned stop function cancels the serve context
// and returns Serve's error.
func startAdapter(t *testing.T, adpt *TCPAdapter) (stop func() error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- adpt.Serve(ctx)
	}()

	require.Eventually(t, func() bool {
		return adpt.Port() != 0
	}, 2*time.Second, 5*time.Millisecond, "listener never bound")

	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-serveErr:
			case <-time.After(5 * time.Second):
				t.Fatal("Serve did not return after cancel")
			}
		})
		return err
	}
}

func newTestClient(t *testing.T, port int) *client.Client {
	t.Helper()
	c := client.New(client.Config{
		Host:    "127.0.0.1",
		Port:    port,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestAdapterEchoRoundTrip(t *testing.T) {
	adpt := New(testConfig(), nil, nil, nil)
	stop := startAdapter(t, adpt)
	defer stop()

	c := newTestClient(t, adpt.Port())

	resp, err := c.Call([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), resp)

	require.NoError(t, stop())
}

func TestAdapterConcurrentClientsCleanShutdown(t *testing.T) {
	journalStore := memory.New(128)
	adpt := New(testConfig(), nil, nil, journalStore)
	stop := startAdapter(t, adpt)
	defer stop()

	const clients = 50
	var wg sync.WaitGroup
	errs := make(chan error, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			c := client.New(client.Config{
				Host:    "127.0.0.1",
				Port:    adpt.Port(),
				Timeout: 2 * time.Second,
			})
			if err := c.Connect(); err != nil {
				errs <- err
				return
			}
			defer c.Disconnect()

			for j := 0; j < 5; j++ {
				msg := []byte(fmt.Sprintf("client-%d-msg-%d", n, j))
				resp, err := c.Call(msg)
				if err != nil {
					errs <- err
					return
				}
				if string(resp) != string(msg) {
					errs <- fmt.Errorf("wrong echo for %s: %s", msg, resp)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("client error: %v", err)
	}

	// Every client disconnected, so shutdown must complete cleanly.
	require.NoError(t, stop())
	assert.EqualValues(t, 0, adpt.ActiveSessions())

	// Each disconnect is journaled as a clean peer close.
	require.Eventually(t, func() bool {
		entries, err := journalStore.Recent(context.Background(), clients)
		return err == nil && len(entries) == clients
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := journalStore.Recent(context.Background(), clients)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, string(CausePeerClosed), e.CloseCause)
		assert.False(t, e.Faulted)
		assert.EqualValues(t, 5, e.Requests)
	}
}

func TestAdapterStopsAcceptingAfterShutdown(t *testing.T) {
	adpt := New(testConfig(), nil, nil, nil)
	stop := startAdapter(t, adpt)

	port := adpt.Port()
	require.NoError(t, stop())

	// The listening socket is gone; new connections are refused.
	_, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	assert.Error(t, err)
}

func TestAdapterSilentPeerTimesOut(t *testing.T) {
	journalStore := memory.New(16)
	adpt := New(testConfig(), nil, nil, journalStore)
	stop := startAdapter(t, adpt)
	defer stop()

	// Connect and never send a byte.
	conn, err := net.Dial("tcp", adpt.Addr())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		entries, err := journalStore.Recent(context.Background(), 1)
		return err == nil && len(entries) == 1
	}, 3*time.Second, 20*time.Millisecond, "silent session never closed")

	entries, err := journalStore.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, string(CauseTimeout), entries[0].CloseCause)
	assert.True(t, entries[0].Faulted)
}

func TestAdapterOversizedFrameFaultsOnlyThatSession(t *testing.T) {
	journalStore := memory.New(16)
	adpt := New(testConfig(), nil, nil, journalStore)
	stop := startAdapter(t, adpt)
	defer stop()

	// A healthy session stays up throughout.
	healthy := newTestClient(t, adpt.Port())

	// The bad peer declares a length far past the frame bound.
	bad, err := net.Dial("tcp", adpt.Addr())
	require.NoError(t, err)
	defer bad.Close()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 10*1024*1024)
	_, err = bad.Write(header)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := journalStore.Recent(context.Background(), 4)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.CloseCause == string(CauseDecodeError) {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "oversized frame never faulted the session")

	// The other session is unaffected.
	resp, err := healthy.Call([]byte("still here"))
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), resp)
}

func TestAdapterTruncatedFrameTimesOut(t *testing.T) {
	journalStore := memory.New(16)
	adpt := New(testConfig(), nil, nil, journalStore)
	stop := startAdapter(t, adpt)
	defer stop()

	// Declare 10 payload bytes but deliver only 4, then stall.
	conn, err := net.Dial("tcp", adpt.Addr())
	require.NoError(t, err)
	defer conn.Close()

	frame := make([]byte, 8)
	binary.BigEndian.PutUint32(frame, 10)
	copy(frame[4:], "abcd")
	_, err = conn.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := journalStore.Recent(context.Background(), 1)
		return err == nil && len(entries) == 1
	}, 3*time.Second, 20*time.Millisecond, "stalled session never closed")

	entries, err := journalStore.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, string(CauseTimeout), entries[0].CloseCause)
}

func TestAdapterHandlerErrorFaultsSession(t *testing.T) {
	journalStore := memory.New(16)
	failing := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, fmt.Errorf("handler rejected %q", payload)
	}
	adpt := New(testConfig(), failing, nil, journalStore)
	stop := startAdapter(t, adpt)
	defer stop()

	c := newTestClient(t, adpt.Port())
	require.NoError(t, c.Send([]byte("boom")))

	require.Eventually(t, func() bool {
		entries, err := journalStore.Recent(context.Background(), 1)
		return err == nil && len(entries) == 1
	}, 3*time.Second, 20*time.Millisecond)

	entries, err := journalStore.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, string(CauseHandlerError), entries[0].CloseCause)
	assert.True(t, entries[0].Faulted)
}

func TestAdapterHandlerPanicFaultsOnlyThatSession(t *testing.T) {
	journalStore := memory.New(16)
	panicky := func(ctx context.Context, payload []byte) ([]byte, error) {
		if string(payload) == "panic" {
			panic("handler exploded")
		}
		return payload, nil
	}
	adpt := New(testConfig(), panicky, nil, journalStore)
	stop := startAdapter(t, adpt)
	defer stop()

	victim := newTestClient(t, adpt.Port())
	bystander := newTestClient(t, adpt.Port())

	require.NoError(t, victim.Send([]byte("panic")))

	require.Eventually(t, func() bool {
		entries, err := journalStore.Recent(context.Background(), 4)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.CloseCause == string(CauseHandlerError) {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := bystander.Call([]byte("fine"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fine"), resp)
}

func TestAdapterForcedShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond

	// A handler that blocks well past the shutdown budget, ignoring its
	// context.
	blocking := func(ctx context.Context, payload []byte) ([]byte, error) {
		time.Sleep(2 * time.Second)
		return payload, nil
	}
	adpt := New(cfg, blocking, nil, nil)
	stop := startAdapter(t, adpt)

	c := newTestClient(t, adpt.Port())
	require.NoError(t, c.Send([]byte("stall")))

	// Give the request time to reach the handler.
	time.Sleep(50 * time.Millisecond)

	err := stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "force-closed")
}

func TestAdapterMaxConnectionsBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1

	adpt := New(cfg, nil, nil, nil)
	stop := startAdapter(t, adpt)
	defer stop()

	first := newTestClient(t, adpt.Port())

	// The second connect succeeds at TCP level (kernel backlog) but is
	// not served until the first session ends.
	second := client.New(client.Config{
		Host:    "127.0.0.1",
		Port:    adpt.Port(),
		Timeout: 3 * time.Second,
	})
	require.NoError(t, second.Connect())
	defer second.Disconnect()

	// Release the slot, then the queued connection gets served.
	require.NoError(t, first.Disconnect())

	resp, err := second.Call([]byte("queued"))
	require.NoError(t, err)
	assert.Equal(t, []byte("queued"), resp)
}

func TestStopBeforeServeClosesListener(t *testing.T) {
	adpt := New(testConfig(), nil, nil, nil)

	// Stop lands before Serve has bound anything.
	require.NoError(t, adpt.Stop(nil))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- adpt.Serve(context.Background())
	}()

	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after a prior Stop")
	}

	// Whatever socket Serve bound on its way out must be released.
	if port := adpt.Port(); port != 0 {
		_, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
		assert.Error(t, err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := TCPConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.AcceptPollInterval)
	assert.Equal(t, 0, cfg.Port)

	cfg = TCPConfig{Port: -1}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 900000

	assert.Panics(t, func() {
		New(cfg, nil, nil, nil)
	})
}
