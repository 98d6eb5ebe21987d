package port

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// listenTCP binds an OS-assigned TCP port and returns the listener and
// its port. ":0" avoids flakiness from hardcoded ports.
func listenTCP(t *testing.T) (net.Listener, int) {
	t.Helper()
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "failed to start test listener")
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return listener, tcpAddr.Port
}

func TestIsPortAvailable_FreePort(t *testing.T) {
	scanner := NewScanner()

	freePort, err := scanner.FindAvailablePort(50000, 50100, "tcp")
	require.NoError(t, err, "should find at least one free port in 50000-50100")

	assert.True(t, scanner.IsPortAvailable(freePort, "tcp"), "port %d should be available", freePort)
}

// TestIsPortAvailable_UsedPort simulates another process holding the host
// port the service wants to publish.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	listener, port := listenTCP(t)
	defer func() { _ = listener.Close() }()

	assert.False(t, NewScanner().IsPortAvailable(port, "tcp"), "port %d should be in use", port)
}

func TestIsPortAvailable_UDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err, "failed to start test UDP listener")
	defer func() { _ = conn.Close() }()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)

	assert.False(t, NewScanner().IsPortAvailable(udpAddr.Port, "udp"))
}

// TestIsPortAvailable_UnknownProtocol verifies the fail-safe answer for an
// unrecognized protocol.
func TestIsPortAvailable_UnknownProtocol(t *testing.T) {
	assert.False(t, NewScanner().IsPortAvailable(50000, "sctp"))
}

func TestFindAvailablePort(t *testing.T) {
	scanner := NewScanner()

	port, err := scanner.FindAvailablePort(50000, 50100, "tcp")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 50000)
	assert.LessOrEqual(t, port, 50100)
}

func TestFindAvailablePort_NoneAvailable(t *testing.T) {
	listener, port := listenTCP(t)
	defer func() { _ = listener.Close() }()

	_, err := NewScanner().FindAvailablePort(port, port, "tcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available")
}

func TestWaitFree_AlreadyFree(t *testing.T) {
	scanner := NewScanner()
	port, err := scanner.FindAvailablePort(52000, 52100, "tcp")
	require.NoError(t, err)

	assert.NoError(t, scanner.WaitFree(context.Background(), port, 0))
}

// TestWaitFree_ReleasedDuringWait simulates the engine's port proxy
// letting go of the port shortly after the old container is removed.
func TestWaitFree_ReleasedDuringWait(t *testing.T) {
	listener, port := listenTCP(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = listener.Close()
	}()

	scanner := &Scanner{PollInterval: 20 * time.Millisecond}
	assert.NoError(t, scanner.WaitFree(context.Background(), port, 5*time.Second))
}

// TestWaitFree_StillBusy verifies a port held past the deadline yields
// ExitPortInUse.
func TestWaitFree_StillBusy(t *testing.T) {
	listener, port := listenTCP(t)
	defer func() { _ = listener.Close() }()

	scanner := &Scanner{PollInterval: 10 * time.Millisecond}
	err := scanner.WaitFree(context.Background(), port, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, model.ExitPortInUse, model.ExitCodeOf(err))
	assert.Contains(t, err.Error(), "already in use")
}

func TestWaitFree_Cancelled(t *testing.T) {
	listener, port := listenTCP(t)
	defer func() { _ = listener.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := &Scanner{PollInterval: 10 * time.Millisecond}
	err := scanner.WaitFree(ctx, port, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
