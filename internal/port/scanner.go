package port

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// defaultPollInterval is how often WaitFree re-checks a busy port.
const defaultPollInterval = 200 * time.Millisecond

// Scanner checks whether host ports are free.
//
// It asks the OS directly with net.Listen / net.ListenPacket rather than
// parsing /proc/net/* or running `ss`, which may need extra tools or
// permissions.
type Scanner struct {
	// PollInterval is the delay between checks in WaitFree.
	PollInterval time.Duration
}

// NewScanner creates a Scanner with the default poll interval.
func NewScanner() *Scanner {
	return &Scanner{PollInterval: defaultPollInterval}
}

// IsPortAvailable checks whether port is free for protocol ("tcp" or "udp").
//
// It binds all interfaces (":port") because the engine publishes ports on
// 0.0.0.0, so a loopback-only check would miss conflicts.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	addr := fmt.Sprintf(":%d", port)

	switch protocol {
	case "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = listener.Close() }()
		return true

	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = conn.Close() }()
		return true

	default:
		return false
	}
}

// FindAvailablePort returns the first free port in [startPort, endPort].
func (s *Scanner) FindAvailablePort(startPort, endPort int, protocol string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port, protocol) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, startPort, endPort)
}

// WaitFree waits up to timeout for a TCP port to become free.
//
// After the previous container is force-removed the engine's port proxy
// can hold the host port for a moment, so deploy polls briefly instead of
// failing on the first check. A port still busy at the deadline is
// returned as an ExitPortInUse CLIError naming the next free port, if any.
func (s *Scanner) WaitFree(ctx context.Context, port int, timeout time.Duration) error {
	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		if s.IsPortAvailable(port, "tcp") {
			return nil
		}
		if !time.Now().Before(deadline) {
			return s.busyError(port)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// busyError builds the port-in-use error, suggesting an alternative port
// from the next hundred.
func (s *Scanner) busyError(port int) error {
	message := fmt.Sprintf("host port %d is already in use", port)
	end := port + 100
	if end > 65535 {
		end = 65535
	}
	if port < 65535 {
		if alt, err := s.FindAvailablePort(port+1, end, "tcp"); err == nil {
			message = fmt.Sprintf("%s (port %d is free; set hostPort to use it)", message, alt)
		}
	}
	return model.NewCLIError(model.ExitPortInUse, message)
}
