package docker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docker/docker/client"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// defaultPingTimeout is the maximum duration to wait for a daemon
// response during Ping. A freshly installed engine can take a few
// seconds to answer.
const defaultPingTimeout = 10 * time.Second

// defaultSocketPaths lists the Unix sockets probed when DOCKER_HOST is
// not set, most-preferred first. Rootful engines on Linux (the deploy
// target) use the first one.
var defaultSocketPaths = []string{
	"/var/run/docker.sock",
	"/run/docker.sock",
}

// Client wraps the Docker Engine SDK client and exposes exactly the
// operations the deploy, redeploy, status and logs commands need.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* engine not running */ }
type Client struct {
	// inner is the underlying SDK client. It is wrapped rather than
	// embedded to keep the exposed API surface small.
	inner *client.Client
}

// NewClient creates a client for the local engine.
//
// DOCKER_HOST (and the other DOCKER_* variables) are honoured when set;
// otherwise the default socket paths are probed. Returns a CLIError with
// ExitDockerNotRunning when no socket is found or the client cannot be
// created.
func NewClient() (*Client, error) {
	if os.Getenv("DOCKER_HOST") != "" {
		c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, model.WrapCLIError(model.ExitDockerNotRunning,
				"failed to create Docker client from environment", err)
		}
		return &Client{inner: c}, nil
	}

	host, err := detectUnixSocket(defaultSocketPaths)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
	}
	return newClientWithHost(host)
}

// newClientWithHost creates a client connected to host, e.g.
// "unix:///var/run/docker.sock".
func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{inner: c}, nil
}

// detectUnixSocket returns the engine host URI for the first path that
// exists. Existence does not mean the daemon is listening; Ping checks that.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v; is Docker running?", paths)
}

// Ping verifies that the daemon is reachable, waiting at most
// defaultPingTimeout.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding; is Docker running?",
			err,
		)
	}
	return nil
}

// Close releases the resources held by the client. Safe to call more
// than once.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
