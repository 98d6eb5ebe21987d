// Package deploy orchestrates the deploy and redeploy commands.
//
// Both commands are strictly linear: each step runs only if the previous
// one succeeded, and the first failure aborts the command with a
// model.CLIError. The only failures tolerated are tear-down steps whose
// target may legitimately not exist (a missing container, a compose stack
// that is not up).
//
// Every external effect goes through one of the small interfaces below,
// implemented in production by the docker, host, port and gitsync
// packages, so the ordering guarantees can be tested with fakes.
package deploy

import (
	"context"
	"io"
	"time"

	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/gitsync"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// Inspector reads container state and logs.
type Inspector interface {
	InspectContainer(ctx context.Context, name string) (*model.ContainerState, error)
	TailLogs(ctx context.Context, name string, lines int, w io.Writer) error
	Close() error
}

// Engine is the container engine as used by deploy.
type Engine interface {
	Inspector
	Ping(ctx context.Context) error
	BuildImage(ctx context.Context, opts docker.BuildOptions, out io.Writer) error
	RemoveContainer(ctx context.Context, name string) (bool, error)
	RunContainer(ctx context.Context, spec *model.RunSpec) (string, error)
}

// PrivilegeChecker fails unless the process may administer the host.
type PrivilegeChecker interface {
	RequireRoot() error
}

// EngineInstaller installs the container engine when it is missing and
// reports whether it did.
type EngineInstaller interface {
	EnsureEngine(ctx context.Context) (bool, error)
}

// GPUProber reports whether GPU passthrough can be requested.
type GPUProber interface {
	Available(ctx context.Context) bool
}

// PortChecker waits for a host port to be free.
type PortChecker interface {
	WaitFree(ctx context.Context, port int, timeout time.Duration) error
}

// ComposeRunner drives the compose stack.
type ComposeRunner interface {
	Down(ctx context.Context) error
	Build(ctx context.Context, noCache bool) error
	Up(ctx context.Context) error
}

// SourceSyncer updates the source tree from its remote.
type SourceSyncer interface {
	Pull(ctx context.Context, remote, branch string) (*gitsync.PullResult, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
