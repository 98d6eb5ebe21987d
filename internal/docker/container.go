// container.go implements the single-container lifecycle used by the
// deploy command: tear down the previous instance, create and start the
// new one, and inspect or tail it afterwards.
//
// Containers are always addressed by name. The deploy contract is "one
// container with the configured name", so the name is the identity and
// IDs are only reported, never stored.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// ErrContainerNotFound is returned by InspectContainer when no container
// with the requested name exists.
var ErrContainerNotFound = errors.New("container not found")

// RemoveContainer force-removes the container called name, killing it
// first when it is running. It reports whether a container was removed.
//
// A missing container is not an error: tearing down something that does
// not exist is the expected first-run case.
func (c *Client) RemoveContainer(ctx context.Context, name string) (bool, error) {
	err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true, // anonymous volumes only; the model dir is a bind mount
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", name),
			err,
		)
	}
	return true, nil
}

// RunContainer creates and starts a container from spec and returns its ID.
// It is the SDK equivalent of:
//
//	docker run -d --name <name> -p <host>:<port> --restart <policy> \
//	    [--gpus all] [--env-file <file>] -v <model>:/app/model <image>
func (c *Client) RunContainer(ctx context.Context, spec *model.RunSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError, "invalid container spec", err)
	}

	cfg, hostCfg, err := buildContainerConfig(spec)
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError, "invalid container spec", err)
	}

	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.ContainerName)
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create container %q", spec.ContainerName),
			err,
		)
	}

	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start container %q", spec.ContainerName),
			err,
		)
	}
	return created.ID, nil
}

// buildContainerConfig translates a RunSpec into the engine's create
// request structs. It is a pure function so the flag mapping (ports, GPU,
// mounts, restart policy) can be tested without an engine.
func buildContainerConfig(spec *model.RunSpec) (*container.Config, *container.HostConfig, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return nil, nil, fmt.Errorf("container port %d: %w", spec.ContainerPort, err)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       spec.Labels,
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
		},
	}

	if spec.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		}
	}

	for _, m := range spec.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	// Count -1 with the "gpu" capability is what `--gpus all` sends.
	if spec.GPU {
		hostCfg.DeviceRequests = []container.DeviceRequest{{
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	return cfg, hostCfg, nil
}

// InspectContainer returns the current state of the container called
// name, or ErrContainerNotFound.
func (c *Client) InspectContainer(ctx context.Context, name string) (*model.ContainerState, error) {
	resp, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to inspect container %q", name),
			err,
		)
	}
	return stateFromInspect(resp), nil
}

// stateFromInspect maps an inspect response to the domain model.
func stateFromInspect(resp container.InspectResponse) *model.ContainerState {
	state := &model.ContainerState{}
	if resp.ContainerJSONBase != nil {
		state.ID = resp.ID
		// The engine reports names with a leading "/".
		state.Name = strings.TrimPrefix(resp.Name, "/")
		if resp.State != nil {
			state.Running = resp.State.Running
			state.Status = string(resp.State.Status)
			state.ExitCode = resp.State.ExitCode
			if started, err := time.Parse(time.RFC3339Nano, resp.State.StartedAt); err == nil && started.Year() > 1 {
				state.StartedAt = started
			}
		}
	}
	if resp.Config != nil {
		state.Image = resp.Config.Image
		state.Labels = resp.Config.Labels
	}
	return state
}

// TailLogs writes the last lines of the container's stdout and stderr to w.
// Non-TTY containers multiplex both streams in one framed body, which is
// demultiplexed here so the output reads like `docker logs --tail`.
func (c *Client) TailLogs(ctx context.Context, name string, lines int, w io.Writer) error {
	resp, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to inspect container %q", name), err)
	}
	tty := resp.Config != nil && resp.Config.Tty

	rc, err := c.inner.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to read logs of container %q", name), err)
	}
	defer func() { _ = rc.Close() }()

	return copyLogs(w, rc, tty)
}

// copyLogs copies a log body to w, demultiplexing it unless tty is set.
func copyLogs(w io.Writer, body io.Reader, tty bool) error {
	var err error
	if tty {
		_, err = io.Copy(w, body)
	} else {
		_, err = stdcopy.StdCopy(w, w, body)
	}
	if err != nil {
		return fmt.Errorf("failed to copy container logs: %w", err)
	}
	return nil
}

// ListManagedContainers returns every container (running or not) that
// carries the ojitoo.managed-by label.
func (c *Client) ListManagedContainers(ctx context.Context) ([]model.ContainerState, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManagedBy+"="+ManagedByValue)),
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "failed to list Docker containers", err)
	}

	result := make([]model.ContainerState, 0, len(containers))
	for _, s := range containers {
		result = append(result, stateFromSummary(s))
	}
	return result, nil
}

// stateFromSummary maps a list entry to the domain model.
func stateFromSummary(s container.Summary) model.ContainerState {
	name := ""
	if len(s.Names) > 0 {
		name = strings.TrimPrefix(s.Names[0], "/")
	}
	return model.ContainerState{
		ID:      s.ID,
		Name:    name,
		Image:   s.Image,
		Running: string(s.State) == "running",
		Status:  string(s.State),
		Labels:  s.Labels,
	}
}
