// compose.go drives `docker compose` for the redeploy command.
//
// Compose has no stable Go API, so the plugin is run as a child process
// in the project directory, exactly as an operator would run it. Output
// is streamed to the caller's writers rather than captured, because a
// no-cache build can take minutes and the operator wants to see it.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// Compose runs docker compose subcommands against one compose file.
type Compose struct {
	// ProjectDir is the working directory; relative paths in the compose
	// file resolve against it.
	ProjectDir string

	// File is the compose file path, relative to ProjectDir or absolute.
	// Empty means compose's own default lookup.
	File string

	// Stdout and Stderr receive the child process output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Down stops and removes the project's containers and networks.
func (c *Compose) Down(ctx context.Context) error {
	return c.run(ctx, model.ExitDockerNotRunning, "down")
}

// Build rebuilds the project's images. With noCache every layer is rebuilt.
func (c *Compose) Build(ctx context.Context, noCache bool) error {
	args := []string{"build"}
	if noCache {
		args = append(args, "--no-cache")
	}
	return c.run(ctx, model.ExitBuildFailed, args...)
}

// Up creates and starts the project's containers in the background.
func (c *Compose) Up(ctx context.Context) error {
	return c.run(ctx, model.ExitDockerNotRunning, "up", "-d")
}

// args returns the full docker argument list for a compose subcommand.
func (c *Compose) args(sub ...string) []string {
	args := make([]string, 0, len(sub)+3)
	args = append(args, "compose")
	if c.File != "" {
		args = append(args, "-f", c.File)
	}
	return append(args, sub...)
}

// run executes `docker compose <sub...>`. A failure is returned as a
// CLIError with the given code; the tail of stderr is included in the
// message so it survives when Stderr is discarded.
func (c *Compose) run(ctx context.Context, code model.ExitCode, sub ...string) error {
	args := c.args(sub...)

	// #nosec G204 -- args are constructed internally
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = c.ProjectDir

	var stderr bytes.Buffer
	cmd.Stdout = writerOrDiscard(c.Stdout)
	cmd.Stderr = io.MultiWriter(writerOrDiscard(c.Stderr), &stderr)

	if err := cmd.Run(); err != nil {
		message := fmt.Sprintf("docker %s failed", strings.Join(args, " "))
		if tail := lastLine(stderr.String()); tail != "" {
			message = fmt.Sprintf("%s: %s", message, tail)
		}
		return model.WrapCLIError(code, message, err)
	}
	return nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// lastLine returns the last non-empty line of s, trimmed.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// composeFile is the subset of the compose schema needed to find the
// container a service runs as.
type composeFile struct {
	Services map[string]struct {
		ContainerName string `yaml:"container_name"`
	} `yaml:"services"`
}

// ResolveContainerName returns the container name of service in the
// compose file at path: its container_name when set, otherwise the
// service name itself.
//
// Compose would name an unnamed service's container
// "<project>-<service>-1"; deployments are expected to pin
// container_name so the health check can find it by a fixed name.
func ResolveContainerName(path, service string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", model.NewCLIError(model.ExitConfigInvalid,
				fmt.Sprintf("compose file %s not found", path))
		}
		return "", model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("failed to read compose file %s", path), err)
	}

	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return "", model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("failed to parse compose file %s", filepath.Base(path)), err)
	}

	svc, ok := cf.Services[service]
	if !ok {
		return "", model.NewCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("service %q not defined in %s", service, filepath.Base(path)))
	}
	if svc.ContainerName != "" {
		return svc.ContainerName, nil
	}
	return service, nil
}
