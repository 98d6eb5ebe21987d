package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/tidwall/jsonc"
)

// DefaultDaemonConfig is where the engine reads its daemon settings on Linux.
const DefaultDaemonConfig = "/etc/docker/daemon.json"

// CommandRunner runs a command to completion and returns its error.
// A nil error means exit status 0.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// runQuiet runs a command with its output discarded.
func runQuiet(ctx context.Context, name string, args ...string) error {
	// #nosec G204 -- the probe command comes from the operator's config
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Run()
}

// GPUProbe decides whether GPU passthrough should be requested.
type GPUProbe struct {
	// Command is the query command and its arguments, e.g. ["nvidia-smi"].
	Command []string

	// Run executes Command. Defaults to running it with output discarded.
	Run CommandRunner
}

// Available reports whether the query command exits 0. Any failure,
// including the command not being installed, means no GPU.
func (p GPUProbe) Available(ctx context.Context) bool {
	if len(p.Command) == 0 {
		return false
	}
	run := p.Run
	if run == nil {
		run = runQuiet
	}
	return run(ctx, p.Command[0], p.Command[1:]...) == nil
}

// RuntimeInfo is what the daemon config says about the NVIDIA runtime.
type RuntimeInfo struct {
	// ConfigFound is false when the daemon config file does not exist.
	ConfigFound bool `json:"configFound"`

	// NvidiaRegistered is true when "runtimes" has an "nvidia" entry.
	NvidiaRegistered bool `json:"nvidiaRegistered"`

	// DefaultRuntime is the "default-runtime" value, if any.
	DefaultRuntime string `json:"defaultRuntime,omitempty"`
}

// daemonConfig is the subset of daemon.json read by ReadRuntimeInfo.
type daemonConfig struct {
	DefaultRuntime string                     `json:"default-runtime"`
	Runtimes       map[string]json.RawMessage `json:"runtimes"`
}

// ReadRuntimeInfo parses the engine daemon config at path. The file is
// often hand-edited, so comments and trailing commas are accepted.
//
// GPU passthrough via device requests needs the NVIDIA container toolkit
// registered as a runtime; the probe command reports this alongside the
// nvidia-smi result so a missing toolkit is visible before a deploy.
func ReadRuntimeInfo(path string) (*RuntimeInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &RuntimeInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg daemonConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	_, nvidia := cfg.Runtimes["nvidia"]
	return &RuntimeInfo{
		ConfigFound:      true,
		NvidiaRegistered: nvidia,
		DefaultRuntime:   cfg.DefaultRuntime,
	}, nil
}
