package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ContainerState is a snapshot of a single container as reported by the
// engine's inspect endpoint. It is never persisted; every command that
// needs it asks the engine again.
type ContainerState struct {
	// ID is the full container ID.
	ID string `json:"id"`

	// Name is the container name without the leading "/" the engine adds.
	Name string `json:"name"`

	// Image is the image reference the container was created from.
	Image string `json:"image"`

	// Running mirrors the engine's State.Running flag. This is the only
	// field the redeploy health check looks at.
	Running bool `json:"running"`

	// Status is the engine's short status string ("running", "exited",
	// "created", "restarting", ...).
	Status string `json:"status"`

	// ExitCode is the exit status of the last run. Only meaningful when
	// Running is false.
	ExitCode int `json:"exitCode"`

	// StartedAt is the time the container was last started. Zero if it
	// has never started.
	StartedAt time.Time `json:"startedAt,omitempty"`

	// Labels is the full set of labels on the container, including the
	// ojitoo.* management labels.
	Labels map[string]string `json:"labels,omitempty"`
}

// Mount is a host directory bind-mounted into the container.
type Mount struct {
	// Source is the absolute path on the host.
	Source string `json:"source"`

	// Target is the absolute path inside the container.
	Target string `json:"target"`

	// ReadOnly mounts the directory read-only.
	ReadOnly bool `json:"readOnly,omitempty"`
}

// RunSpec describes the single container a deploy starts. It is built by
// the deployer from configuration plus the results of the host probes,
// and translated into engine API structs by the docker package.
type RunSpec struct {
	// Image is the image reference to run (e.g., "ojitoo-frames:latest").
	Image string `json:"image"`

	// ContainerName is the fixed name of the container. Deploys rely on
	// this name being stable to find and remove the previous instance.
	ContainerName string `json:"containerName"`

	// ContainerPort is the port the service listens on inside the image.
	ContainerPort int `json:"containerPort"`

	// HostPort is the port published on the host.
	HostPort int `json:"hostPort"`

	// Env holds KEY=VALUE pairs passed into the container. Populated from
	// the environment file in the env-aware variant; empty otherwise.
	Env []string `json:"env,omitempty"`

	// Mounts lists bind mounts (the model artifact directory).
	Mounts []Mount `json:"mounts,omitempty"`

	// GPU requests passthrough of all host GPUs.
	GPU bool `json:"gpu"`

	// RestartPolicy is the engine restart policy name ("unless-stopped").
	RestartPolicy string `json:"restartPolicy,omitempty"`

	// Labels are attached to the created container.
	Labels map[string]string `json:"labels,omitempty"`
}

// PortBinding returns the "hostPort:containerPort" form used in messages.
func (s *RunSpec) PortBinding() string {
	return strconv.Itoa(s.HostPort) + ":" + strconv.Itoa(s.ContainerPort)
}

// Validate checks the fields the engine would otherwise reject with a
// less readable error.
func (s *RunSpec) Validate() error {
	if s.Image == "" {
		return fmt.Errorf("run spec: image must not be empty")
	}
	if err := ValidateName(s.ContainerName); err != nil {
		return fmt.Errorf("run spec: %w", err)
	}
	if err := ValidatePort(s.ContainerPort); err != nil {
		return fmt.Errorf("run spec: container %w", err)
	}
	if err := ValidatePort(s.HostPort); err != nil {
		return fmt.Errorf("run spec: host %w", err)
	}
	for _, m := range s.Mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("run spec: mount %q -> %q must have both source and target", m.Source, m.Target)
		}
	}
	return nil
}

// DeployReport summarises a finished deploy for text or JSON output.
type DeployReport struct {
	Image         string `json:"image"`
	ContainerName string `json:"containerName"`
	ContainerID   string `json:"containerId"`
	HostPort      int    `json:"hostPort"`
	ContainerPort int    `json:"containerPort"`
	GPU           bool   `json:"gpu"`
	EnvFile       string `json:"envFile,omitempty"`

	// ReplacedPrevious is true when a same-named container existed and
	// was removed before the new one started.
	ReplacedPrevious bool `json:"replacedPrevious"`

	// EngineInstalled is true when the deploy had to install the engine.
	EngineInstalled bool `json:"engineInstalled"`
}

// URL returns the local address of the deployed service.
func (r *DeployReport) URL() string {
	return fmt.Sprintf("http://localhost:%d", r.HostPort)
}

// RedeployReport summarises a finished redeploy.
type RedeployReport struct {
	ContainerName string `json:"containerName"`
	Healthy       bool   `json:"healthy"`
	Status        string `json:"status"`

	// LogLines is the number of log lines requested from the container:
	// 50 on success, 100 on failure.
	LogLines int `json:"logLines"`
}

// nameRegex mirrors the engine's own rule for container and image names.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateName checks a container or image name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid name %q: must start with an alphanumeric character and contain only [a-zA-Z0-9_.-]", name)
	}
	return nil
}

// ValidatePort checks that p is a usable TCP port number.
func ValidatePort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", p)
	}
	return nil
}

// ExitCode defines the process exit codes of the CLI. Privilege, env-file
// and health-check failures use 1; the other codes give each kind of
// aborted step a stable, non-zero identity.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError covers the explicit "exit 1" cases: missing root
	// privilege, missing environment file, failed post-redeploy health
	// check, and any error without a more specific code.
	ExitGeneralError ExitCode = 1

	// ExitConfigInvalid indicates the config file could not be read or
	// failed validation.
	ExitConfigInvalid ExitCode = 2

	// ExitDockerNotRunning indicates the engine daemon is not accessible
	// or an engine API call failed.
	ExitDockerNotRunning ExitCode = 3

	// ExitBuildFailed indicates an image or compose build failed.
	ExitBuildFailed ExitCode = 4

	// ExitGitError indicates synchronizing source from the remote failed.
	ExitGitError ExitCode = 5

	// ExitInstallFailed indicates installing the container engine failed.
	ExitInstallFailed ExitCode = 6

	// ExitPortInUse indicates the host port was still bound after the
	// previous container was removed.
	ExitPortInUse ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// ExitCodeOf returns the exit code carried by the first CLIError in err's
// chain, ExitSuccess for a nil error, and ExitGeneralError otherwise.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitGeneralError
}
