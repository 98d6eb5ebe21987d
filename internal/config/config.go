// Package config loads the deployment settings used by the deploy,
// redeploy, status and logs commands.
//
// Every setting has a built-in default so the commands work with no
// arguments: image and container "ojitoo-frames", port 8000, model
// directory ./model. An optional YAML file (ojitoo.yaml) overrides the defaults,
// and command-line flags override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// DefaultFileName is the config file looked up in the working directory
// when --config is not given.
const DefaultFileName = "ojitoo.yaml"

// Config holds every deployment setting.
type Config struct {
	// Image is the image repository name built by deploy.
	Image string `yaml:"image"`

	// Tag is the image tag. The full reference is Image:Tag.
	Tag string `yaml:"tag"`

	// ContainerName is the fixed name of the deployed container.
	ContainerName string `yaml:"containerName"`

	// ContainerPort is the port the service listens on inside the image.
	ContainerPort int `yaml:"containerPort"`

	// HostPort is the port published on the host.
	HostPort int `yaml:"hostPort"`

	// ContextDir is the image build context (source tree + manifest).
	ContextDir string `yaml:"contextDir"`

	// Dockerfile is the image definition, relative to ContextDir.
	Dockerfile string `yaml:"dockerfile"`

	// EnvFile is the environment file used by the env-aware deploy.
	EnvFile string `yaml:"envFile"`

	// ModelDir is the host directory mounted at ModelMount. It is created
	// empty when missing.
	ModelDir string `yaml:"modelDir"`

	// ModelMount is the mount target inside the container.
	ModelMount string `yaml:"modelMount"`

	// RestartPolicy is the engine restart policy for the container.
	RestartPolicy string `yaml:"restartPolicy"`

	// GPUCommand is the host command whose success means a GPU is usable.
	GPUCommand []string `yaml:"gpuCommand"`

	// InstallScriptURL is where the engine convenience install script is
	// downloaded from when the docker binary is missing.
	InstallScriptURL string `yaml:"installScriptURL"`

	Compose  ComposeConfig  `yaml:"compose"`
	Git      GitConfig      `yaml:"git"`
	Redeploy RedeployConfig `yaml:"redeploy"`
}

// ComposeConfig locates the compose stack used by redeploy.
type ComposeConfig struct {
	// File is the compose file, relative to the project directory.
	File string `yaml:"file"`

	// Service is the compose service whose container is health-checked.
	Service string `yaml:"service"`

	// ContainerName overrides the container to health-check. When empty
	// it is resolved from the compose file.
	ContainerName string `yaml:"containerName"`
}

// GitConfig selects what redeploy pulls.
type GitConfig struct {
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`
}

// RedeployConfig tunes the single post-start health check.
type RedeployConfig struct {
	// Wait is the fixed delay between "compose up" and the running check.
	Wait time.Duration `yaml:"wait"`

	// SuccessLogLines is how many log lines are printed when healthy.
	SuccessLogLines int `yaml:"successLogLines"`

	// FailureLogLines is how many log lines are printed when unhealthy.
	FailureLogLines int `yaml:"failureLogLines"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Image:            "ojitoo-frames",
		Tag:              "latest",
		ContainerName:    "ojitoo-frames",
		ContainerPort:    8000,
		HostPort:         8000,
		ContextDir:       ".",
		Dockerfile:       "Dockerfile",
		EnvFile:          ".env",
		ModelDir:         "model",
		ModelMount:       "/app/model",
		RestartPolicy:    "unless-stopped",
		GPUCommand:       []string{"nvidia-smi"},
		InstallScriptURL: "https://get.docker.com",
		Compose: ComposeConfig{
			File:    "docker-compose.yml",
			Service: "ojitoo-frames",
		},
		Git: GitConfig{
			Remote: "origin",
			Branch: "main",
		},
		Redeploy: RedeployConfig{
			Wait:            10 * time.Second,
			SuccessLogLines: 50,
			FailureLogLines: 100,
		},
	}
}

// ImageRef returns the full image reference (name:tag).
func (c *Config) ImageRef() string {
	if c.Tag == "" {
		return c.Image
	}
	return c.Image + ":" + c.Tag
}

// Load reads the YAML file at path on top of Default(). When explicit is
// false a missing file is not an error and the defaults are returned;
// this is how the implicit ./ojitoo.yaml lookup behaves.
//
// Returns a CLIError with ExitConfigInvalid for unreadable, malformed or
// invalid files.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	// KnownFields rejects typos such as "hostport" instead of silently
	// deploying with the default value.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("invalid config file %s", path), err)
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail deep inside a
// deploy, after side effects have already happened.
func (c *Config) Validate() error {
	if err := model.ValidateName(c.Image); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	if err := model.ValidateName(c.ContainerName); err != nil {
		return fmt.Errorf("containerName: %w", err)
	}
	if err := model.ValidatePort(c.ContainerPort); err != nil {
		return fmt.Errorf("containerPort: %w", err)
	}
	if err := model.ValidatePort(c.HostPort); err != nil {
		return fmt.Errorf("hostPort: %w", err)
	}
	if c.ModelMount != "" && !filepath.IsAbs(c.ModelMount) {
		return fmt.Errorf("modelMount: %q must be an absolute path", c.ModelMount)
	}
	if len(c.GPUCommand) == 0 {
		return fmt.Errorf("gpuCommand: must not be empty")
	}
	if c.Redeploy.Wait < 0 {
		return fmt.Errorf("redeploy.wait: must not be negative")
	}
	if c.Redeploy.SuccessLogLines < 0 || c.Redeploy.FailureLogLines < 0 {
		return fmt.Errorf("redeploy: log line counts must not be negative")
	}
	if c.Compose.Service == "" && c.Compose.ContainerName == "" {
		return fmt.Errorf("compose: either service or containerName is required")
	}
	return nil
}

// Resolve returns p made absolute against base when it is relative.
func Resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
