package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ojitoo/ojitoo-frames/internal/config"
	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// defaultPortWait bounds how long the host port may stay busy after the
// previous container was removed.
const defaultPortWait = 5 * time.Second

// Options are the per-invocation deploy switches.
type Options struct {
	// EnvFile selects the env-aware variant when non-empty: the file must
	// exist before anything is installed or built, and its variables are
	// passed into the container.
	EnvFile string

	// NoCache rebuilds every image layer.
	NoCache bool
}

// Deployer builds the image and (re)starts the single service container.
type Deployer struct {
	Config  *config.Config
	Options Options

	// BaseDir is the absolute directory relative config paths resolve
	// against (the project checkout).
	BaseDir string

	Privilege PrivilegeChecker
	Installer EngineInstaller
	GPU       GPUProber
	Ports     PortChecker

	// Connect opens the engine. It is called only after the installer
	// ran, since the engine may not exist before that.
	Connect func() (Engine, error)

	// MkdirAll creates the model directory. Defaults to os.MkdirAll.
	MkdirAll func(path string, perm os.FileMode) error

	// Now stamps the deploy labels. Defaults to time.Now.
	Now func() time.Time

	// PortWait bounds the host-port preflight. Defaults to five seconds.
	PortWait time.Duration

	// Out receives progress messages and build output.
	Out io.Writer

	Logger *zap.Logger
}

// Run executes the deploy. The steps and their order are fixed:
//
//  1. privilege check
//  2. env-file check (env-aware variant)
//  3. engine install when missing, then ping
//  4. GPU probe
//  5. image build
//  6. removal of the previous container (a missing one is fine)
//  7. model directory creation
//  8. host-port preflight
//  9. container start
//
// A privilege failure returns before any other dependency is touched.
func (d *Deployer) Run(ctx context.Context) (*model.DeployReport, error) {
	log := d.logger()
	cfg := d.Config

	if err := d.Privilege.RequireRoot(); err != nil {
		return nil, err
	}

	var env []string
	if d.Options.EnvFile != "" {
		envPath := config.Resolve(d.BaseDir, d.Options.EnvFile)
		if !config.EnvFileExists(envPath) {
			return nil, model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("Environment file %s not found", d.Options.EnvFile))
		}
		var err error
		if env, err = config.ReadEnvFile(envPath); err != nil {
			return nil, err
		}
		log.Debug("loaded environment file", zap.String("path", envPath), zap.Int("vars", len(env)))
	}

	installed, err := d.Installer.EnsureEngine(ctx)
	if err != nil {
		return nil, err
	}
	if installed {
		d.printf("Docker installed and enabled.\n")
	}

	engine, err := d.Connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = engine.Close() }()

	if err := engine.Ping(ctx); err != nil {
		return nil, err
	}

	gpu := d.GPU.Available(ctx)
	if gpu {
		d.printf("GPU detected, enabling GPU passthrough.\n")
	} else {
		d.printf("No GPU detected, running on CPU.\n")
	}
	log.Debug("gpu probe finished", zap.Bool("gpu", gpu))

	imageRef := cfg.ImageRef()
	d.printf("Building image %s...\n", imageRef)
	if err := engine.BuildImage(ctx, docker.BuildOptions{
		ContextDir: config.Resolve(d.BaseDir, cfg.ContextDir),
		Dockerfile: cfg.Dockerfile,
		Tag:        imageRef,
		NoCache:    d.Options.NoCache,
	}, d.out()); err != nil {
		return nil, err
	}

	replaced, err := engine.RemoveContainer(ctx, cfg.ContainerName)
	if err != nil {
		// Same as `docker rm -f ... || true`: a stuck old container is
		// surfaced by the port preflight or the create call instead.
		log.Warn("failed to remove previous container",
			zap.String("container", cfg.ContainerName), zap.Error(err))
	} else if replaced {
		d.printf("Removed previous container %s.\n", cfg.ContainerName)
	}

	modelDir := config.Resolve(d.BaseDir, cfg.ModelDir)
	if err := d.mkdirAll(modelDir, 0o755); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to create model directory %s", modelDir), err)
	}

	if err := d.Ports.WaitFree(ctx, cfg.HostPort, d.portWait()); err != nil {
		return nil, err
	}

	spec := &model.RunSpec{
		Image:         imageRef,
		ContainerName: cfg.ContainerName,
		ContainerPort: cfg.ContainerPort,
		HostPort:      cfg.HostPort,
		Env:           env,
		Mounts:        []model.Mount{{Source: modelDir, Target: cfg.ModelMount}},
		GPU:           gpu,
		RestartPolicy: cfg.RestartPolicy,
		Labels: docker.BuildLabels(docker.DeployInfo{
			GPU:        gpu,
			EnvFile:    d.Options.EnvFile,
			HostPort:   cfg.HostPort,
			DeployedAt: d.now(),
		}),
	}

	d.printf("Starting container %s (%s)...\n", spec.ContainerName, spec.PortBinding())
	id, err := engine.RunContainer(ctx, spec)
	if err != nil {
		return nil, err
	}
	log.Info("container started",
		zap.String("container", spec.ContainerName),
		zap.String("id", id),
		zap.Bool("gpu", gpu))

	report := &model.DeployReport{
		Image:            imageRef,
		ContainerName:    spec.ContainerName,
		ContainerID:      id,
		HostPort:         spec.HostPort,
		ContainerPort:    spec.ContainerPort,
		GPU:              gpu,
		EnvFile:          d.Options.EnvFile,
		ReplacedPrevious: replaced,
		EngineInstalled:  installed,
	}
	d.printf("Deployment complete! Service running at %s\n", report.URL())
	return report, nil
}

func (d *Deployer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(d.out(), format, args...)
}

func (d *Deployer) out() io.Writer {
	if d.Out == nil {
		return io.Discard
	}
	return d.Out
}

func (d *Deployer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Deployer) mkdirAll(path string, perm os.FileMode) error {
	if d.MkdirAll != nil {
		return d.MkdirAll(path, perm)
	}
	return os.MkdirAll(path, perm)
}

func (d *Deployer) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deployer) portWait() time.Duration {
	if d.PortWait > 0 {
		return d.PortWait
	}
	return defaultPortWait
}
