package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ojitoo/ojitoo-frames/internal/config"
	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// Messages printed by the redeploy health check.
const (
	SuccessMessage = "✅ Deployment successful"
	FailureMessage = "❌ Deployment failed"
)

// Redeployer updates the source and restarts the compose stack.
type Redeployer struct {
	Config *config.Config

	// ContainerName is the container health-checked after "up".
	ContainerName string

	Git     SourceSyncer
	Compose ComposeRunner

	// Connect opens the engine for the health check.
	Connect func() (Inspector, error)

	// Sleep waits between "up" and the check. Defaults to Sleep.
	Sleep SleepFunc

	Out    io.Writer
	Logger *zap.Logger
}

// Run executes the redeploy:
//
//  1. git pull
//  2. compose down (failure tolerated)
//  3. compose build --no-cache
//  4. compose up -d
//  5. one fixed wait
//  6. a single running-state check of the target container
//
// The report is returned in both outcomes. An unhealthy container yields
// an ExitGeneralError after its logs were printed.
func (r *Redeployer) Run(ctx context.Context) (*model.RedeployReport, error) {
	log := r.logger()
	cfg := r.Config

	r.printf("Pulling latest changes from %s/%s...\n", cfg.Git.Remote, cfg.Git.Branch)
	pulled, err := r.Git.Pull(ctx, cfg.Git.Remote, cfg.Git.Branch)
	if err != nil {
		return nil, err
	}
	log.Info("source updated",
		zap.String("before", pulled.Before),
		zap.String("after", pulled.After),
		zap.Bool("changed", pulled.Updated()))

	r.printf("Stopping current stack...\n")
	if err := r.Compose.Down(ctx); err != nil {
		log.Warn("compose down failed, continuing", zap.Error(err))
	}

	r.printf("Rebuilding images without cache...\n")
	if err := r.Compose.Build(ctx, true); err != nil {
		return nil, err
	}

	r.printf("Starting stack...\n")
	if err := r.Compose.Up(ctx); err != nil {
		return nil, err
	}

	wait := cfg.Redeploy.Wait
	r.printf("Waiting %s for %s to start...\n", wait, r.ContainerName)
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if err := sleep(ctx, wait); err != nil {
		return nil, err
	}

	return r.check(ctx)
}

// check performs the single post-start inspection and prints the outcome.
func (r *Redeployer) check(ctx context.Context) (*model.RedeployReport, error) {
	log := r.logger()
	cfg := r.Config

	engine, err := r.Connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = engine.Close() }()

	report := &model.RedeployReport{ContainerName: r.ContainerName}

	state, err := engine.InspectContainer(ctx, r.ContainerName)
	switch {
	case errors.Is(err, docker.ErrContainerNotFound):
		report.Status = "missing"
	case err != nil:
		return nil, err
	default:
		report.Status = state.Status
		report.Healthy = state.Running
	}

	if report.Healthy {
		report.LogLines = cfg.Redeploy.SuccessLogLines
		r.printf("%s\n", SuccessMessage)
	} else {
		report.LogLines = cfg.Redeploy.FailureLogLines
		r.printf("%s\n", FailureMessage)
	}

	if state != nil && report.LogLines > 0 {
		if err := engine.TailLogs(ctx, r.ContainerName, report.LogLines, r.out()); err != nil {
			log.Warn("failed to read container logs", zap.String("container", r.ContainerName), zap.Error(err))
		}
	}

	if !report.Healthy {
		return report, model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("container %s is not running (status: %s)", r.ContainerName, report.Status))
	}
	return report, nil
}

func (r *Redeployer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out(), format, args...)
}

func (r *Redeployer) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}

func (r *Redeployer) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
