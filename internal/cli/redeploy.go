package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ojitoo/ojitoo-frames/internal/config"
	"github.com/ojitoo/ojitoo-frames/internal/deploy"
	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/gitsync"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

type redeployFlags struct {
	wait string
}

// NewRedeployCommand creates the "redeploy" subcommand.
func NewRedeployCommand() *cobra.Command {
	flags := &redeployFlags{}

	cmd := &cobra.Command{
		Use:   "redeploy",
		Short: "Pull the latest source and restart the compose stack",
		Long: `Update the checkout and rebuild the compose stack from scratch.

Runs, in order: git pull, compose down, compose build --no-cache,
compose up -d. After a fixed wait the service container is inspected
once. A running container prints its last 50 log lines and exits 0;
anything else prints the last 100 lines and exits 1.

Run it from the project checkout.

Examples:
  ojitoo-frames redeploy
  ojitoo-frames redeploy --wait 30s`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedeploy(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.wait, "wait", "",
		"Delay between starting the stack and the health check (default from config, 10s)")

	return cmd
}

func runRedeploy(ctx context.Context, flags *redeployFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyWaitFlag(cfg, flags.wait); err != nil {
		return err
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to determine working directory", err)
	}

	containerName, err := redeployTarget(cfg, projectDir)
	if err != nil {
		return err
	}
	VerboseLog("Health check target: %s", containerName)

	out := progressOut()
	r := &deploy.Redeployer{
		Config:        cfg,
		ContainerName: containerName,
		Git:           gitsync.NewSyncer(projectDir),
		Compose: &docker.Compose{
			ProjectDir: projectDir,
			File:       cfg.Compose.File,
			Stdout:     out,
			Stderr:     os.Stderr,
		},
		Connect: func() (deploy.Inspector, error) {
			return docker.NewClient()
		},
		Sleep:  deploy.Sleep,
		Out:    out,
		Logger: Logger(),
	}

	report, runErr := r.Run(ctx)
	if report != nil && IsJSONOutput() {
		if err := printJSON(report); err != nil {
			return err
		}
	}
	return runErr
}

// applyWaitFlag overrides the configured health-check delay.
func applyWaitFlag(cfg *config.Config, wait string) error {
	if wait == "" {
		return nil
	}
	d, err := parseDuration(wait)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid --wait value", err)
	}
	cfg.Redeploy.Wait = d
	return nil
}

// redeployTarget returns the container to health-check: the configured
// name when set, otherwise the name the compose file gives the service.
func redeployTarget(cfg *config.Config, projectDir string) (string, error) {
	if cfg.Compose.ContainerName != "" {
		return cfg.Compose.ContainerName, nil
	}
	return docker.ResolveContainerName(config.Resolve(projectDir, cfg.Compose.File), cfg.Compose.Service)
}
