package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ojitoo/ojitoo-frames/internal/config"
	"github.com/ojitoo/ojitoo-frames/internal/deploy"
	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/host"
	"github.com/ojitoo/ojitoo-frames/internal/model"
	"github.com/ojitoo/ojitoo-frames/internal/port"
)

// deployFlags holds the flag values for the deploy subcommand.
type deployFlags struct {
	// useEnv selects the env-aware variant with the config's envFile.
	useEnv bool

	// envFile selects the env-aware variant with an explicit file.
	envFile string

	noCache    bool
	gpuCommand string
}

// NewDeployCommand creates the "deploy" subcommand.
func NewDeployCommand() *cobra.Command {
	flags := &deployFlags{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build the service image and (re)start its container",
		Long: `Build the service image and replace the running service container.

The command must run as root. It installs the container engine when the
docker binary is missing, enables GPU passthrough when the GPU query
command succeeds, removes any previous container with the same name and
starts a new one with the model directory mounted.

With --env (or --env-file) the environment file must exist before
anything is installed or built, and its variables are passed into the
container.

Examples:
  sudo ojitoo-frames deploy
  sudo ojitoo-frames deploy --env
  sudo ojitoo-frames deploy --env-file /etc/ojitoo/frames.env --no-cache`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), flags, host.Privilege{})
		},
	}

	cmd.Flags().BoolVar(&flags.useEnv, "env", false,
		"Require the configured environment file and pass it into the container")
	cmd.Flags().StringVar(&flags.envFile, "env-file", "",
		"Environment file to require and pass into the container (implies --env)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Rebuild the image without layer cache")
	cmd.Flags().StringVar(&flags.gpuCommand, "gpu-command", "",
		"Override the GPU query command (e.g. \"nvidia-smi -L\")")

	return cmd
}

// envFileFor returns the env file selected by the flags, or "" for the
// plain variant.
func envFileFor(flags *deployFlags, cfg *config.Config) string {
	if flags.envFile != "" {
		return flags.envFile
	}
	if flags.useEnv {
		return cfg.EnvFile
	}
	return ""
}

// gpuCommandFor returns the GPU query command, preferring the flag.
func gpuCommandFor(flags *deployFlags, cfg *config.Config) []string {
	if cmd := strings.Fields(flags.gpuCommand); len(cmd) > 0 {
		return cmd
	}
	return cfg.GPUCommand
}

// runDeploy checks privileges before reading the config, so a non-root
// run always exits with the privilege error.
func runDeploy(ctx context.Context, flags *deployFlags, priv deploy.PrivilegeChecker) error {
	if err := priv.RequireRoot(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	baseDir, err := os.Getwd()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to determine working directory", err)
	}

	out := progressOut()
	d := &deploy.Deployer{
		Config: cfg,
		Options: deploy.Options{
			EnvFile: envFileFor(flags, cfg),
			NoCache: flags.noCache,
		},
		BaseDir:   baseDir,
		Privilege: priv,
		Installer: &host.Installer{
			ScriptURL: cfg.InstallScriptURL,
			Stdout:    out,
			Stderr:    os.Stderr,
		},
		GPU:   host.GPUProbe{Command: gpuCommandFor(flags, cfg)},
		Ports: port.NewScanner(),
		Connect: func() (deploy.Engine, error) {
			return docker.NewClient()
		},
		Out:    out,
		Logger: Logger(),
	}

	VerboseLog("Deploying %s as %s (env file: %q)", cfg.ImageRef(), cfg.ContainerName, d.Options.EnvFile)

	report, err := d.Run(ctx)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(report)
	}
	printDeployReportText(os.Stdout, report)
	return nil
}

// printDeployReportText prints the deploy summary after the progress
// output.
func printDeployReportText(w io.Writer, r *model.DeployReport) {
	fmt.Fprintf(w, "\n  Container: %s (%s)\n", r.ContainerName, shortID(r.ContainerID))
	fmt.Fprintf(w, "  Image:     %s\n", r.Image)
	fmt.Fprintf(w, "  Ports:     %d -> %d\n", r.HostPort, r.ContainerPort)
	fmt.Fprintf(w, "  GPU:       %s\n", yesNo(r.GPU))
	if r.EnvFile != "" {
		fmt.Fprintf(w, "  Env file:  %s\n", r.EnvFile)
	}
}

// shortID truncates a container ID the way `docker ps` does.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
