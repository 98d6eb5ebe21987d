package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

type logsFlags struct {
	tail int
}

// NewLogsCommand creates the "logs" subcommand.
func NewLogsCommand() *cobra.Command {
	flags := &logsFlags{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the last log lines of the service container",
		Long: `Print the last log lines of the service container, stdout and stderr
interleaved as the engine recorded them.

Examples:
  ojitoo-frames logs
  ojitoo-frames logs --tail 200`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd.Context(), flags)
		},
	}

	cmd.Flags().IntVar(&flags.tail, "tail", 50, "Number of lines to show")

	return cmd
}

func runLogs(ctx context.Context, flags *logsFlags) error {
	if flags.tail <= 0 {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid --tail value %d: must be positive", flags.tail))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	err = cli.TailLogs(ctx, cfg.ContainerName, flags.tail, os.Stdout)
	if errors.Is(err, docker.ErrContainerNotFound) {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("container %s not found", cfg.ContainerName))
	}
	return err
}
