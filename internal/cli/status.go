package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

type statusFlags struct {
	all bool
}

// NewStatusCommand creates the "status" subcommand.
func NewStatusCommand() *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the service container",
		Long: `Show whether the service container is running and how it was deployed.

The deploy metadata (GPU passthrough, environment file, host port and
deploy time) is read back from the labels the deploy command attached.
With --all every container started by ojitoo-frames is listed.

Examples:
  ojitoo-frames status
  ojitoo-frames status --all
  ojitoo-frames status --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.all, "all", false, "List every managed container")

	return cmd
}

// statusJSON is the --json shape of one container.
type statusJSON struct {
	Name       string     `json:"name"`
	ID         string     `json:"id"`
	Image      string     `json:"image"`
	Running    bool       `json:"running"`
	Status     string     `json:"status"`
	ExitCode   int        `json:"exitCode,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	GPU        *bool      `json:"gpu,omitempty"`
	EnvFile    string     `json:"envFile,omitempty"`
	HostPort   int        `json:"hostPort,omitempty"`
	DeployedAt *time.Time `json:"deployedAt,omitempty"`
}

func runStatus(ctx context.Context, flags *statusFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if flags.all {
		states, err := cli.ListManagedContainers(ctx)
		if err != nil {
			return err
		}
		VerboseLog("Found %d managed containers", len(states))
		sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })

		if IsJSONOutput() {
			out := struct {
				Containers []statusJSON `json:"containers"`
			}{Containers: make([]statusJSON, 0, len(states))}
			for i := range states {
				out.Containers = append(out.Containers, describeContainer(&states[i]))
			}
			return printJSON(out)
		}
		printStatusTable(os.Stdout, states)
		return nil
	}

	state, err := cli.InspectContainer(ctx, cfg.ContainerName)
	if errors.Is(err, docker.ErrContainerNotFound) {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("container %s not found; run \"ojitoo-frames deploy\" first", cfg.ContainerName))
	}
	if err != nil {
		return err
	}

	desc := describeContainer(state)
	if IsJSONOutput() {
		return printJSON(desc)
	}
	printStatusText(os.Stdout, desc, time.Now())
	return nil
}

// describeContainer merges the engine state with the deploy labels.
// Containers without valid labels (started by hand) keep only the
// engine fields.
func describeContainer(state *model.ContainerState) statusJSON {
	desc := statusJSON{
		Name:     state.Name,
		ID:       state.ID,
		Image:    state.Image,
		Running:  state.Running,
		Status:   state.Status,
		ExitCode: state.ExitCode,
	}
	if !state.StartedAt.IsZero() {
		started := state.StartedAt
		desc.StartedAt = &started
	}

	info, err := docker.ParseLabels(state.Labels)
	if err != nil {
		VerboseLog("Container %s has no deploy labels: %v", state.Name, err)
		return desc
	}
	gpu := info.GPU
	desc.GPU = &gpu
	desc.EnvFile = info.EnvFile
	desc.HostPort = info.HostPort
	deployed := info.DeployedAt
	desc.DeployedAt = &deployed
	return desc
}

func printStatusText(w io.Writer, d statusJSON, now time.Time) {
	fmt.Fprintf(w, "Container: %s (%s)\n", d.Name, shortID(d.ID))
	fmt.Fprintf(w, "Image:     %s\n", d.Image)
	fmt.Fprintf(w, "Status:    %s\n", FormatStatus(d.Status, d.Running, d.ExitCode))
	if d.Running && d.StartedAt != nil {
		fmt.Fprintf(w, "Uptime:    %s\n", FormatUptime(now.Sub(*d.StartedAt)))
	}
	if d.HostPort != 0 {
		fmt.Fprintf(w, "URL:       http://localhost:%d\n", d.HostPort)
	}
	if d.GPU != nil {
		fmt.Fprintf(w, "GPU:       %s\n", yesNo(*d.GPU))
	}
	if d.EnvFile != "" {
		fmt.Fprintf(w, "Env file:  %s\n", d.EnvFile)
	}
	if d.DeployedAt != nil {
		fmt.Fprintf(w, "Deployed:  %s\n", d.DeployedAt.Local().Format(time.RFC3339))
	}
}

func printStatusTable(w io.Writer, states []model.ContainerState) {
	if len(states) == 0 {
		fmt.Fprintln(w, "No managed containers found.")
		return
	}

	fmt.Fprintf(w, "%-24s %-14s %-30s %s\n", "NAME", "ID", "IMAGE", "STATUS")
	for _, s := range states {
		fmt.Fprintf(w, "%-24s %-14s %-30s %s\n",
			s.Name,
			shortID(s.ID),
			s.Image,
			FormatStatus(s.Status, s.Running, s.ExitCode),
		)
	}
}

// FormatStatus renders the engine status for humans, adding the exit
// code for stopped containers.
//
//	("running", true, 0)  → "running"
//	("exited", false, 137) → "exited (137)"
func FormatStatus(status string, running bool, exitCode int) string {
	if status == "" {
		status = "unknown"
	}
	if running || status == "created" {
		return status
	}
	return fmt.Sprintf("%s (%d)", status, exitCode)
}

// FormatUptime renders d with at most two units, e.g. "3d 4h", "2h 5m",
// "42s".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)

	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
