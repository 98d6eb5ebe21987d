package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ojitoo/ojitoo-frames/internal/docker"
	"github.com/ojitoo/ojitoo-frames/internal/host"
	"github.com/ojitoo/ojitoo-frames/internal/port"
)

type probeFlags struct {
	gpuCommand string
}

// NewProbeCommand creates the "probe" subcommand.
func NewProbeCommand() *cobra.Command {
	flags := &probeFlags{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report what a deploy would find on this host",
		Long: `Run the deploy preconditions without changing anything.

Reports whether the process runs as root, whether the docker binary is
installed and its daemon reachable, whether the GPU query command
succeeds, whether the NVIDIA runtime is registered in the daemon config,
and whether the host port is free.

Examples:
  ojitoo-frames probe
  ojitoo-frames probe --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.gpuCommand, "gpu-command", "",
		"Override the GPU query command (e.g. \"nvidia-smi -L\")")

	return cmd
}

// probeReport is the outcome of every host check.
type probeReport struct {
	Root             bool              `json:"root"`
	DockerInstalled  bool              `json:"dockerInstalled"`
	DockerReachable  bool              `json:"dockerReachable"`
	GPU              bool              `json:"gpu"`
	GPUCommand       []string          `json:"gpuCommand"`
	Runtime          *host.RuntimeInfo `json:"runtime"`
	HostPort         int               `json:"hostPort"`
	HostPortFree     bool              `json:"hostPortFree"`
	ContainerRunning bool              `json:"containerRunning"`
}

func runProbe(ctx context.Context, flags *probeFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report := probeReport{
		Root:       host.Privilege{}.RequireRoot() == nil,
		GPUCommand: gpuCommandFor(&deployFlags{gpuCommand: flags.gpuCommand}, cfg),
		HostPort:   cfg.HostPort,
	}

	if _, err := exec.LookPath("docker"); err == nil {
		report.DockerInstalled = true
	}

	if cli, err := docker.NewClient(); err == nil {
		if err := cli.Ping(ctx); err == nil {
			report.DockerReachable = true
			if state, err := cli.InspectContainer(ctx, cfg.ContainerName); err == nil {
				report.ContainerRunning = state.Running
			}
		} else {
			VerboseLog("Docker ping failed: %v", err)
		}
		_ = cli.Close()
	} else {
		VerboseLog("Docker client unavailable: %v", err)
	}

	report.GPU = host.GPUProbe{Command: report.GPUCommand}.Available(ctx)

	runtime, err := host.ReadRuntimeInfo(host.DefaultDaemonConfig)
	if err != nil {
		VerboseLog("Cannot read daemon config: %v", err)
		runtime = &host.RuntimeInfo{}
	}
	report.Runtime = runtime

	report.HostPortFree = port.NewScanner().IsPortAvailable(cfg.HostPort, "tcp")

	if IsJSONOutput() {
		return printJSON(report)
	}
	printProbeText(os.Stdout, report)
	return nil
}

func printProbeText(w io.Writer, r probeReport) {
	check := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "missing"
	}

	fmt.Fprintf(w, "Root privileges:   %s\n", check(r.Root))
	fmt.Fprintf(w, "Docker installed:  %s\n", check(r.DockerInstalled))
	fmt.Fprintf(w, "Docker reachable:  %s\n", check(r.DockerReachable))
	fmt.Fprintf(w, "GPU (%s): %s\n", FormatCommand(r.GPUCommand), check(r.GPU))

	switch {
	case r.Runtime == nil || !r.Runtime.ConfigFound:
		fmt.Fprintf(w, "NVIDIA runtime:    %s not found\n", host.DefaultDaemonConfig)
	case r.Runtime.NvidiaRegistered:
		fmt.Fprintf(w, "NVIDIA runtime:    registered")
		if r.Runtime.DefaultRuntime != "" {
			fmt.Fprintf(w, " (default runtime: %s)", r.Runtime.DefaultRuntime)
		}
		fmt.Fprintln(w)
	default:
		fmt.Fprintln(w, "NVIDIA runtime:    not registered")
	}

	portState := "free"
	if !r.HostPortFree {
		portState = "in use"
		if r.ContainerRunning {
			portState = "in use (service container running)"
		}
	}
	fmt.Fprintf(w, "Host port %d:    %s\n", r.HostPort, portState)
}
