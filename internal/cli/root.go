// Package cli implements the cobra-based CLI commands for ojitoo-frames.
//
// Each subcommand (deploy, redeploy, status, logs, probe, serve) is defined
// in its own file within this package. This file defines the root command
// that serves as the parent for all subcommands and handles global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ojitoo/ojitoo-frames/internal/config"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// Progress output moves to stderr so stdout stays machine-readable.
	jsonOutput bool

	// verbose enables debug logging on stderr.
	verbose bool

	// configPath is the --config value. When the flag is not set the
	// default file in the working directory is used if it exists.
	configPath string

	// configExplicit records whether --config was given on the command line.
	configExplicit bool

	// sugar backs VerboseLog. It is a no-op logger until the root command's
	// PersistentPreRun builds the real one.
	sugar = zap.NewNop().Sugar()
)

// Version, Commit and Date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. It provides help
// text and global flags; the work is done by the subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ojitoo-frames",
		Short: "Deploy and run the ojitoo PPE frame-analysis service",
		Long: `ojitoo-frames builds, deploys and runs the frame-analysis service that
detects missing personal protective equipment in camera frames.

On a host it installs the container engine when needed, builds the service
image and (re)starts the single service container, with GPU passthrough
when the host has a usable GPU. Inside the container "serve" runs the HTTP
service itself.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// Errors are formatted by Execute (text or JSON based on --json).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configExplicit = cmd.Flags().Changed("config")
			sugar = newLogger(verbose).Sugar()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFileName,
		"Path to the deployment config file")

	rootCmd.AddCommand(NewDeployCommand())
	rootCmd.AddCommand(NewRedeployCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewLogsCommand())
	rootCmd.AddCommand(NewProbeCommand())
	rootCmd.AddCommand(NewServeCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError values anywhere in the error chain carry their own exit code;
// other errors exit with code 1.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	_ = sugar.Sync()
	if err == nil {
		return
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(cliErr.Message, cliErr.Err)
	} else {
		printError(err.Error(), nil)
	}
	os.Exit(int(model.ExitCodeOf(err)))
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag. Errors always go to
// stderr; stdout is reserved for successful command output.
func printError(message string, underlying error) {
	if jsonOutput {
		fmt.Fprintln(os.Stderr, formatErrorJSON(message, underlying))
		return
	}
	if underlying != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	}
}

func formatErrorJSON(message string, underlying error) string {
	errObj := map[string]interface{}{
		"message": message,
	}
	if underlying != nil {
		errObj["detail"] = underlying.Error()
	}
	data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
	return string(data)
}

// newLogger builds the CLI's stderr logger. Without --verbose only
// warnings and errors are shown.
func newLogger(verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core)
}

// Logger returns the CLI logger for handing to internal packages.
func Logger() *zap.Logger {
	return sugar.Desugar()
}

// VerboseLog prints a debug message to stderr when verbose mode is enabled.
func VerboseLog(format string, args ...interface{}) {
	sugar.Debugf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig reads the deployment config selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, configExplicit)
	if err != nil {
		return nil, err
	}
	VerboseLog("Loaded config from %s (explicit: %t)", configPath, configExplicit)
	return cfg, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to encode output", err)
	}
	fmt.Println(string(data))
	return nil
}

// progressOut is where commands print human-readable progress. In JSON
// mode it is stderr so stdout carries only the final document.
func progressOut() *os.File {
	if jsonOutput {
		return os.Stderr
	}
	return os.Stdout
}
