package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ojitoo/ojitoo-frames/internal/frames"
	"github.com/ojitoo/ojitoo-frames/internal/model"
)

type serveFlags struct {
	envFile string
	listen  string
}

// NewServeCommand creates the "serve" subcommand, the container's start
// command.
func NewServeCommand() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the frame analysis HTTP service",
		Long: `Run the frame analysis HTTP service in the foreground.

Settings come from the environment (DETECTOR, MODEL_PATH, MODEL_CLASSES,
MODEL_INPUT_SIZE, ONNXRUNTIME_LIB, ONNX_CUDA, DETECTOR_URL,
OJITOO_BASE_URL, AUTHORIZATION_TOKEN, YOLO_CONFIDENCE_THRESHOLD,
ALERT_COOLDOWN_SECONDS, LISTEN_ADDR), after the optional env file has been
loaded. By default the ONNX model is run in-process. SIGINT and SIGTERM
shut the server down gracefully.

Examples:
  ojitoo-frames serve
  ojitoo-frames serve --listen :9090 --env-file /run/secrets/frames.env`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.envFile, "env-file", ".env", "Environment file loaded before reading settings")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "Listen address (overrides LISTEN_ADDR)")

	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	settings, err := frames.LoadSettings(flags.envFile)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "invalid service settings", err)
	}
	if flags.listen != "" {
		settings.ListenAddress = flags.listen
	}

	logger, err := newServiceLogger(verbose)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to initialize logger", err)
	}
	defer func() { _ = logger.Sync() }()

	if settings.BaseURL == "" {
		logger.Warn("OJITOO_BASE_URL is not set, alerts will fail")
	}
	logger.Info("frame service configured",
		zap.String("detector", settings.Detector),
		zap.String("detector_url", settings.DetectorURL),
		zap.String("model_path", settings.ModelPath),
		zap.Float64("confidence_threshold", settings.ConfidenceThreshold),
		zap.Duration("alert_cooldown", settings.AlertCooldown))

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := frames.NewService(settings, logger)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "failed to load detector", err)
	}
	defer func() { _ = svc.Close() }()

	srv := frames.NewServer(svc, logger)
	if err := srv.ListenAndServe(ctx, settings.ListenAddress); err != nil {
		return model.WrapCLIError(model.ExitPortInUse,
			"frame service stopped with an error", err)
	}
	return nil
}

// newServiceLogger builds the JSON logger used by the service, at debug
// level with --verbose.
func newServiceLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
